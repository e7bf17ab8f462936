package shmpipe

import (
	"errors"
	"testing"
)

func TestQueueFIFO(t *testing.T) {
	q, err := NewQueue(4)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	if !q.Empty() || q.Len() != 0 {
		t.Fatalf("new queue not empty: len %d", q.Len())
	}
	for i := int64(1); i <= 4; i++ {
		if !q.Enqueue(i) {
			t.Fatalf("Enqueue(%d) failed with len %d", i, q.Len())
		}
	}
	if !q.Full() {
		t.Fatalf("queue of capacity 4 not full after 4 enqueues")
	}
	if q.Enqueue(5) {
		t.Fatalf("Enqueue succeeded on a full queue")
	}
	if q.Len() != 4 {
		t.Fatalf("failed enqueue changed length to %d", q.Len())
	}
	for want := int64(1); want <= 4; want++ {
		v, ok := q.Dequeue()
		if !ok || v != want {
			t.Fatalf("Dequeue = %d, %v; want %d, true", v, ok, want)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatalf("Dequeue succeeded on an empty queue")
	}
}

func TestQueueWrapAround(t *testing.T) {
	q, err := NewQueue(3)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	next, expect := int64(0), int64(0)
	// Keep the queue between one and three items long for many laps so head
	// and tail wrap repeatedly.
	for round := 0; round < 50; round++ {
		for !q.Full() {
			next++
			q.Enqueue(next)
		}
		for i := 0; i < 2; i++ {
			v, ok := q.Dequeue()
			expect++
			if !ok || v != expect {
				t.Fatalf("round %d: Dequeue = %d, %v; want %d", round, v, ok, expect)
			}
		}
		if q.h.head >= 3 || q.h.tail >= 3 {
			t.Fatalf("indices out of range: head %d tail %d", q.h.head, q.h.tail)
		}
	}
}

func TestQueueCapacityOne(t *testing.T) {
	q, err := NewQueue(1)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	for i := int64(10); i < 15; i++ {
		if !q.Enqueue(i) {
			t.Fatalf("Enqueue(%d) failed", i)
		}
		if q.Enqueue(i) {
			t.Fatalf("second Enqueue succeeded at capacity 1")
		}
		if v, ok := q.Dequeue(); !ok || v != i {
			t.Fatalf("Dequeue = %d, %v; want %d", v, ok, i)
		}
	}
}

func TestQueueInvalidCapacity(t *testing.T) {
	if _, err := NewQueue(0); err == nil {
		t.Fatalf("NewQueue(0) succeeded")
	}
}

func TestQueueDestroy(t *testing.T) {
	q, _ := NewQueue(2)
	q.Enqueue(7)
	if err := q.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if !q.Destroyed() {
		t.Errorf("Destroyed() = false after Destroy")
	}
	if q.Enqueue(1) {
		t.Errorf("Enqueue succeeded on a destroyed queue")
	}
	if _, ok := q.Dequeue(); ok {
		t.Errorf("Dequeue succeeded on a destroyed queue")
	}
	if err := q.Destroy(); !errors.Is(err, ErrQueueDestroyed) {
		t.Errorf("second Destroy = %v, want ErrQueueDestroyed", err)
	}
}

func TestOpenQueueAt(t *testing.T) {
	mem := make([]byte, queueSize(5)+8)
	if _, err := openQueueAt(mem, 5); err == nil {
		t.Fatalf("openQueueAt on zeroed memory succeeded")
	}
	q := initQueueAt(mem, 5)
	q.Enqueue(42)

	other, err := openQueueAt(mem, 5)
	if err != nil {
		t.Fatalf("openQueueAt: %v", err)
	}
	if v, ok := other.Dequeue(); !ok || v != 42 {
		t.Fatalf("Dequeue through second view = %d, %v; want 42", v, ok)
	}
	if _, err := openQueueAt(mem, 4); err == nil {
		t.Errorf("openQueueAt with wrong capacity succeeded")
	}
	q.Destroy()
	if _, err := openQueueAt(mem, 5); !errors.Is(err, ErrQueueDestroyed) {
		t.Errorf("openQueueAt after Destroy = %v, want ErrQueueDestroyed", err)
	}
}
