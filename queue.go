package shmpipe

import (
	"fmt"
	"unsafe"
)

// Object states stored in the shared header words. A zeroed region reads as
// uninitialized, so a process attaching to a region that was never set up
// fails the state check instead of using garbage.
const (
	stateUninitialized uint32 = 0
	stateQueueLive     uint32 = 0x51554555 // "QUEU"
	stateSemLive       uint32 = 0x53454d41 // "SEMA"
	stateAbandoned     uint32 = 0x41424e44 // "ABND"
	stateDestroyed     uint32 = 0xdeadbeef
)

// queueHeader is the fixed part of the ring buffer as it sits in shared memory.
// The item storage follows immediately after it.
type queueHeader struct {
	capacity uint32 // 0x00: number of item slots
	head     uint32 // 0x04: next slot to dequeue
	tail     uint32 // 0x08: next slot to enqueue
	count    uint32 // 0x0C: items currently stored
	state    uint32 // 0x10: stateQueueLive or stateDestroyed
	_        uint32 // 0x14: padding
}

const (
	queueHeaderSize = int(unsafe.Sizeof(queueHeader{}))
	queueItemSize   = int(unsafe.Sizeof(int64(0)))
)

// queueSize returns the number of bytes a queue of the given capacity occupies.
func queueSize(capacity int) int {
	return queueHeaderSize + capacity*queueItemSize
}

// Queue is a fixed-capacity FIFO of int64 items backed by a caller-provided
// block of memory, normally a placement inside a shared region.
//
// Queue does no synchronization of its own. In the pipeline every call is made
// while holding the mutual-exclusion semaphore.
type Queue struct {
	h     *queueHeader
	items []int64
}

// NewQueue returns a queue of the given capacity backed by process-private memory.
func NewQueue(capacity int) (*Queue, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("queue capacity must be positive, got %d", capacity)
	}
	// Back the queue with uint64 words so the header and items are 8-byte aligned.
	words := make([]uint64, (queueSize(capacity)+7)/8)
	mem := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*8)
	return initQueueAt(mem, capacity), nil
}

// initQueueAt constructs an empty queue in mem. mem must hold queueSize(capacity)
// bytes; the layout guarantees that before this is called.
func initQueueAt(mem []byte, capacity int) *Queue {
	q := queueAt(mem, capacity)
	q.h.capacity = uint32(capacity)
	q.h.head = 0
	q.h.tail = 0
	q.h.count = 0
	clear(q.items)
	q.h.state = stateQueueLive
	return q
}

// openQueueAt returns the queue another process constructed in mem.
func openQueueAt(mem []byte, capacity int) (*Queue, error) {
	q := queueAt(mem, capacity)
	switch q.h.state {
	case stateQueueLive:
	case stateDestroyed:
		return nil, ErrQueueDestroyed
	default:
		return nil, fmt.Errorf("queue not initialized (state %#x)", q.h.state)
	}
	if int(q.h.capacity) != capacity {
		return nil, fmt.Errorf("queue capacity mismatch: region has %d, expected %d", q.h.capacity, capacity)
	}
	return q, nil
}

func queueAt(mem []byte, capacity int) *Queue {
	base := unsafe.Pointer(&mem[0])
	return &Queue{
		h:     (*queueHeader)(base),
		items: unsafe.Slice((*int64)(unsafe.Add(base, queueHeaderSize)), capacity),
	}
}

// Capacity returns the number of item slots.
func (q *Queue) Capacity() int {
	return int(q.h.capacity)
}

// Len returns the number of items currently stored.
func (q *Queue) Len() int {
	return int(q.h.count)
}

// Empty reports whether the queue holds no items.
func (q *Queue) Empty() bool {
	return q.h.count == 0
}

// Full reports whether every slot is occupied. A destroyed queue reports full.
func (q *Queue) Full() bool {
	return q.h.count == q.h.capacity
}

// Enqueue appends v at the tail. It returns false, leaving the queue
// unchanged, if the queue is full or destroyed.
func (q *Queue) Enqueue(v int64) bool {
	if q.h.state != stateQueueLive || q.Full() {
		return false
	}
	q.items[q.h.tail] = v
	q.h.tail = (q.h.tail + 1) % q.h.capacity
	q.h.count++
	return true
}

// Dequeue removes and returns the item at the head. ok is false if the queue
// is empty or destroyed.
func (q *Queue) Dequeue() (v int64, ok bool) {
	if q.h.state != stateQueueLive || q.Empty() {
		return 0, false
	}
	v = q.items[q.h.head]
	q.h.head = (q.h.head + 1) % q.h.capacity
	q.h.count--
	return v, true
}

// Destroyed reports whether Destroy has been called on the queue, from any process.
func (q *Queue) Destroyed() bool {
	return q.h.state == stateDestroyed
}

// Destroy invalidates the queue state. Later Enqueue and Dequeue calls fail.
func (q *Queue) Destroy() error {
	if q.h.state == stateDestroyed {
		return ErrQueueDestroyed
	}
	q.h.state = stateDestroyed
	q.h.count = 0
	q.h.head = 0
	q.h.tail = 0
	q.h.capacity = 0
	return nil
}
