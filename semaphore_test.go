//go:build linux

package shmpipe

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestSemaphore(t *testing.T, initial uint32) *futexSemaphore {
	t.Helper()
	return initSemaphoreAt(alignedBytes(semaphoreWordSize), "test", initial)
}

func TestSemaphoreTryWait(t *testing.T) {
	s := newTestSemaphore(t, 2)
	for i := 0; i < 2; i++ {
		ok, err := s.TryWait()
		if err != nil || !ok {
			t.Fatalf("TryWait %d = %v, %v; want true", i, ok, err)
		}
	}
	if ok, _ := s.TryWait(); ok {
		t.Fatalf("TryWait succeeded at zero")
	}
	if err := s.Signal(); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	if s.Value() != 1 {
		t.Fatalf("Value = %d, want 1", s.Value())
	}
}

func TestSemaphoreWaitTimeout(t *testing.T) {
	s := newTestSemaphore(t, 0)
	start := time.Now()
	ok, err := s.WaitTimeout(50 * time.Millisecond)
	if err != nil {
		t.Fatalf("WaitTimeout: %v", err)
	}
	if ok {
		t.Fatalf("WaitTimeout acquired a zero semaphore")
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("WaitTimeout returned after %v", elapsed)
	}
	if w := atomic.LoadUint32(&s.w.waiters); w != 0 {
		t.Errorf("waiters = %d after timeout, want 0", w)
	}
}

func TestSemaphoreSignalWakesWaiter(t *testing.T) {
	s := newTestSemaphore(t, 0)
	done := make(chan error, 1)
	go func() {
		done <- s.Wait()
	}()

	// Give the waiter time to block in the kernel.
	time.Sleep(20 * time.Millisecond)
	if err := s.Signal(); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Wait did not return after Signal")
	}
	if s.Value() != 0 {
		t.Errorf("Value = %d after matched Wait/Signal, want 0", s.Value())
	}
}

// TestSemaphoreMutualExclusion uses a semaphore of 1 as a lock across many
// goroutines and checks that no two are ever inside at once.
func TestSemaphoreMutualExclusion(t *testing.T) {
	s := newTestSemaphore(t, 1)

	var wg sync.WaitGroup
	var inside, violations int32
	counter := 0
	numGoroutines := 16
	numOps := 500

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numOps; j++ {
				if err := s.Wait(); err != nil {
					t.Errorf("Wait: %v", err)
					return
				}
				if atomic.AddInt32(&inside, 1) != 1 {
					atomic.AddInt32(&violations, 1)
				}
				counter++
				atomic.AddInt32(&inside, -1)
				if err := s.Signal(); err != nil {
					t.Errorf("Signal: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if violations != 0 {
		t.Errorf("%d overlapping critical sections", violations)
	}
	if counter != numGoroutines*numOps {
		t.Errorf("counter = %d, want %d", counter, numGoroutines*numOps)
	}
	if s.Value() != 1 {
		t.Errorf("Value = %d after balanced use, want 1", s.Value())
	}
}

func TestSemaphoreDestroy(t *testing.T) {
	s := newTestSemaphore(t, 0)

	atomic.AddUint32(&s.w.waiters, 1)
	if err := s.Destroy(); !errors.Is(err, ErrSemaphoreBusy) {
		t.Fatalf("Destroy with a waiter = %v, want ErrSemaphoreBusy", err)
	}
	atomic.AddUint32(&s.w.waiters, ^uint32(0))

	if err := s.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if err := s.Destroy(); !errors.Is(err, ErrSemaphoreDestroyed) {
		t.Errorf("second Destroy = %v, want ErrSemaphoreDestroyed", err)
	}
	if err := s.Signal(); !errors.Is(err, ErrSemaphoreDestroyed) {
		t.Errorf("Signal after Destroy = %v, want ErrSemaphoreDestroyed", err)
	}
	if err := s.Wait(); !errors.Is(err, ErrSemaphoreDestroyed) {
		t.Errorf("Wait after Destroy = %v, want ErrSemaphoreDestroyed", err)
	}
	if _, err := openSemaphoreAt(wordBytes(s.w), "test"); !errors.Is(err, ErrSemaphoreDestroyed) {
		t.Errorf("openSemaphoreAt after Destroy = %v, want ErrSemaphoreDestroyed", err)
	}
}

func TestSemaphoreAbandonReleasesWaiters(t *testing.T) {
	s := newTestSemaphore(t, 0)
	const waiters = 4
	errs := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			errs <- s.Wait()
		}()
	}

	// Give the waiters time to block in the kernel.
	time.Sleep(20 * time.Millisecond)
	if err := s.Abandon(); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	for i := 0; i < waiters; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, ErrSemaphoreAbandoned) {
				t.Errorf("Wait after Abandon = %v, want ErrSemaphoreAbandoned", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("waiter %d still blocked after Abandon", i)
		}
	}

	if err := s.Abandon(); err != nil {
		t.Errorf("second Abandon = %v", err)
	}
	if ok, err := s.TryWait(); ok || !errors.Is(err, ErrSemaphoreAbandoned) {
		t.Errorf("TryWait after Abandon = %v, %v; want ErrSemaphoreAbandoned", ok, err)
	}
	if err := s.Signal(); !errors.Is(err, ErrSemaphoreAbandoned) {
		t.Errorf("Signal after Abandon = %v, want ErrSemaphoreAbandoned", err)
	}
	if _, err := openSemaphoreAt(wordBytes(s.w), "test"); !errors.Is(err, ErrSemaphoreAbandoned) {
		t.Errorf("openSemaphoreAt after Abandon = %v, want ErrSemaphoreAbandoned", err)
	}
	if err := s.Destroy(); err != nil {
		t.Fatalf("Destroy after Abandon: %v", err)
	}
	if err := s.Abandon(); !errors.Is(err, ErrSemaphoreDestroyed) {
		t.Errorf("Abandon after Destroy = %v, want ErrSemaphoreDestroyed", err)
	}
}

// A positive counter must not let a Wait through once the semaphore is
// abandoned.
func TestSemaphoreAbandonWithUnits(t *testing.T) {
	s := newTestSemaphore(t, 3)
	if err := s.Abandon(); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if err := s.Wait(); !errors.Is(err, ErrSemaphoreAbandoned) {
		t.Errorf("Wait = %v, want ErrSemaphoreAbandoned", err)
	}
}
