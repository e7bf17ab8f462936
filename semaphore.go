package shmpipe

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"
	"unsafe"
)

// Semaphore is a counting semaphore shared between processes. The mutual
// exclusion primitive of the pipeline is a Semaphore initialized to 1.
//
// Example:
//
//	sem, _ := view.Semaphore(shmpipe.ComponentMutex)
//	if err := sem.Wait(); err != nil {
//		return err
//	}
//	// critical section
//	sem.Signal()
type Semaphore interface {
	// Wait blocks until the counter is positive, then decrements it.
	// There is no timeout. Interrupted waits are retried.
	Wait() error

	// Signal increments the counter and wakes at most one waiter.
	Signal() error

	// TryWait decrements the counter if it is positive, without blocking.
	TryWait() (bool, error)

	// WaitTimeout is Wait with an upper bound. It reports false if the
	// timeout elapsed first.
	WaitTimeout(timeout time.Duration) (bool, error)

	// Value returns the current counter.
	Value() uint32

	// Abandon fails every current and future Wait and Signal with
	// ErrSemaphoreAbandoned. It is used to release a process blocked on a
	// peer that has exited. Destroy still succeeds afterwards.
	Abandon() error

	// Destroy invalidates the semaphore. It fails while waiters are registered.
	Destroy() error
}

// semaphoreWord is the shared-memory representation of one semaphore.
type semaphoreWord struct {
	value   uint32 // 0x00: counter, also the futex word
	waiters uint32 // 0x04: processes blocked (or about to block) in Wait
	state   uint32 // 0x08: stateSemLive, stateAbandoned or stateDestroyed
	_       uint32 // 0x0C: padding
}

const semaphoreWordSize = int(unsafe.Sizeof(semaphoreWord{}))

// futexSemaphore implements Semaphore over a semaphoreWord using the
// platform's futex calls.
type futexSemaphore struct {
	w    *semaphoreWord
	name string
}

// initSemaphoreAt constructs a semaphore with the given initial value in mem.
func initSemaphoreAt(mem []byte, name string, initial uint32) *futexSemaphore {
	w := (*semaphoreWord)(unsafe.Pointer(&mem[0]))
	atomic.StoreUint32(&w.value, initial)
	atomic.StoreUint32(&w.waiters, 0)
	atomic.StoreUint32(&w.state, stateSemLive)
	return &futexSemaphore{w: w, name: name}
}

// openSemaphoreAt returns the semaphore another process constructed in mem.
func openSemaphoreAt(mem []byte, name string) (*futexSemaphore, error) {
	w := (*semaphoreWord)(unsafe.Pointer(&mem[0]))
	switch s := atomic.LoadUint32(&w.state); s {
	case stateSemLive:
		return &futexSemaphore{w: w, name: name}, nil
	case stateAbandoned:
		return nil, fmt.Errorf("semaphore %s: %w", name, ErrSemaphoreAbandoned)
	case stateDestroyed:
		return nil, fmt.Errorf("semaphore %s: %w", name, ErrSemaphoreDestroyed)
	default:
		return nil, fmt.Errorf("semaphore %s not initialized (state %#x)", name, s)
	}
}

func (s *futexSemaphore) String() string {
	return s.name
}

func (s *futexSemaphore) live() error {
	switch atomic.LoadUint32(&s.w.state) {
	case stateSemLive:
		return nil
	case stateAbandoned:
		return fmt.Errorf("semaphore %s: %w", s.name, ErrSemaphoreAbandoned)
	}
	return fmt.Errorf("semaphore %s: %w", s.name, ErrSemaphoreDestroyed)
}

// tryDecrement takes one unit if the counter is positive.
func (s *futexSemaphore) tryDecrement() bool {
	for {
		v := atomic.LoadUint32(&s.w.value)
		if v == 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(&s.w.value, v, v-1) {
			return true
		}
	}
}

func (s *futexSemaphore) Wait() error {
	_, err := s.wait(-1)
	return err
}

func (s *futexSemaphore) WaitTimeout(timeout time.Duration) (bool, error) {
	if timeout < 0 {
		timeout = 0
	}
	return s.wait(timeout)
}

// wait implements Wait (timeout < 0) and WaitTimeout.
func (s *futexSemaphore) wait(timeout time.Duration) (bool, error) {
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if err := s.live(); err != nil {
			return false, err
		}
		if s.tryDecrement() {
			// Abandon bumps the counter to unblock sleepers; a unit taken
			// from it is not a real acquisition.
			if err := s.live(); err != nil {
				return false, err
			}
			return true, nil
		}

		remaining := time.Duration(-1)
		if timeout >= 0 {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return false, nil
			}
		}

		// Register before sleeping so Signal knows to issue a wake. If Signal
		// runs between the failed decrement and the futex call, the counter is
		// no longer 0 and the kernel returns immediately.
		atomic.AddUint32(&s.w.waiters, 1)
		err := futexWait(&s.w.value, 0, remaining)
		atomic.AddUint32(&s.w.waiters, ^uint32(0))

		switch {
		case err == nil, errors.Is(err, errInterrupted):
			// woken, value changed, or interrupted by a signal: retry
		case errors.Is(err, ErrWaitTimeout):
			if s.tryDecrement() {
				return true, nil
			}
			return false, nil
		default:
			return false, fmt.Errorf("semaphore %s: wait: %w", s.name, err)
		}
	}
}

func (s *futexSemaphore) TryWait() (bool, error) {
	if err := s.live(); err != nil {
		return false, err
	}
	return s.tryDecrement(), nil
}

func (s *futexSemaphore) Signal() error {
	if err := s.live(); err != nil {
		return err
	}
	atomic.AddUint32(&s.w.value, 1)
	if atomic.LoadUint32(&s.w.waiters) > 0 {
		if _, err := futexWake(&s.w.value, 1); err != nil {
			return fmt.Errorf("semaphore %s: signal: %w", s.name, err)
		}
	}
	return nil
}

func (s *futexSemaphore) Value() uint32 {
	return atomic.LoadUint32(&s.w.value)
}

func (s *futexSemaphore) Abandon() error {
	if !atomic.CompareAndSwapUint32(&s.w.state, stateSemLive, stateAbandoned) {
		if atomic.LoadUint32(&s.w.state) == stateAbandoned {
			return nil
		}
		return s.live()
	}
	// A waiter that has not reached the kernel yet sees the changed counter
	// and returns EAGAIN; one already asleep is woken.
	atomic.AddUint32(&s.w.value, 1)
	if _, err := futexWake(&s.w.value, math.MaxInt32); err != nil {
		return fmt.Errorf("semaphore %s: abandon: %w", s.name, err)
	}
	return nil
}

func (s *futexSemaphore) Destroy() error {
	if atomic.LoadUint32(&s.w.waiters) > 0 {
		return fmt.Errorf("semaphore %s: %w", s.name, ErrSemaphoreBusy)
	}
	if atomic.CompareAndSwapUint32(&s.w.state, stateSemLive, stateDestroyed) ||
		atomic.CompareAndSwapUint32(&s.w.state, stateAbandoned, stateDestroyed) {
		return nil
	}
	return fmt.Errorf("semaphore %s: %w", s.name, ErrSemaphoreDestroyed)
}
