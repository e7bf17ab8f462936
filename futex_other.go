//go:build !linux

package shmpipe

import (
	"errors"
	"time"
)

var errInterrupted = errors.New("futex wait interrupted")

// ErrFutexNotAvailable is returned by blocking semaphore operations on
// platforms without a futex system call.
var ErrFutexNotAvailable = errors.New("futex operations not supported on this platform")

func futexWait(addr *uint32, val uint32, timeout time.Duration) error {
	return ErrFutexNotAvailable
}

func futexWake(addr *uint32, n int) (int, error) {
	return 0, ErrFutexNotAvailable
}
