//go:build linux

package shmpipe

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Shared futex operations. The private variants only match waiters in the
// same address space, which would never wake the other process.
const (
	futexWaitOp = 0 // FUTEX_WAIT
	futexWakeOp = 1 // FUTEX_WAKE
)

// errInterrupted is returned by futexWait when a signal interrupted the wait.
var errInterrupted = errors.New("futex wait interrupted")

// futexWait sleeps while *addr == val. A negative timeout waits forever.
// It returns nil when woken or when *addr no longer equals val, errInterrupted
// on EINTR and ErrWaitTimeout when the timeout elapses. Callers must re-check
// their condition after any return.
func futexWait(addr *uint32, val uint32, timeout time.Duration) error {
	if atomic.LoadUint32(addr) != val {
		return nil
	}

	var tsp unsafe.Pointer
	if timeout >= 0 {
		ts := unix.NsecToTimespec(timeout.Nanoseconds())
		tsp = unsafe.Pointer(&ts)
	}

	// Syscall6 rather than RawSyscall6: the call may block for a long time
	// and the runtime must be able to hand the P to another thread.
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWaitOp,
		uintptr(val),
		uintptr(tsp),
		0,
		0,
	)
	switch errno {
	case 0, unix.EAGAIN:
		return nil
	case unix.EINTR:
		return errInterrupted
	case unix.ETIMEDOUT:
		return ErrWaitTimeout
	}
	return fmt.Errorf("futex wait failed: %w", errno)
}

// futexWake wakes up to n waiters on addr and returns how many were woken.
func futexWake(addr *uint32, n int) (int, error) {
	r1, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWakeOp,
		uintptr(n),
		0,
		0,
		0,
	)
	if errno != 0 {
		return 0, fmt.Errorf("futex wake failed: %w", errno)
	}
	return int(r1), nil
}
