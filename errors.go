package shmpipe

import (
	"errors"
	"fmt"
)

// Sentinel errors reported by the region, semaphore and queue layers.
var (
	// ErrZeroSize is returned by CreateRegion when asked for an empty region.
	ErrZeroSize = errors.New("shared region size is 0")

	// ErrRegionDestroyed is returned when a destroyed region handle is used again.
	ErrRegionDestroyed = errors.New("shared region already destroyed")

	// ErrRegionNotAttached is returned by Detach and Bytes when nothing is mapped.
	ErrRegionNotAttached = errors.New("shared region not attached")

	// ErrRegionAttached is returned by Attach when the handle is already mapped.
	ErrRegionAttached = errors.New("shared region already attached")

	// ErrSemaphoreDestroyed is returned by any operation on a destroyed semaphore.
	ErrSemaphoreDestroyed = errors.New("semaphore destroyed")

	// ErrSemaphoreAbandoned is returned by any operation on a semaphore whose
	// peer gave up on the exchange.
	ErrSemaphoreAbandoned = errors.New("semaphore abandoned")

	// ErrSemaphoreBusy is returned by Destroy while waiters are still registered.
	ErrSemaphoreBusy = errors.New("semaphore has waiters")

	// ErrWaitTimeout is returned by the futex layer when a bounded wait expires.
	ErrWaitTimeout = errors.New("semaphore wait timed out")

	// ErrQueueDestroyed is returned by queue operations after Destroy.
	ErrQueueDestroyed = errors.New("queue destroyed")

	// ErrLayout is wrapped by every layout validation failure.
	ErrLayout = errors.New("invalid region layout")

	// ErrUsage is wrapped by every command-line parsing failure.
	ErrUsage = errors.New("usage")
)

// ErrorKind classifies failures by the stage of the pipeline that produced them.
type ErrorKind int

const (
	KindConfiguration   ErrorKind = iota + 1 // bad command line or config
	KindAllocation                           // region cannot be created
	KindAttachment                           // region cannot be mapped or unmapped
	KindSynchronization                      // wait/signal failed
	KindProcess                              // spawn, control channel or child failure
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindAllocation:
		return "allocation"
	case KindAttachment:
		return "attachment"
	case KindSynchronization:
		return "synchronization"
	case KindProcess:
		return "process"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// PipelineError records the kind of failure and the operation that failed.
type PipelineError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &PipelineError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first PipelineError in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

// ProcessError describes a spawned process that did not finish cleanly.
type ProcessError struct {
	// Role is the role the child was running.
	Role Role

	// ExitCode is the child's exit status, -1 if it was killed by a signal.
	ExitCode int

	// Message is the error the child reported over the control channel, if any.
	Message string
}

func (e *ProcessError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s process exited with status %d: %s", e.Role, e.ExitCode, e.Message)
	}
	return fmt.Sprintf("%s process exited with status %d", e.Role, e.ExitCode)
}

// Exit codes returned by the launcher and by ServeSpawned.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// ExitCode maps an error returned by Run to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrUsage), KindOf(err) == KindConfiguration:
		return ExitUsage
	}
	return ExitFailure
}
