package shmpipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"time"
)

var (
	errQueueFull  = errors.New("queue full after acquiring space_available")
	errQueueEmpty = errors.New("queue empty after acquiring items_available")
)

// ValueSource supplies the values the producer enqueues.
type ValueSource interface {
	Next() int64
}

// ProgressFunc is called inside the critical section after every enqueue or
// dequeue. i counts from 1 to total; length is the queue length after the
// operation.
type ProgressFunc func(role Role, i, total int, value int64, length int)

// Hooks are the collaborators a loop calls out to. All fields are optional;
// a missing Values source produces 1, 2, 3, ...
type Hooks struct {
	Values   ValueSource
	Progress ProgressFunc

	// Delay runs after each iteration, outside the critical section.
	Delay func()
}

// Run runs the loop for role until target items have been moved. ctx is
// checked between iterations only; a blocked Wait is not interrupted.
func (p *Pipeline) Run(ctx context.Context, role Role, target int, hooks Hooks) (int, error) {
	switch role {
	case RoleProducer:
		return p.Produce(ctx, target, hooks)
	case RoleConsumer:
		return p.Consume(ctx, target, hooks)
	}
	return 0, newError(KindConfiguration, "run", fmt.Errorf("unknown role %d", int(role)))
}

// Produce enqueues target values. Each iteration waits on SpaceAvailable then
// Mutex, enqueues, releases Mutex and signals ItemsAvailable. It returns the
// number of values enqueued and the first failure.
func (p *Pipeline) Produce(ctx context.Context, target int, hooks Hooks) (int, error) {
	if target < 0 {
		return 0, newError(KindConfiguration, "produce", fmt.Errorf("negative target %d", target))
	}
	values := hooks.Values
	if values == nil {
		values = &sequence{}
	}
	produced := 0
	for produced < target {
		if err := ctx.Err(); err != nil {
			return produced, err
		}
		if err := p.acquire(ctx, ComponentSpaceAvailable, p.Sync.SpaceAvailable); err != nil {
			return produced, err
		}
		if err := p.acquire(ctx, ComponentMutex, p.Sync.Mutex); err != nil {
			return produced, err
		}

		v := values.Next()
		if !p.Queue.Enqueue(v) {
			return produced, errors.Join(
				newError(KindSynchronization, "enqueue", errQueueFull),
				p.release(ComponentMutex, p.Sync.Mutex))
		}
		produced++
		p.metrics.item(ctx, RoleProducer)
		if hooks.Progress != nil {
			hooks.Progress(RoleProducer, produced, target, v, p.Queue.Len())
		}

		if err := p.release(ComponentMutex, p.Sync.Mutex); err != nil {
			return produced, err
		}
		if err := p.release(ComponentItemsAvailable, p.Sync.ItemsAvailable); err != nil {
			return produced, err
		}
		if hooks.Delay != nil {
			hooks.Delay()
		}
	}
	return produced, nil
}

// Consume dequeues target values. Each iteration waits on ItemsAvailable then
// Mutex, dequeues, releases Mutex and signals SpaceAvailable.
func (p *Pipeline) Consume(ctx context.Context, target int, hooks Hooks) (int, error) {
	if target < 0 {
		return 0, newError(KindConfiguration, "consume", fmt.Errorf("negative target %d", target))
	}
	consumed := 0
	for consumed < target {
		if err := ctx.Err(); err != nil {
			return consumed, err
		}
		if err := p.acquire(ctx, ComponentItemsAvailable, p.Sync.ItemsAvailable); err != nil {
			return consumed, err
		}
		if err := p.acquire(ctx, ComponentMutex, p.Sync.Mutex); err != nil {
			return consumed, err
		}

		v, ok := p.Queue.Dequeue()
		if !ok {
			return consumed, errors.Join(
				newError(KindSynchronization, "dequeue", errQueueEmpty),
				p.release(ComponentMutex, p.Sync.Mutex))
		}
		consumed++
		p.metrics.item(ctx, RoleConsumer)
		if hooks.Progress != nil {
			hooks.Progress(RoleConsumer, consumed, target, v, p.Queue.Len())
		}

		if err := p.release(ComponentMutex, p.Sync.Mutex); err != nil {
			return consumed, err
		}
		if err := p.release(ComponentSpaceAvailable, p.Sync.SpaceAvailable); err != nil {
			return consumed, err
		}
		if hooks.Delay != nil {
			hooks.Delay()
		}
	}
	return consumed, nil
}

func (p *Pipeline) acquire(ctx context.Context, c Component, s Semaphore) error {
	start := time.Now()
	if err := s.Wait(); err != nil {
		return newError(KindSynchronization, "wait "+c.String(), err)
	}
	p.metrics.waited(ctx, c, time.Since(start))
	return nil
}

func (p *Pipeline) release(c Component, s Semaphore) error {
	if err := s.Signal(); err != nil {
		return newError(KindSynchronization, "signal "+c.String(), err)
	}
	return nil
}

// sequence is the default ValueSource.
type sequence struct{ n int64 }

func (s *sequence) Next() int64 {
	s.n++
	return s.n
}

// randomValues yields uniformly distributed values in [1, 1000].
type randomValues struct{ r *rand.Rand }

// RandomValues returns a ValueSource of pseudo-random values in [1, 1000].
func RandomValues(seed uint64) ValueSource {
	return &randomValues{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (v *randomValues) Next() int64 {
	return v.r.Int64N(1000) + 1
}

// RandomDelay returns a Delay hook that sleeps a random duration in [0, limit).
func RandomDelay(seed uint64, limit time.Duration) func() {
	if limit <= 0 {
		return nil
	}
	r := rand.New(rand.NewPCG(seed, ^seed))
	return func() {
		time.Sleep(time.Duration(r.Int64N(int64(limit))))
	}
}

// ProgressLines returns a ProgressFunc that writes one line per operation:
//
//	Produced (i/total): value nBuffer=k
//	Consumed (i/total): value nBuffer=k
//
// Each line is written with a single Write call.
func ProgressLines(w io.Writer) ProgressFunc {
	return func(role Role, i, total int, value int64, length int) {
		verb := "Produced"
		if role == RoleConsumer {
			verb = "Consumed"
		}
		fmt.Fprintf(w, "%s (%d/%d): %d nBuffer=%d\n", verb, i, total, value, length)
	}
}
