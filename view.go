package shmpipe

import (
	"fmt"
)

// RegionView gives typed access to the components of a shared region
// according to a validated Layout. Nothing outside the view does offset
// arithmetic on region memory.
type RegionView struct {
	mem    []byte
	layout *Layout
}

// NewRegionView validates layout against mem and returns a view over it.
func NewRegionView(mem []byte, layout *Layout) (*RegionView, error) {
	if len(mem) == 0 {
		return nil, fmt.Errorf("%w: empty region", ErrLayout)
	}
	if err := layout.Validate(len(mem)); err != nil {
		return nil, err
	}
	return &RegionView{mem: mem, layout: layout}, nil
}

// Layout returns the layout the view was built with.
func (v *RegionView) Layout() *Layout {
	return v.layout
}

// bytes returns the sub-slice holding component c.
func (v *RegionView) bytes(c Component) ([]byte, error) {
	p, ok := v.layout.Placement(c)
	if !ok {
		return nil, fmt.Errorf("%w: no placement for %s", ErrLayout, c)
	}
	return v.mem[p.Offset:p.End():p.End()], nil
}

// InitSemaphore constructs semaphore c in place with the given initial value.
func (v *RegionView) InitSemaphore(c Component, initial uint32) (Semaphore, error) {
	if c == ComponentQueue {
		return nil, fmt.Errorf("%w: %s is not a semaphore", ErrLayout, c)
	}
	b, err := v.bytes(c)
	if err != nil {
		return nil, err
	}
	return initSemaphoreAt(b, c.String(), initial), nil
}

// Semaphore returns semaphore c as constructed by InitSemaphore, possibly in
// another process.
func (v *RegionView) Semaphore(c Component) (Semaphore, error) {
	if c == ComponentQueue {
		return nil, fmt.Errorf("%w: %s is not a semaphore", ErrLayout, c)
	}
	b, err := v.bytes(c)
	if err != nil {
		return nil, err
	}
	s, err := openSemaphoreAt(b, c.String())
	if err != nil {
		return nil, err
	}
	return s, nil
}

// InitQueue constructs an empty queue in place.
func (v *RegionView) InitQueue() (*Queue, error) {
	b, err := v.bytes(ComponentQueue)
	if err != nil {
		return nil, err
	}
	return initQueueAt(b, v.layout.Capacity), nil
}

// Queue returns the queue as constructed by InitQueue, possibly in another process.
func (v *RegionView) Queue() (*Queue, error) {
	b, err := v.bytes(ComponentQueue)
	if err != nil {
		return nil, err
	}
	return openQueueAt(b, v.layout.Capacity)
}
