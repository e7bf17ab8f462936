package shmpipe

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/cpu"
)

// Component names one object placed inside the shared region.
type Component int

const (
	ComponentSpaceAvailable Component = iota
	ComponentItemsAvailable
	ComponentMutex
	ComponentQueue
)

func (c Component) String() string {
	switch c {
	case ComponentSpaceAvailable:
		return "space_available"
	case ComponentItemsAvailable:
		return "items_available"
	case ComponentMutex:
		return "mutual_exclusion"
	case ComponentQueue:
		return "queue"
	}
	return fmt.Sprintf("Component(%d)", int(c))
}

// layoutOrder is the order in which components are laid out in the region.
var layoutOrder = [...]Component{
	ComponentSpaceAvailable,
	ComponentItemsAvailable,
	ComponentMutex,
	ComponentQueue,
}

// layoutAlign is the alignment of every placement. Each semaphore gets its
// own cache line so the two processes spinning on different counters do not
// share one.
var layoutAlign = max(int(unsafe.Sizeof(cpu.CacheLinePad{})), 8)

// Placement is the byte range one component occupies in the region.
type Placement struct {
	Component Component
	Offset    int
	Size      int
}

// End returns the first byte offset after the placement.
func (p Placement) End() int {
	return p.Offset + p.Size
}

// Layout describes where every component lives inside the shared region:
//
//	[space_available][items_available][mutual_exclusion][queue header + items]
//
// A Layout is computed once by the creating process and recomputed from the
// handed-off capacity by the attaching one, so both agree on every offset.
type Layout struct {
	// Capacity is the number of item slots in the queue.
	Capacity int

	// Placements lists the components in region order.
	Placements []Placement

	// Size is the total region size in bytes, a multiple of the alignment.
	Size int
}

// NewLayout computes the region layout for a queue of the given capacity.
func NewLayout(capacity int) (*Layout, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: capacity must be positive, got %d", ErrLayout, capacity)
	}
	l := &Layout{Capacity: capacity}
	offset := 0
	for _, c := range layoutOrder {
		size := semaphoreWordSize
		if c == ComponentQueue {
			size = queueSize(capacity)
		}
		l.Placements = append(l.Placements, Placement{Component: c, Offset: offset, Size: size})
		offset = alignUp(offset+size, layoutAlign)
	}
	l.Size = offset
	return l, nil
}

// Placement returns the placement of component c.
func (l *Layout) Placement(c Component) (Placement, bool) {
	for _, p := range l.Placements {
		if p.Component == c {
			return p, true
		}
	}
	return Placement{}, false
}

// Validate checks the layout against a region of regionSize bytes: every
// component present once in the expected order, aligned, non-overlapping and
// inside the region.
func (l *Layout) Validate(regionSize int) error {
	if len(l.Placements) != len(layoutOrder) {
		return fmt.Errorf("%w: %d placements, expected %d", ErrLayout, len(l.Placements), len(layoutOrder))
	}
	if l.Size > regionSize {
		return fmt.Errorf("%w: layout needs %d bytes, region has %d", ErrLayout, l.Size, regionSize)
	}
	prevEnd := 0
	for i, p := range l.Placements {
		if p.Component != layoutOrder[i] {
			return fmt.Errorf("%w: placement %d is %s, expected %s", ErrLayout, i, p.Component, layoutOrder[i])
		}
		if p.Offset%layoutAlign != 0 {
			return fmt.Errorf("%w: %s offset %d not aligned to %d", ErrLayout, p.Component, p.Offset, layoutAlign)
		}
		if p.Offset < prevEnd {
			return fmt.Errorf("%w: %s at %d overlaps previous component ending at %d", ErrLayout, p.Component, p.Offset, prevEnd)
		}
		want := semaphoreWordSize
		if p.Component == ComponentQueue {
			want = queueSize(l.Capacity)
		}
		if p.Size != want {
			return fmt.Errorf("%w: %s size %d, expected %d", ErrLayout, p.Component, p.Size, want)
		}
		if p.Offset < 0 || p.End() > regionSize || p.End() > l.Size {
			return fmt.Errorf("%w: %s [%d,%d) outside region of %d bytes", ErrLayout, p.Component, p.Offset, p.End(), regionSize)
		}
		prevEnd = p.End()
	}
	return nil
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}
