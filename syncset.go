package shmpipe

import (
	"errors"
	"fmt"
)

// SyncSet holds the three semaphores that coordinate the pipeline.
//
// Acquire order is fixed: a producer waits on SpaceAvailable, a consumer on
// ItemsAvailable, and only then on Mutex. Mutex is released before the
// complementary counter is signalled.
type SyncSet struct {
	// SpaceAvailable counts free queue slots. It starts at the queue capacity.
	SpaceAvailable Semaphore

	// ItemsAvailable counts stored items. It starts at 0.
	ItemsAvailable Semaphore

	// Mutex guards the queue. It starts at 1.
	Mutex Semaphore
}

// initSyncSet constructs the three semaphores in the region with their
// initial values. Only the creating process calls it, before any other
// process attaches.
func initSyncSet(v *RegionView) (*SyncSet, error) {
	space, err := v.InitSemaphore(ComponentSpaceAvailable, uint32(v.Layout().Capacity))
	if err != nil {
		return nil, err
	}
	items, err := v.InitSemaphore(ComponentItemsAvailable, 0)
	if err != nil {
		return nil, err
	}
	mutex, err := v.InitSemaphore(ComponentMutex, 1)
	if err != nil {
		return nil, err
	}
	return &SyncSet{SpaceAvailable: space, ItemsAvailable: items, Mutex: mutex}, nil
}

// openSyncSet returns the semaphores initialized by another process.
func openSyncSet(v *RegionView) (*SyncSet, error) {
	space, err := v.Semaphore(ComponentSpaceAvailable)
	if err != nil {
		return nil, err
	}
	items, err := v.Semaphore(ComponentItemsAvailable)
	if err != nil {
		return nil, err
	}
	mutex, err := v.Semaphore(ComponentMutex)
	if err != nil {
		return nil, err
	}
	return &SyncSet{SpaceAvailable: space, ItemsAvailable: items, Mutex: mutex}, nil
}

// Check verifies the quiescent-point invariant: the two counters add up to the
// queue capacity and the mutex is free. It is only meaningful while no
// process is inside a loop iteration.
func (s *SyncSet) Check(capacity int) error {
	space, items, mutex := s.SpaceAvailable.Value(), s.ItemsAvailable.Value(), s.Mutex.Value()
	if int(space)+int(items) != capacity {
		return fmt.Errorf("space_available (%d) + items_available (%d) != capacity (%d)", space, items, capacity)
	}
	if mutex != 1 {
		return fmt.Errorf("mutual_exclusion is %d, expected 1", mutex)
	}
	return nil
}

// Abandon abandons all three semaphores, releasing any process blocked in
// one of them.
func (s *SyncSet) Abandon() error {
	return errors.Join(
		s.SpaceAvailable.Abandon(),
		s.ItemsAvailable.Abandon(),
		s.Mutex.Abandon(),
	)
}

// Destroy destroys all three semaphores and returns every failure joined.
func (s *SyncSet) Destroy() error {
	return errors.Join(
		s.SpaceAvailable.Destroy(),
		s.ItemsAvailable.Destroy(),
		s.Mutex.Destroy(),
	)
}
