package shmpipe

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Role is the part a process plays in the pipeline. It is bound when the
// process is started and never changes.
type Role int

const (
	RoleProducer Role = iota + 1
	RoleConsumer
)

func (r Role) String() string {
	switch r {
	case RoleProducer:
		return "producer"
	case RoleConsumer:
		return "consumer"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// Peer returns the role of the other process.
func (r Role) Peer() Role {
	if r == RoleProducer {
		return RoleConsumer
	}
	return RoleProducer
}

// ParseRole parses "producer" or "consumer".
func ParseRole(s string) (Role, error) {
	switch s {
	case "producer":
		return RoleProducer, nil
	case "consumer":
		return RoleConsumer, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// Pipeline is everything one process needs to take part in the exchange:
// the attached region, its layout, the semaphores and the queue inside it.
// It is passed explicitly to the producer and consumer loops.
type Pipeline struct {
	// Region is the attached shared region.
	Region *SharedRegion

	// Layout is the layout the region was built with.
	Layout *Layout

	// View is the typed view over the region memory.
	View *RegionView

	// Sync is the semaphore set inside the region.
	Sync *SyncSet

	// Queue is the ring buffer inside the region.
	Queue *Queue

	metrics *instruments
}

// CreatePipeline lays out and initializes the semaphores and queue in an
// attached region. Only the owning process calls it, before any other process
// attaches.
func CreatePipeline(region *SharedRegion, layout *Layout) (*Pipeline, error) {
	view, err := regionView(region, layout)
	if err != nil {
		return nil, err
	}
	sync, err := initSyncSet(view)
	if err != nil {
		return nil, err
	}
	queue, err := view.InitQueue()
	if err != nil {
		return nil, err
	}
	return newPipeline(region, layout, view, sync, queue)
}

// OpenPipeline returns the pipeline another process initialized in an
// attached region.
func OpenPipeline(region *SharedRegion, layout *Layout) (*Pipeline, error) {
	view, err := regionView(region, layout)
	if err != nil {
		return nil, err
	}
	sync, err := openSyncSet(view)
	if err != nil {
		return nil, err
	}
	queue, err := view.Queue()
	if err != nil {
		return nil, err
	}
	return newPipeline(region, layout, view, sync, queue)
}

func regionView(region *SharedRegion, layout *Layout) (*RegionView, error) {
	mem, err := region.Bytes()
	if err != nil {
		return nil, err
	}
	return NewRegionView(mem, layout)
}

func newPipeline(region *SharedRegion, layout *Layout, view *RegionView, sync *SyncSet, queue *Queue) (*Pipeline, error) {
	metrics, err := newInstruments(nil)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		Region:  region,
		Layout:  layout,
		View:    view,
		Sync:    sync,
		Queue:   queue,
		metrics: metrics,
	}, nil
}

// Instrument records loop metrics through the given meter provider.
func (p *Pipeline) Instrument(mp metric.MeterProvider) error {
	metrics, err := newInstruments(mp)
	if err != nil {
		return err
	}
	p.metrics = metrics
	return nil
}

// Destroy destroys the semaphores and then the queue state. Only the owning
// process calls it, after the other process has terminated and before the
// region itself is detached and destroyed.
func (p *Pipeline) Destroy() error {
	syncErr := p.Sync.Destroy()
	queueErr := p.Queue.Destroy()
	return errors.Join(syncErr, queueErr)
}
