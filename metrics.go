package shmpipe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/richinsley/shmpipe"

// instruments are the metrics recorded by the producer and consumer loops.
type instruments struct {
	produced metric.Int64Counter
	consumed metric.Int64Counter
	wait     metric.Float64Histogram
}

// newInstruments creates the loop metrics. A nil provider records nothing.
func newInstruments(mp metric.MeterProvider) (*instruments, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	produced, err := meter.Int64Counter("shmpipe.items.produced",
		metric.WithDescription("Items enqueued into the shared queue."),
		metric.WithUnit("{item}"))
	if err != nil {
		return nil, err
	}
	consumed, err := meter.Int64Counter("shmpipe.items.consumed",
		metric.WithDescription("Items dequeued from the shared queue."),
		metric.WithUnit("{item}"))
	if err != nil {
		return nil, err
	}
	wait, err := meter.Float64Histogram("shmpipe.wait.duration",
		metric.WithDescription("Time spent blocked in a semaphore wait."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &instruments{produced: produced, consumed: consumed, wait: wait}, nil
}

func (in *instruments) item(ctx context.Context, role Role) {
	if role == RoleProducer {
		in.produced.Add(ctx, 1)
	} else {
		in.consumed.Add(ctx, 1)
	}
}

func (in *instruments) waited(ctx context.Context, c Component, d time.Duration) {
	in.wait.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("primitive", c.String())))
}
