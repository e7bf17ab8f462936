//go:build linux

package shmpipe

import (
	"context"
	"slices"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestPipelineMetrics(t *testing.T) {
	const target = 300
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	p := newTestPipeline(t, 3)
	if err := p.Instrument(mp); err != nil {
		t.Fatalf("Instrument: %v", err)
	}
	runBoth(t, p, p, target, Hooks{})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	counts := map[string]int64{}
	var primitives []string
	var waits uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					counts[m.Name] += dp.Value
				}
			case metricdata.Histogram[float64]:
				if m.Name != "shmpipe.wait.duration" {
					t.Errorf("unexpected histogram %q", m.Name)
				}
				for _, dp := range data.DataPoints {
					v, ok := dp.Attributes.Value(attribute.Key("primitive"))
					if !ok {
						t.Errorf("wait data point without a primitive attribute")
						continue
					}
					primitives = append(primitives, v.AsString())
					waits += dp.Count
				}
			}
		}
	}

	if counts["shmpipe.items.produced"] != target {
		t.Errorf("shmpipe.items.produced = %d, want %d", counts["shmpipe.items.produced"], target)
	}
	if counts["shmpipe.items.consumed"] != target {
		t.Errorf("shmpipe.items.consumed = %d, want %d", counts["shmpipe.items.consumed"], target)
	}
	slices.Sort(primitives)
	want := []string{"items_available", "mutual_exclusion", "space_available"}
	if !slices.Equal(primitives, want) {
		t.Errorf("wait primitives = %v, want %v", primitives, want)
	}
	// every iteration of either loop waits twice
	if waits != 4*target {
		t.Errorf("recorded %d waits, want %d", waits, 4*target)
	}
}
