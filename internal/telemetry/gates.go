package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/steveyegge/laneway/internal/debug"
	"github.com/steveyegge/laneway/internal/gate"
)

var (
	gateOnce     sync.Once
	gateOutcomes metric.Int64Counter
	gateDuration metric.Int64Histogram
)

func gateInstruments() (metric.Int64Counter, metric.Int64Histogram) {
	gateOnce.Do(func() {
		meter := Meter("")
		var err error
		gateOutcomes, err = meter.Int64Counter("lw.gate.outcomes",
			metric.WithDescription("Gate step outcomes by name and result"))
		if err != nil {
			debug.Logf("telemetry: gate counter: %v\n", err)
		}
		gateDuration, err = meter.Int64Histogram("lw.gate.duration",
			metric.WithUnit("ms"),
			metric.WithDescription("Gate step wall-clock duration"))
		if err != nil {
			debug.Logf("telemetry: gate histogram: %v\n", err)
		}
	})
	return gateOutcomes, gateDuration
}

// RecordGateOutcome emits one gate outcome. Fire-and-forget: errors are
// swallowed, the scheduler never waits on export.
func RecordGateOutcome(ev gate.TelemetryEvent) {
	counter, histogram := gateInstruments()
	attrs := metric.WithAttributes(
		attribute.String("wu", ev.WuID),
		attribute.String("lane", ev.Lane),
		attribute.String("gate", ev.GateName),
		attribute.Bool("passed", ev.Passed),
	)
	ctx := context.Background()
	if counter != nil {
		counter.Add(ctx, 1, attrs)
	}
	if histogram != nil {
		histogram.Record(ctx, ev.DurationMs, attrs)
	}
}
