package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/aefi-lab/scanctl/engine/events"
	"github.com/aefi-lab/scanctl/engine/models"
)

// OTelRecorder mirrors Recorder on OpenTelemetry instruments, for
// deployments that ship telemetry through an OTLP collector instead of a
// Prometheus scrape. Both recorders can observe the same bus.
type OTelRecorder struct {
	provider *sdkmetric.MeterProvider

	scansStarted   metric.Int64Counter
	scansTerminal  metric.Int64Counter
	pointsAcquired metric.Int64Counter
	motionDuration metric.Float64Histogram
	motionFailures metric.Int64Counter
	activeScans    metric.Int64UpDownCounter
}

// NewOTelRecorder constructs a recorder on its own SDK MeterProvider
// (readers supplied by the caller) and subscribes it to bus.
func NewOTelRecorder(bus *events.Bus, opts ...sdkmetric.Option) (*OTelRecorder, error) {
	mp := sdkmetric.NewMeterProvider(opts...)
	meter := mp.Meter("scanctl")

	r := &OTelRecorder{provider: mp}
	var err error
	if r.scansStarted, err = meter.Int64Counter("scanctl.scan.started",
		metric.WithDescription("Scans started, by kind.")); err != nil {
		return nil, err
	}
	if r.scansTerminal, err = meter.Int64Counter("scanctl.scan.terminal",
		metric.WithDescription("Scans reaching a terminal state, by outcome.")); err != nil {
		return nil, err
	}
	if r.pointsAcquired, err = meter.Int64Counter("scanctl.scan.points_acquired",
		metric.WithDescription("Scan points recorded across all scans.")); err != nil {
		return nil, err
	}
	if r.motionDuration, err = meter.Float64Histogram("scanctl.motion.duration",
		metric.WithDescription("Reported duration of a single completed motion."),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.motionFailures, err = meter.Int64Counter("scanctl.motion.failures",
		metric.WithDescription("Motion completions that reported a hardware failure.")); err != nil {
		return nil, err
	}
	if r.activeScans, err = meter.Int64UpDownCounter("scanctl.scan.active",
		metric.WithDescription("Scans currently RUNNING or PAUSED.")); err != nil {
		return nil, err
	}

	ctx := context.Background()
	bus.Subscribe(events.TypeScanStarted, func(payload interface{}) {
		ev := payload.(events.ScanStarted)
		kind := "stepscan"
		if _, isFly := ev.Config.(models.FlyScanConfig); isFly {
			kind = "flyscan"
		}
		r.scansStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
		r.activeScans.Add(ctx, 1)
	})
	bus.Subscribe(events.TypeScanPointAcquired, func(interface{}) {
		r.pointsAcquired.Add(ctx, 1)
	})
	terminal := func(outcome string) events.Handler {
		return func(interface{}) {
			r.scansTerminal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
			r.activeScans.Add(ctx, -1)
		}
	}
	bus.Subscribe(events.TypeScanCompleted, terminal("completed"))
	bus.Subscribe(events.TypeScanCancelled, terminal("cancelled"))
	bus.Subscribe(events.TypeScanFailed, terminal("failed"))
	bus.Subscribe(events.TypeMotionCompleted, func(payload interface{}) {
		ev := payload.(events.MotionCompleted)
		r.motionDuration.Record(ctx, float64(ev.DurationMS)/1000)
	})
	bus.Subscribe(events.TypeMotionFailed, func(interface{}) {
		r.motionFailures.Add(ctx, 1)
	})

	return r, nil
}

// Shutdown flushes and stops the underlying MeterProvider.
func (r *OTelRecorder) Shutdown(ctx context.Context) error {
	return r.provider.Shutdown(ctx)
}
