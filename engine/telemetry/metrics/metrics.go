// Package metrics records scan and motion telemetry on a Prometheus
// registry exposed over promhttp. The recorder wires itself in by
// subscribing to the event bus rather than being threaded through executor
// call sites.
package metrics

import (
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aefi-lab/scanctl/engine/events"
	"github.com/aefi-lab/scanctl/engine/models"
)

// Recorder observes the event bus and maintains Prometheus series for scan
// throughput, motion latency, and acquisition volume.
type Recorder struct {
	registry *prom.Registry

	scansStarted   *prom.CounterVec
	scansTerminal  *prom.CounterVec
	pointsAcquired prom.Counter
	scanDuration   prom.Histogram
	motionDuration prom.Histogram
	motionFailures prom.Counter
	activeScans    prom.Gauge

	handler http.Handler

	mu        sync.Mutex
	startedAt map[string]time.Time
}

// NewRecorder constructs a Recorder with its own registry and subscribes it
// to bus. The returned Recorder is safe to discard if metrics are not
// needed; subscriptions remain registered for the bus's lifetime.
func NewRecorder(bus *events.Bus) *Recorder {
	reg := prom.NewRegistry()
	r := &Recorder{
		registry:  reg,
		startedAt: make(map[string]time.Time),
		scansStarted: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "scanctl", Subsystem: "scan", Name: "started_total",
			Help: "Scans started, by kind.",
		}, []string{"kind"}),
		scansTerminal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "scanctl", Subsystem: "scan", Name: "terminal_total",
			Help: "Scans reaching a terminal state, by outcome.",
		}, []string{"outcome"}),
		pointsAcquired: prom.NewCounter(prom.CounterOpts{
			Namespace: "scanctl", Subsystem: "scan", Name: "points_acquired_total",
			Help: "Scan points recorded across all scans.",
		}),
		scanDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "scanctl", Subsystem: "scan", Name: "duration_seconds",
			Help: "Wall-clock duration of a scan from start to terminal event.",
			Buckets: prom.DefBuckets,
		}),
		motionDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "scanctl", Subsystem: "motion", Name: "duration_seconds",
			Help:    "Reported duration of a single completed motion.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		motionFailures: prom.NewCounter(prom.CounterOpts{
			Namespace: "scanctl", Subsystem: "motion", Name: "failures_total",
			Help: "Motion completions that reported a hardware failure.",
		}),
		activeScans: prom.NewGauge(prom.GaugeOpts{
			Namespace: "scanctl", Subsystem: "scan", Name: "active",
			Help: "1 while a scan is RUNNING or PAUSED, 0 otherwise.",
		}),
	}
	reg.MustRegister(r.scansStarted, r.scansTerminal, r.pointsAcquired, r.scanDuration, r.motionDuration, r.motionFailures, r.activeScans)
	r.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	bus.Subscribe(events.TypeScanStarted, func(payload interface{}) {
		ev := payload.(events.ScanStarted)
		r.activeScans.Set(1)
		kind := "stepscan"
		if _, isFly := ev.Config.(models.FlyScanConfig); isFly {
			kind = "flyscan"
		}
		r.scansStarted.WithLabelValues(kind).Inc()
		r.mu.Lock()
		r.startedAt[ev.ScanID] = time.Now()
		r.mu.Unlock()
	})
	bus.Subscribe(events.TypeScanPointAcquired, func(payload interface{}) {
		r.pointsAcquired.Inc()
	})
	bus.Subscribe(events.TypeScanCompleted, func(payload interface{}) {
		ev := payload.(events.ScanCompleted)
		r.activeScans.Set(0)
		r.scansTerminal.WithLabelValues("completed").Inc()
		r.observeDuration(ev.ScanID)
	})
	bus.Subscribe(events.TypeScanCancelled, func(payload interface{}) {
		ev := payload.(events.ScanCancelled)
		r.activeScans.Set(0)
		r.scansTerminal.WithLabelValues("cancelled").Inc()
		r.observeDuration(ev.ScanID)
	})
	bus.Subscribe(events.TypeScanFailed, func(payload interface{}) {
		ev := payload.(events.ScanFailed)
		r.activeScans.Set(0)
		r.scansTerminal.WithLabelValues("failed").Inc()
		r.observeDuration(ev.ScanID)
	})
	bus.Subscribe(events.TypeMotionCompleted, func(payload interface{}) {
		ev := payload.(events.MotionCompleted)
		r.motionDuration.Observe(float64(ev.DurationMS) / 1000)
	})
	bus.Subscribe(events.TypeMotionFailed, func(interface{}) {
		r.motionFailures.Inc()
	})

	return r
}

// Handler exposes the Recorder's registry over the Prometheus text format,
// for an external HTTP server to mount at /metrics.
func (r *Recorder) Handler() http.Handler { return r.handler }

func (r *Recorder) observeDuration(scanID string) {
	r.mu.Lock()
	start, ok := r.startedAt[scanID]
	if ok {
		delete(r.startedAt, scanID)
	}
	r.mu.Unlock()
	if ok {
		r.scanDuration.Observe(time.Since(start).Seconds())
	}
}
