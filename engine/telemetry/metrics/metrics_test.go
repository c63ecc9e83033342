package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aefi-lab/scanctl/engine/events"
	"github.com/aefi-lab/scanctl/engine/models"
)

func TestRecorderCountsScanLifecycle(t *testing.T) {
	bus := events.NewBus(nil)
	r := NewRecorder(bus)

	bus.Publish(events.TypeScanStarted, events.ScanStarted{ScanID: "s1", Config: models.StepScanConfig{}})
	if got := testutil.ToFloat64(r.activeScans); got != 1 {
		t.Fatalf("active gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.scansStarted.WithLabelValues("stepscan")); got != 1 {
		t.Fatalf("started counter = %v, want 1", got)
	}

	for i := 0; i < 4; i++ {
		bus.Publish(events.TypeScanPointAcquired, events.ScanPointAcquired{ScanID: "s1", PointIndex: i})
	}
	if got := testutil.ToFloat64(r.pointsAcquired); got != 4 {
		t.Fatalf("points counter = %v, want 4", got)
	}

	bus.Publish(events.TypeScanCompleted, events.ScanCompleted{ScanID: "s1", TotalPoints: 4})
	if got := testutil.ToFloat64(r.activeScans); got != 0 {
		t.Fatalf("active gauge = %v, want 0", got)
	}
	if got := testutil.ToFloat64(r.scansTerminal.WithLabelValues("completed")); got != 1 {
		t.Fatalf("terminal counter = %v, want 1", got)
	}
}

func TestRecorderLabelsFlyScanAndFailures(t *testing.T) {
	bus := events.NewBus(nil)
	r := NewRecorder(bus)

	bus.Publish(events.TypeScanStarted, events.ScanStarted{ScanID: "f1", Config: models.FlyScanConfig{}})
	if got := testutil.ToFloat64(r.scansStarted.WithLabelValues("flyscan")); got != 1 {
		t.Fatalf("flyscan started counter = %v, want 1", got)
	}

	bus.Publish(events.TypeMotionFailed, events.MotionFailed{MotionID: "m1", Error: "fault"})
	if got := testutil.ToFloat64(r.motionFailures); got != 1 {
		t.Fatalf("motion failures = %v, want 1", got)
	}

	bus.Publish(events.TypeScanFailed, events.ScanFailed{ScanID: "f1", Reason: "fault"})
	if got := testutil.ToFloat64(r.scansTerminal.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed terminal counter = %v, want 1", got)
	}
}

func TestHandlerServesPrometheusText(t *testing.T) {
	bus := events.NewBus(nil)
	r := NewRecorder(bus)
	bus.Publish(events.TypeScanStarted, events.ScanStarted{ScanID: "s1", Config: models.StepScanConfig{}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "scanctl_scan_started_total") {
		t.Fatalf("exposition missing scan counter:\n%s", body)
	}
}
