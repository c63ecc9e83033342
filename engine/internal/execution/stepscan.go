// Package execution implements the step-scan and fly-scan executors: the
// move/settle/acquire loop and the continuous-motion, concurrent-ingestion
// loop. Both run synchronously on the goroutine that calls Execute (the
// application service calls them on its own caller's goroutine) and
// coordinate with the hardware adapters purely through the event bus and the
// port interfaces.
package execution

import (
	"fmt"
	"sync"
	"time"

	"github.com/aefi-lab/scanctl/engine/events"
	"github.com/aefi-lab/scanctl/engine/models"
	"github.com/aefi-lab/scanctl/engine/ports"
	"github.com/aefi-lab/scanctl/engine/scan"
)

// DefaultMotionTimeout bounds the wait for a motion-completion signal when a
// config leaves MotionTimeout unset.
const DefaultMotionTimeout = 30 * time.Second

// PausePollInterval bounds how often the executor re-checks a paused scan's
// status.
const PausePollInterval = 100 * time.Millisecond

// StepScanExecutor drives a StepScan aggregate through its trajectory:
// move, wait for arrival, stabilize, average N acquisitions, record.
type StepScanExecutor struct {
	Motion      ports.MotionPort
	Acquisition ports.AcquisitionPort
	Bus         *events.Bus
}

type motionOutcome struct {
	failed bool
	errMsg string
}

// motionTracker records motion outcomes keyed by motion id. Bus handlers run
// on the hardware adapter's goroutine and may deliver the completion for a
// motion id before MoveTo has even returned that id to the executor, so
// outcomes are buffered in a map and the waiter polls it on each signal.
type motionTracker struct {
	mu       sync.Mutex
	outcomes map[string]motionOutcome
	signal   chan struct{}
}

func newMotionTracker() *motionTracker {
	return &motionTracker{outcomes: make(map[string]motionOutcome), signal: make(chan struct{}, 1)}
}

func (t *motionTracker) record(motionID string, o motionOutcome) {
	t.mu.Lock()
	t.outcomes[motionID] = o
	t.mu.Unlock()
	select {
	case t.signal <- struct{}{}:
	default:
	}
}

func (t *motionTracker) take(motionID string) (motionOutcome, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.outcomes[motionID]
	if ok {
		delete(t.outcomes, motionID)
	}
	return o, ok
}

// Execute drives s through trajectory per cfg, returning true if the scan
// reached COMPLETED, false if it was cancelled or failed.
func (e *StepScanExecutor) Execute(s *scan.Scan, trajectory []models.Position2D, cfg models.StepScanConfig) bool {
	timeout := cfg.MotionTimeout
	if timeout <= 0 {
		timeout = DefaultMotionTimeout
	}

	tracker := newMotionTracker()
	emergencyCh := make(chan struct{}, 1)

	subCompleted := e.Bus.Subscribe(events.TypeMotionCompleted, func(payload interface{}) {
		ev := payload.(events.MotionCompleted)
		tracker.record(ev.MotionID, motionOutcome{})
	})
	subFailed := e.Bus.Subscribe(events.TypeMotionFailed, func(payload interface{}) {
		ev := payload.(events.MotionFailed)
		tracker.record(ev.MotionID, motionOutcome{failed: true, errMsg: ev.Error})
	})
	subEmergency := e.Bus.Subscribe(events.TypeEmergencyStopTriggered, func(interface{}) {
		select {
		case emergencyCh <- struct{}{}:
		default:
		}
	})
	defer func() {
		e.Bus.Unsubscribe(events.TypeMotionCompleted, subCompleted)
		e.Bus.Unsubscribe(events.TypeMotionFailed, subFailed)
		e.Bus.Unsubscribe(events.TypeEmergencyStopTriggered, subEmergency)
	}()

	for index, pos := range trajectory {
		// Safe point: observe cancel/pause before issuing the next move.
		if !waitWhilePaused(s) {
			return false
		}
		select {
		case <-emergencyCh:
			_ = s.Cancel()
			s.PublishDrained(e.Bus)
			return false
		default:
		}

		motionID, err := e.Motion.MoveTo(pos)
		if err != nil {
			e.fail(s, fmt.Sprintf("move_to failed: %v", err))
			return false
		}

		if !e.waitForMotion(s, tracker, motionID, emergencyCh, timeout) {
			return false
		}

		// Stabilize before sampling; the hardware needs the probe at rest.
		if cfg.StabilizationDelay > 0 {
			time.Sleep(cfg.StabilizationDelay)
		}
		// Post-arrival safe point: a pause requested while the move was in
		// flight is acknowledged here, before any sample is taken.
		if !waitWhilePaused(s) {
			return false
		}

		measurements := make([]models.VoltageMeasurement, 0, cfg.AveragingPerPosition)
		for i := 0; i < cfg.AveragingPerPosition; i++ {
			if s.Status() == scan.StatusCancelled {
				return false
			}
			m, err := e.Acquisition.AcquireSample()
			if err != nil {
				e.fail(s, fmt.Sprintf("acquire_sample failed: %v", err))
				return false
			}
			measurements = append(measurements, m)
		}
		averaged := models.Average(measurements)

		point := models.ScanPointResult{Position: pos, Measurement: averaged, PointIndex: index}
		for {
			err := s.AddPoint(point)
			if err == nil {
				break
			}
			// A pause can land between the safe-point check and the append;
			// wait it out and retry rather than failing the scan.
			switch s.Status() {
			case scan.StatusPaused:
				time.Sleep(PausePollInterval)
				continue
			case scan.StatusCancelled:
				return false
			}
			e.fail(s, fmt.Sprintf("add_point rejected: %v", err))
			return false
		}
		s.PublishDrained(e.Bus)

		if s.Status().Terminal() {
			break
		}
	}

	if !waitWhilePaused(s) {
		return false
	}

	// The aggregate auto-completes on the final point; this covers the case
	// where it did not (count mismatch).
	if s.Status() == scan.StatusRunning {
		if err := s.Complete(); err != nil {
			e.fail(s, fmt.Sprintf("explicit completion rejected: %v", err))
			return false
		}
		s.PublishDrained(e.Bus)
	}

	return s.Status() == scan.StatusCompleted
}

// waitForMotion blocks until the outcome for motionID arrives, the scan is
// cancelled, an emergency stop is observed, or timeout elapses. Pause
// requests are deliberately not observed here: a move in flight always runs
// to arrival, and pause takes effect at the next safe point.
func (e *StepScanExecutor) waitForMotion(s *scan.Scan, tracker *motionTracker, motionID string, emergencyCh chan struct{}, timeout time.Duration) bool {
	if outcome, ok := tracker.take(motionID); ok {
		return e.resolveMotion(s, outcome)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(PausePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-tracker.signal:
			if outcome, ok := tracker.take(motionID); ok {
				return e.resolveMotion(s, outcome)
			}
		case <-emergencyCh:
			_ = s.Cancel()
			s.PublishDrained(e.Bus)
			e.Motion.Stop()
			return false
		case <-ticker.C:
			if s.Status() == scan.StatusCancelled {
				e.Motion.Stop()
				return false
			}
		case <-timer.C:
			e.Motion.Stop()
			e.fail(s, fmt.Sprintf("%v after %s", models.ErrMotionTimeout, timeout))
			return false
		}
	}
}

func (e *StepScanExecutor) resolveMotion(s *scan.Scan, outcome motionOutcome) bool {
	if outcome.failed {
		e.fail(s, outcome.errMsg)
		return false
	}
	return true
}

func (e *StepScanExecutor) fail(s *scan.Scan, reason string) {
	_ = s.Fail(reason)
	s.PublishDrained(e.Bus)
}

// waitWhilePaused blocks at a safe point until the scan leaves PAUSED.
// Returns false once the scan is cancelled.
func waitWhilePaused(s *scan.Scan) bool {
	for {
		switch s.Status() {
		case scan.StatusCancelled:
			return false
		case scan.StatusPaused:
			time.Sleep(PausePollInterval)
			continue
		}
		return true
	}
}
