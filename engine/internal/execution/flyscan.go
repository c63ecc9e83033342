package execution

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aefi-lab/scanctl/engine/events"
	"github.com/aefi-lab/scanctl/engine/models"
	"github.com/aefi-lab/scanctl/engine/motion"
	"github.com/aefi-lab/scanctl/engine/ports"
	"github.com/aefi-lab/scanctl/engine/scan"
	"github.com/aefi-lab/scanctl/engine/trajectory"
)

// SamplePollInterval bounds how often the fly-scan executor drains buffered
// samples from the acquisition port while a segment's move is in flight.
const SamplePollInterval = 10 * time.Millisecond

// FlyScanExecutor drives a FlyScan aggregate through a continuous-motion
// trajectory: per segment, it starts the move without blocking and
// concurrently ingests streamed samples, pairing each with the next
// predicted position in arrival order.
type FlyScanExecutor struct {
	Motion      ports.MotionPort
	Acquisition ports.AcquisitionPort
	Bus         *events.Bus

	// MotionTimeout bounds the wait for each segment's completion signal.
	// Zero means DefaultMotionTimeout.
	MotionTimeout time.Duration

	// OnCapabilityWarning, if set, is called with a human-readable message
	// when the measured capability's coefficient of variation exceeds 5%.
	OnCapabilityWarning func(msg string)
}

// Execute validates fly-scan feasibility against capability, then drives
// trajectory segment by segment. Returns true if the scan reached
// COMPLETED, false if pre-flight validation failed or the scan was
// cancelled/failed mid-run.
func (e *FlyScanExecutor) Execute(s *scan.Scan, traj []models.Position2D, cfg models.FlyScanConfig, capability models.AcquisitionRateCapability) bool {
	if !e.preflight(s, cfg, capability) {
		return false
	}

	if err := e.Acquisition.ConfigureRate(capability.MeanRateHz); err != nil {
		e.fail(s, fmt.Sprintf("configure_rate failed: %v", err))
		return false
	}
	if err := e.Acquisition.StartStreaming(); err != nil {
		e.fail(s, fmt.Sprintf("start_streaming failed: %v", err))
		return false
	}
	defer func() { _ = e.Acquisition.StopStreaming() }()

	if len(traj) < 2 {
		if err := s.Complete(); err == nil {
			s.PublishDrained(e.Bus)
		}
		return s.Status() == scan.StatusCompleted
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

	displacements := trajectory.Segments(traj)
	arrivalIndex := 0

	for i, disp := range displacements {
		// Safe point between segments: observe pause/cancel.
		if !waitWhilePaused(s) {
			return false
		}

		am := motion.NewAtomicMotion(uuid.NewString(), disp[0], disp[1], cfg.MotionProfile)
		am.SetState(motion.StateExecuting)
		segmentStart := traj[i]
		segmentEnd := traj[i+1]
		e.Motion.SetMotionProfile(cfg.MotionProfile, am.EstimatedDuration().Seconds())
		predicted := am.AcquisitionPositions(segmentStart, capability.MeanRateHz)

		if !e.runSegment(s, am, segmentEnd, predicted, &arrivalIndex, tracker, emergencyCh) {
			return false
		}
	}

	if !waitWhilePaused(s) {
		return false
	}
	if s.Status() == scan.StatusRunning {
		if err := s.Complete(); err != nil {
			e.fail(s, fmt.Sprintf("explicit completion rejected: %v", err))
			return false
		}
		s.PublishDrained(e.Bus)
	}
	return s.Status() == scan.StatusCompleted
}

// runSegment starts the segment's move and concurrently ingests samples
// until the move completes, fails, times out, or the scan is
// cancelled/e-stopped. An emergency stop drains in-flight samples into the
// aggregate before cancelling it. When the scan was already cancelled, the
// aggregate accepts no further points, so samples still buffered at that
// moment are discarded.
func (e *FlyScanExecutor) runSegment(s *scan.Scan, am *motion.AtomicMotion, segmentEnd models.Position2D, predicted []models.Position2D, arrivalIndex *int, tracker *motionTracker, emergencyCh chan struct{}) bool {
	timeout := e.MotionTimeout
	if timeout <= 0 {
		timeout = DefaultMotionTimeout
	}

	motionID, err := e.Motion.MoveTo(segmentEnd)
	if err != nil {
		e.fail(s, fmt.Sprintf("move_to failed: %v", err))
		return false
	}

	ingest := &segmentIngestion{scan: s, bus: e.Bus, predicted: predicted, segmentEnd: segmentEnd, arrivalIndex: arrivalIndex}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(SamplePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-tracker.signal:
			outcome, ok := tracker.take(motionID)
			if !ok {
				continue
			}
			ingest.drain(e.Acquisition.DrainSamples())
			if outcome.failed {
				am.SetState(motion.StateFailed)
				e.fail(s, outcome.errMsg)
				return false
			}
			am.SetState(motion.StateCompleted)
			return true
		case <-emergencyCh:
			e.Motion.Stop()
			ingest.drain(e.Acquisition.DrainSamples())
			_ = s.Cancel()
			s.PublishDrained(e.Bus)
			return false
		case <-ticker.C:
			if s.Status() == scan.StatusCancelled {
				e.Motion.Stop()
				ingest.drain(e.Acquisition.DrainSamples())
				return false
			}
			ingest.drain(e.Acquisition.DrainSamples())
		case <-timer.C:
			e.Motion.Stop()
			am.SetState(motion.StateFailed)
			e.fail(s, fmt.Sprintf("%v after %s", models.ErrMotionTimeout, timeout))
			return false
		}
	}
}

// segmentIngestion pairs arriving samples with predicted positions by
// sequence index. Once the predicted list is exhausted, remaining samples
// are clipped to the segment endpoint and flagged with a one-time overshoot
// warning; the positions are predictions, not measurements, so the clip
// loses nothing the hardware actually reported.
type segmentIngestion struct {
	scan         *scan.Scan
	bus          *events.Bus
	predicted    []models.Position2D
	segmentEnd   models.Position2D
	arrivalIndex *int

	predictedIdx    int
	overshootWarned bool
}

func (g *segmentIngestion) drain(samples []models.VoltageMeasurement) {
	for _, sample := range samples {
		pos := g.segmentEnd
		warning := ""
		if g.predictedIdx < len(g.predicted) {
			pos = g.predicted[g.predictedIdx]
			g.predictedIdx++
		} else if !g.overshootWarned {
			g.overshootWarned = true
			warning = "sample overshoot: clipped to segment endpoint"
		}
		point := models.ScanPointResult{Position: pos, Measurement: sample, PointIndex: *g.arrivalIndex}
		for {
			var err error
			if warning != "" {
				err = g.scan.AddPointWithWarning(point, warning)
			} else {
				err = g.scan.AddPoint(point)
			}
			if err == nil {
				break
			}
			// A mid-segment pause is acknowledged here: hold the sample and
			// retry once the scan resumes. Anything else drops the tail.
			if g.scan.Status() != scan.StatusPaused {
				return
			}
			time.Sleep(PausePollInterval)
		}
		g.scan.PublishDrained(g.bus)
		*g.arrivalIndex++
	}
}

func (e *FlyScanExecutor) preflight(s *scan.Scan, cfg models.FlyScanConfig, capability models.AcquisitionRateCapability) bool {
	if cfg.DesiredAcquisitionRateHz > capability.MeanRateHz {
		e.fail(s, fmt.Sprintf("%v: desired %.2f Hz exceeds measured %.2f Hz", models.ErrCapabilityInsufficient, cfg.DesiredAcquisitionRateHz, capability.MeanRateHz))
		return false
	}
	required := cfg.RequiredRate()
	if capability.GuaranteedRate3Sigma() < required {
		e.fail(s, fmt.Sprintf("%v: guaranteed 3-sigma rate %.2f Hz below required %.2f Hz", models.ErrCapabilityInsufficient, capability.GuaranteedRate3Sigma(), required))
		return false
	}
	if capability.CoefficientOfVariation() > 0.05 && e.OnCapabilityWarning != nil {
		e.OnCapabilityWarning(fmt.Sprintf("acquisition rate coefficient of variation %.1f%% exceeds 5%%", capability.CoefficientOfVariation()*100))
	}
	return true
}

func (e *FlyScanExecutor) fail(s *scan.Scan, reason string) {
	_ = s.Fail(reason)
	s.PublishDrained(e.Bus)
}
