// Package application implements the scan application service and the
// motion control service: lifecycle orchestration, the single-active-scan
// invariant, and output-port presentation.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/aefi-lab/scanctl/engine/events"
	"github.com/aefi-lab/scanctl/engine/internal/execution"
	"github.com/aefi-lab/scanctl/engine/internal/telemetry/tracing"
	"github.com/aefi-lab/scanctl/engine/models"
	"github.com/aefi-lab/scanctl/engine/ports"
	"github.com/aefi-lab/scanctl/engine/scan"
	"github.com/aefi-lab/scanctl/engine/telemetry/logging"
	"github.com/aefi-lab/scanctl/engine/trajectory"
)

// ScanService enforces at most one active scan, constructs the appropriate
// aggregate and trajectory, and hands execution off to the matching
// executor.
type ScanService struct {
	Motion      ports.MotionPort
	Acquisition ports.AcquisitionPort
	Bus         *events.Bus
	Presenter   ports.ScanPresenter // optional; failures are swallowed and logged
	Logger      *slog.Logger
	Tracer      tracing.Tracer

	mu         sync.Mutex
	active     *scan.Scan
	failReason map[string]string
	busy       atomic.Bool
}

// NewScanService constructs a service wired to the given ports and bus. It
// subscribes its own progress-forwarding handler so presentation fan-out
// happens without coupling the executors to the presenter.
func NewScanService(motion ports.MotionPort, acquisition ports.AcquisitionPort, bus *events.Bus) *ScanService {
	svc := &ScanService{
		Motion: motion, Acquisition: acquisition, Bus: bus,
		Logger: slog.Default(), Tracer: tracing.NewTracer(false),
		failReason: make(map[string]string),
	}
	bus.Subscribe(events.TypeScanFailed, func(payload interface{}) {
		ev := payload.(events.ScanFailed)
		svc.mu.Lock()
		svc.failReason[ev.ScanID] = ev.Reason
		svc.mu.Unlock()
	})
	bus.Subscribe(events.TypeScanProgress, func(payload interface{}) {
		ev := payload.(events.ScanProgress)
		if svc.Presenter == nil {
			return
		}
		svc.safePresent(func() {
			svc.Presenter.PresentScanProgress(ev.Current, ev.Total, map[string]interface{}{"scan_id": ev.ScanID, "warning": ev.Warning})
		})
	})
	return svc
}

// ExecuteStepScan validates cfg, constructs a StepScan aggregate and its
// trajectory, and runs the step-scan executor synchronously, returning once
// the scan reaches a terminal state. Rejected if another scan is active.
func (svc *ScanService) ExecuteStepScan(cfg models.StepScanConfig) (*scan.Scan, bool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	traj, err := trajectory.Generate(cfg)
	if err != nil {
		return nil, false, err
	}

	s, err := svc.claim(scan.KindStepScan, cfg.TotalPoints())
	if err != nil {
		return nil, false, err
	}
	defer svc.release()

	ctx, span := svc.Tracer.StartSpan(context.Background(), "scan.step")
	span.SetAttribute("scan_id", s.ID())
	span.SetAttribute("total_points", cfg.TotalPoints())
	defer span.End()
	log := logging.New(svc.Logger)

	if err := s.Start(cfg); err != nil {
		return s, false, err
	}
	svc.presentStarted(s.ID(), cfg)
	s.PublishDrained(svc.Bus)
	log.InfoCtx(ctx, "step scan started", "scan_id", s.ID(), "total_points", cfg.TotalPoints())

	executor := &execution.StepScanExecutor{Motion: svc.Motion, Acquisition: svc.Acquisition, Bus: svc.Bus}
	ok := executor.Execute(s, traj, cfg)
	log.InfoCtx(ctx, "step scan finished", "scan_id", s.ID(), "status", s.Status().String())
	svc.presentTerminal(s)
	return s, ok, nil
}

// ExecuteFlyScan validates cfg, constructs a FlyScan aggregate and its
// trajectory, and runs the fly-scan executor synchronously against the
// supplied measured capability.
func (svc *ScanService) ExecuteFlyScan(cfg models.FlyScanConfig, capability models.AcquisitionRateCapability) (*scan.Scan, bool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	traj, err := trajectory.Generate(cfg.StepScanConfig)
	if err != nil {
		return nil, false, err
	}

	s, err := svc.claim(scan.KindFlyScan, cfg.TotalPoints())
	if err != nil {
		return nil, false, err
	}
	defer svc.release()

	ctx, span := svc.Tracer.StartSpan(context.Background(), "scan.fly")
	span.SetAttribute("scan_id", s.ID())
	span.SetAttribute("required_rate_hz", cfg.RequiredRate())
	defer span.End()
	log := logging.New(svc.Logger)

	if err := s.Start(cfg); err != nil {
		return s, false, err
	}
	svc.presentStarted(s.ID(), cfg)
	s.PublishDrained(svc.Bus)
	log.InfoCtx(ctx, "fly scan started", "scan_id", s.ID(), "measured_rate_hz", capability.MeanRateHz)

	executor := &execution.FlyScanExecutor{
		Motion:        svc.Motion,
		Acquisition:   svc.Acquisition,
		Bus:           svc.Bus,
		MotionTimeout: cfg.MotionTimeout,
		OnCapabilityWarning: func(msg string) {
			svc.Logger.Warn("fly-scan capability warning", "scan_id", s.ID(), "detail", msg)
		},
	}
	ok := executor.Execute(s, traj, cfg, capability)
	log.InfoCtx(ctx, "fly scan finished", "scan_id", s.ID(), "status", s.Status().String(), "points", len(s.Snapshot().Points))
	svc.presentTerminal(s)
	return s, ok, nil
}

// ExecuteStepScanFromDTO parses the boundary DTO (raw numbers, pattern as a
// string) and runs the resulting step scan.
func (svc *ScanService) ExecuteStepScanFromDTO(dto models.StepScanDTO) (*scan.Scan, bool, error) {
	cfg, err := dto.Parse()
	if err != nil {
		return nil, false, err
	}
	return svc.ExecuteStepScan(cfg)
}

// ExecuteFlyScanFromDTO parses the boundary DTO and runs the resulting fly
// scan against the supplied measured capability.
func (svc *ScanService) ExecuteFlyScanFromDTO(dto models.FlyScanDTO, capability models.AcquisitionRateCapability) (*scan.Scan, bool, error) {
	cfg, err := dto.Parse()
	if err != nil {
		return nil, false, err
	}
	return svc.ExecuteFlyScan(cfg, capability)
}

// PauseScan pauses the currently active scan, if any.
func (svc *ScanService) PauseScan() error {
	s := svc.currentActive()
	if s == nil {
		return models.ErrNoActiveScan
	}
	if err := s.Pause(); err != nil {
		return err
	}
	s.PublishDrained(svc.Bus)
	if svc.Presenter != nil {
		svc.safePresent(func() { svc.Presenter.PresentScanPaused(s.ID(), len(s.Snapshot().Points)) })
	}
	return nil
}

// ResumeScan resumes the currently active scan, if any.
func (svc *ScanService) ResumeScan() error {
	s := svc.currentActive()
	if s == nil {
		return models.ErrNoActiveScan
	}
	if err := s.Resume(); err != nil {
		return err
	}
	s.PublishDrained(svc.Bus)
	if svc.Presenter != nil {
		svc.safePresent(func() { svc.Presenter.PresentScanResumed(s.ID(), len(s.Snapshot().Points)) })
	}
	return nil
}

// CancelScan cancels the currently active scan, if any. The executor
// observes the cancelled status at its next safe point and unwinds without
// touching the outbox again, so the cancellation event is published here.
func (svc *ScanService) CancelScan() error {
	s := svc.currentActive()
	if s == nil {
		return models.ErrNoActiveScan
	}
	if err := s.Cancel(); err != nil {
		return err
	}
	s.PublishDrained(svc.Bus)
	return nil
}

// Status returns a snapshot of the currently active scan, or false if none.
func (svc *ScanService) Status() (scan.Snapshot, bool) {
	s := svc.currentActive()
	if s == nil {
		return scan.Snapshot{}, false
	}
	return s.Snapshot(), true
}

func (svc *ScanService) claim(kind scan.Kind, expectedPoints int) (*scan.Scan, error) {
	if !svc.busy.CompareAndSwap(false, true) {
		return nil, models.ErrScanAlreadyActive
	}
	s := scan.New(kind, expectedPoints)
	svc.mu.Lock()
	svc.active = s
	svc.mu.Unlock()
	return s, nil
}

func (svc *ScanService) release() {
	svc.busy.Store(false)
}

func (svc *ScanService) currentActive() *scan.Scan {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.active
}

func (svc *ScanService) presentStarted(scanID string, cfg interface{}) {
	if svc.Presenter == nil {
		return
	}
	svc.safePresent(func() { svc.Presenter.PresentScanStarted(scanID, configToMap(cfg)) })
}

func (svc *ScanService) presentTerminal(s *scan.Scan) {
	snap := s.Snapshot()
	if svc.Presenter != nil {
		svc.safePresent(func() {
			switch snap.Status {
			case scan.StatusCompleted:
				svc.Presenter.PresentScanCompleted(snap.ID, len(snap.Points))
			case scan.StatusCancelled:
				svc.Presenter.PresentScanCancelled(snap.ID)
			case scan.StatusFailed:
				svc.mu.Lock()
				reason := svc.failReason[snap.ID]
				delete(svc.failReason, snap.ID)
				svc.mu.Unlock()
				svc.Presenter.PresentScanFailed(snap.ID, reason)
			}
		})
	}
}

// safePresent invokes fn, recovering and logging any panic so a faulty
// presenter implementation cannot take down the scan executor goroutine.
func (svc *ScanService) safePresent(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			svc.Logger.Error("scan presenter panicked", "panic", r)
		}
	}()
	fn()
}

// configToMap renders a config DTO as a presentation-friendly map. Kept
// deliberately shallow; the presenter is expected to do its own formatting.
func configToMap(cfg interface{}) map[string]interface{} {
	switch c := cfg.(type) {
	case models.StepScanConfig:
		return map[string]interface{}{
			"x_nb_points": c.XNbPoints, "y_nb_points": c.YNbPoints,
			"pattern": c.Pattern.String(), "total_points": c.TotalPoints(),
		}
	case models.FlyScanConfig:
		return map[string]interface{}{
			"x_nb_points": c.XNbPoints, "y_nb_points": c.YNbPoints,
			"pattern": c.Pattern.String(), "total_points": c.TotalPoints(),
			"required_rate_hz": c.RequiredRate(),
		}
	default:
		return map[string]interface{}{"config": fmt.Sprintf("%v", cfg)}
	}
}
