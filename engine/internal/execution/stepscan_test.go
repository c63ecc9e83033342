package execution

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aefi-lab/scanctl/engine/events"
	"github.com/aefi-lab/scanctl/engine/models"
	"github.com/aefi-lab/scanctl/engine/ports"
	"github.com/aefi-lab/scanctl/engine/scan"
	"github.com/aefi-lab/scanctl/engine/simport"
	"github.com/aefi-lab/scanctl/engine/trajectory"
)

// eventLog records the scan event stream for ordering assertions.
type eventLog struct {
	mu     sync.Mutex
	types  []events.Type
	points []events.ScanPointAcquired

	pointCh chan events.ScanPointAcquired
}

func newEventLog(bus *events.Bus) *eventLog {
	log := &eventLog{pointCh: make(chan events.ScanPointAcquired, 256)}
	record := func(t events.Type) events.Handler {
		return func(payload interface{}) {
			log.mu.Lock()
			log.types = append(log.types, t)
			if p, ok := payload.(events.ScanPointAcquired); ok {
				log.points = append(log.points, p)
			}
			log.mu.Unlock()
			if p, ok := payload.(events.ScanPointAcquired); ok {
				log.pointCh <- p
			}
		}
	}
	for _, t := range []events.Type{
		events.TypeScanStarted, events.TypeScanPointAcquired, events.TypeScanPaused,
		events.TypeScanResumed, events.TypeScanCompleted, events.TypeScanCancelled,
		events.TypeScanFailed,
	} {
		bus.Subscribe(t, record(t))
	}
	return log
}

func (l *eventLog) snapshot() ([]events.Type, []events.ScanPointAcquired) {
	l.mu.Lock()
	defer l.mu.Unlock()
	types := append([]events.Type(nil), l.types...)
	points := append([]events.ScanPointAcquired(nil), l.points...)
	return types, points
}

func (l *eventLog) count(t events.Type) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, got := range l.types {
		if got == t {
			n++
		}
	}
	return n
}

func stepConfig(nx, ny int) models.StepScanConfig {
	return models.StepScanConfig{
		Zone:                 models.ScanZone{XMin: 0, XMax: 10, YMin: 0, YMax: 10},
		XNbPoints:            nx,
		YNbPoints:            ny,
		Pattern:              models.PatternSerpentine,
		AveragingPerPosition: 1,
	}
}

func newStepFixture(t *testing.T, cfg models.StepScanConfig, moveDelay time.Duration) (*StepScanExecutor, *scan.Scan, []models.Position2D, *eventLog, *simport.MotionSim) {
	t.Helper()
	bus := events.NewBus(nil)
	log := newEventLog(bus)
	motionPort := simport.NewMotionSim(bus, 100, 100)
	motionPort.MoveDelay = moveDelay
	acq := simport.NewAcquisitionSim(models.VoltageMeasurement{UxI: 1, UxQ: 1, UyI: 1, UyQ: 1, UzI: 1, UzQ: 1})

	traj, err := trajectory.Generate(cfg)
	require.NoError(t, err)

	s := scan.New(scan.KindStepScan, cfg.TotalPoints())
	require.NoError(t, s.Start(cfg))
	s.PublishDrained(bus)

	return &StepScanExecutor{Motion: motionPort, Acquisition: acq, Bus: bus}, s, traj, log, motionPort
}

func TestStepScanHappyPath(t *testing.T) {
	cfg := stepConfig(3, 3)
	exec, s, traj, log, _ := newStepFixture(t, cfg, 0)

	ok := exec.Execute(s, traj, cfg)
	require.True(t, ok)
	require.Equal(t, scan.StatusCompleted, s.Status())

	types, points := log.snapshot()
	require.Len(t, points, 9)

	wantOrder := []models.Position2D{
		{X: 0, Y: 0}, {X: 5, Y: 0}, {X: 10, Y: 0},
		{X: 10, Y: 5}, {X: 5, Y: 5}, {X: 0, Y: 5},
		{X: 0, Y: 10}, {X: 5, Y: 10}, {X: 10, Y: 10},
	}
	for i, p := range points {
		require.Equal(t, wantOrder[i], p.Position, "point %d", i)
		require.Equal(t, i, p.PointIndex)
		require.Equal(t, 1.0, p.Measurement.UxI)
	}

	require.Equal(t, events.TypeScanStarted, types[0])
	require.Equal(t, events.TypeScanCompleted, types[len(types)-1])
}

func TestStepScanAveraging(t *testing.T) {
	cfg := stepConfig(2, 2)
	cfg.AveragingPerPosition = 4
	exec, s, traj, log, _ := newStepFixture(t, cfg, 0)

	ok := exec.Execute(s, traj, cfg)
	require.True(t, ok)

	_, points := log.snapshot()
	require.Len(t, points, 4)
	// Identical samples average to themselves.
	require.Equal(t, 1.0, points[0].Measurement.UxI)
}

func TestStepScanPauseResume(t *testing.T) {
	cfg := stepConfig(5, 2)
	cfg.StabilizationDelay = 5 * time.Millisecond
	exec, s, traj, log, _ := newStepFixture(t, cfg, 2*time.Millisecond)

	bus := exec.Bus
	done := make(chan bool, 1)
	go func() { done <- exec.Execute(s, traj, cfg) }()

	for i := 0; i < 3; i++ {
		select {
		case <-log.pointCh:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for point events")
		}
	}
	require.NoError(t, s.Pause())
	s.PublishDrained(bus)
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, s.Resume())
	s.PublishDrained(bus)

	require.True(t, <-done)
	require.Equal(t, scan.StatusCompleted, s.Status())
	require.Equal(t, 10, log.count(events.TypeScanPointAcquired))
	require.Equal(t, 1, log.count(events.TypeScanPaused))
	require.Equal(t, 1, log.count(events.TypeScanResumed))
}

func TestStepScanCancelMidScan(t *testing.T) {
	cfg := stepConfig(5, 4)
	exec, s, traj, log, _ := newStepFixture(t, cfg, 20*time.Millisecond)

	done := make(chan bool, 1)
	go func() { done <- exec.Execute(s, traj, cfg) }()

	time.Sleep(150 * time.Millisecond)
	require.NoError(t, s.Cancel())
	s.PublishDrained(exec.Bus)

	require.False(t, <-done)
	require.Equal(t, scan.StatusCancelled, s.Status())
	require.Less(t, log.count(events.TypeScanPointAcquired), 20)
	require.Equal(t, 1, log.count(events.TypeScanCancelled))
	require.Equal(t, 0, log.count(events.TypeScanCompleted))
}

func TestStepScanMotionFailure(t *testing.T) {
	cfg := stepConfig(3, 3)
	exec, s, traj, log, motionPort := newStepFixture(t, cfg, 0)
	motionPort.FailOnMoveN = 3

	ok := exec.Execute(s, traj, cfg)
	require.False(t, ok)
	require.Equal(t, scan.StatusFailed, s.Status())
	require.Equal(t, 2, log.count(events.TypeScanPointAcquired))
	require.Equal(t, 1, log.count(events.TypeScanFailed))

	snap := s.Snapshot()
	require.Len(t, snap.Points, 2)
}

// deadMotion acknowledges moves but never completes them.
type deadMotion struct {
	bus *events.Bus

	mu      sync.Mutex
	moves   int
	stopped bool
}

func (d *deadMotion) MoveTo(target models.Position2D) (string, error) {
	d.mu.Lock()
	d.moves++
	id := "dead-motion"
	d.mu.Unlock()
	d.bus.Publish(events.TypeMotionStarted, events.MotionStarted{MotionID: id, TargetPosition: target})
	return id, nil
}

func (d *deadMotion) CurrentPosition() models.Position2D { return models.Position2D{} }
func (d *deadMotion) IsMoving() bool                     { return true }

func (d *deadMotion) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
}

func (d *deadMotion) EmergencyStop()                                 {}
func (d *deadMotion) Home(ports.Axis) error                          { return nil }
func (d *deadMotion) SetReference(ports.Axis, float64) error         { return nil }
func (d *deadMotion) SetMotionProfile(models.MotionProfile, float64) {}
func (d *deadMotion) AxisLimits() (float64, float64)                 { return 100, 100 }

func (d *deadMotion) wasStopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

func (d *deadMotion) moveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.moves
}

func TestStepScanMotionTimeout(t *testing.T) {
	bus := events.NewBus(nil)
	log := newEventLog(bus)
	dead := &deadMotion{bus: bus}
	acq := simport.NewAcquisitionSim(models.VoltageMeasurement{})

	cfg := stepConfig(2, 2)
	cfg.MotionTimeout = 50 * time.Millisecond
	traj, err := trajectory.Generate(cfg)
	require.NoError(t, err)

	s := scan.New(scan.KindStepScan, cfg.TotalPoints())
	require.NoError(t, s.Start(cfg))
	s.PublishDrained(bus)

	exec := &StepScanExecutor{Motion: dead, Acquisition: acq, Bus: bus}
	ok := exec.Execute(s, traj, cfg)

	require.False(t, ok)
	require.Equal(t, scan.StatusFailed, s.Status())
	require.True(t, dead.wasStopped())
	require.Equal(t, 1, log.count(events.TypeScanFailed))

	_, points := log.snapshot()
	require.Empty(t, points)
}

func TestStepScanEmergencyStopDuringWait(t *testing.T) {
	bus := events.NewBus(nil)
	log := newEventLog(bus)
	dead := &deadMotion{bus: bus}
	acq := simport.NewAcquisitionSim(models.VoltageMeasurement{})

	cfg := stepConfig(2, 2)
	cfg.MotionTimeout = 5 * time.Second
	traj, err := trajectory.Generate(cfg)
	require.NoError(t, err)

	s := scan.New(scan.KindStepScan, cfg.TotalPoints())
	require.NoError(t, s.Start(cfg))
	s.PublishDrained(bus)

	exec := &StepScanExecutor{Motion: dead, Acquisition: acq, Bus: bus}
	done := make(chan bool, 1)
	go func() { done <- exec.Execute(s, traj, cfg) }()

	time.Sleep(50 * time.Millisecond)
	bus.Publish(events.TypeEmergencyStopTriggered, events.EmergencyStopTriggered{})

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("emergency stop did not unblock the motion wait")
	}
	require.Equal(t, scan.StatusCancelled, s.Status())
	require.Equal(t, 1, log.count(events.TypeScanCancelled))
}
