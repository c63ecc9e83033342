package application

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aefi-lab/scanctl/engine/models"
	"github.com/aefi-lab/scanctl/engine/ports"
)

// recordingMotion captures MoveTo targets without ever completing a move,
// mimicking a stage with commands still queued.
type recordingMotion struct {
	mu      sync.Mutex
	targets []models.Position2D
	current models.Position2D
	homed   bool
}

func (r *recordingMotion) MoveTo(target models.Position2D) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = append(r.targets, target)
	return "queued", nil
}

func (r *recordingMotion) CurrentPosition() models.Position2D {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *recordingMotion) IsMoving() bool { return false }
func (r *recordingMotion) Stop()          {}
func (r *recordingMotion) EmergencyStop() {}

func (r *recordingMotion) Home(ports.Axis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.homed = true
	r.current = models.Position2D{}
	return nil
}

func (r *recordingMotion) SetReference(axis ports.Axis, value float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch axis {
	case ports.AxisX:
		r.current.X = value
	case ports.AxisY:
		r.current.Y = value
	}
	return nil
}

func (r *recordingMotion) SetMotionProfile(models.MotionProfile, float64) {}
func (r *recordingMotion) AxisLimits() (float64, float64)                 { return 100, 100 }

func (r *recordingMotion) lastTarget(t *testing.T) models.Position2D {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.targets)
	return r.targets[len(r.targets)-1]
}

func TestRelativeMovesChainOffLastTarget(t *testing.T) {
	port := &recordingMotion{}
	svc := NewMotionControlService(port)

	res := svc.MoveRelative(1, 2)
	require.True(t, res.OK)
	require.Equal(t, models.Position2D{X: 1, Y: 2}, res.Target)

	// The first move has not completed; the second displacement must still
	// compound on the queued target, not the physical position.
	res = svc.MoveRelative(3, 4)
	require.True(t, res.OK)
	require.Equal(t, models.Position2D{X: 4, Y: 6}, res.Target)
	require.Equal(t, models.Position2D{X: 4, Y: 6}, port.lastTarget(t))
}

func TestAbsoluteMoveClampsToLimits(t *testing.T) {
	port := &recordingMotion{}
	svc := NewMotionControlService(port)

	res := svc.MoveAbsolute(models.Position2D{X: 150, Y: -5})
	require.True(t, res.OK)
	require.Equal(t, models.Position2D{X: 100, Y: 0}, res.Target)
	require.Equal(t, models.Position2D{X: 100, Y: 0}, port.lastTarget(t))
}

func TestRelativeChainClampsAtEachStep(t *testing.T) {
	port := &recordingMotion{}
	svc := NewMotionControlService(port)

	svc.MoveRelative(90, 0)
	res := svc.MoveRelative(20, 0)
	require.True(t, res.OK)
	require.Equal(t, 100.0, res.Target.X, "chained target must clamp at the axis limit")
}

func TestStopInvalidatesTargetCache(t *testing.T) {
	port := &recordingMotion{}
	svc := NewMotionControlService(port)

	svc.MoveRelative(10, 10)
	svc.Stop()

	// After stop, the next relative move bases off the physical position
	// (still the origin for this port), not the stale queued target.
	res := svc.MoveRelative(1, 1)
	require.True(t, res.OK)
	require.Equal(t, models.Position2D{X: 1, Y: 1}, res.Target)
}

func TestEmergencyStopInvalidatesTargetCache(t *testing.T) {
	port := &recordingMotion{}
	svc := NewMotionControlService(port)

	svc.MoveRelative(10, 10)
	svc.EmergencyStop()

	res := svc.MoveRelative(2, 0)
	require.Equal(t, models.Position2D{X: 2, Y: 0}, res.Target)
}

func TestHomeAndSetReferenceInvalidate(t *testing.T) {
	port := &recordingMotion{}
	svc := NewMotionControlService(port)

	svc.MoveRelative(10, 10)
	res := svc.Home(ports.AxisBoth)
	require.True(t, res.OK)
	require.True(t, port.homed)

	res = svc.MoveRelative(5, 5)
	require.Equal(t, models.Position2D{X: 5, Y: 5}, res.Target)

	res = svc.SetReference(ports.AxisX, 42)
	require.True(t, res.OK)
	res = svc.MoveRelative(1, 0)
	require.Equal(t, models.Position2D{X: 43, Y: 0}, res.Target)
}

// recordingMotionPresenter captures motion output-port calls.
type recordingMotionPresenter struct {
	positions []models.Position2D
	errors    []string
}

func (p *recordingMotionPresenter) PresentPositionUpdated(x, y float64, isMoving bool) {
	p.positions = append(p.positions, models.Position2D{X: x, Y: y})
}

func (p *recordingMotionPresenter) PresentMotionError(reason string) {
	p.errors = append(p.errors, reason)
}

func TestMotionPresenterReceivesUpdatesAndErrors(t *testing.T) {
	port := &recordingMotion{}
	svc := NewMotionControlService(port)
	presenter := &recordingMotionPresenter{}
	svc.Presenter = presenter

	svc.MoveAbsolute(models.Position2D{X: 5, Y: 5})
	require.Equal(t, []models.Position2D{{X: 5, Y: 5}}, presenter.positions)

	svc.MoveAbsolute(models.Position2D{X: math.NaN(), Y: 0})
	require.Len(t, presenter.errors, 1)
}

func TestNonFiniteTargetRejected(t *testing.T) {
	port := &recordingMotion{}
	svc := NewMotionControlService(port)

	res := svc.MoveAbsolute(models.Position2D{X: math.Inf(1), Y: 0})
	require.False(t, res.OK)
	require.NotEmpty(t, res.Error)
}
