package application

import (
	"fmt"
	"sync"

	"github.com/aefi-lab/scanctl/engine/models"
	"github.com/aefi-lab/scanctl/engine/ports"
)

// MotionResult is the fallible return value of every MotionControlService
// operation. Errors are carried as a description rather than panicking
// across the boundary.
type MotionResult struct {
	OK     bool
	Target models.Position2D
	Error  string
}

func ok(target models.Position2D) MotionResult { return MotionResult{OK: true, Target: target} }
func fail(reason string) MotionResult          { return MotionResult{OK: false, Error: reason} }

// MotionControlService drives user-initiated moves, orthogonal to scan
// execution but sharing the same MotionPort. It keeps a last-target cache
// so bursts of commands chain off the queued target instead of a mid-motion
// position read; the cache is invalidated by stop, emergency stop, homing,
// and set_reference.
type MotionControlService struct {
	Motion    ports.MotionPort
	Presenter ports.MotionPresenter // optional

	mu         sync.Mutex
	lastTarget models.Position2D
	hasTarget  bool
}

// NewMotionControlService constructs a service with no cached target; the
// first command will compute its displacement from the port's current
// physical position.
func NewMotionControlService(motion ports.MotionPort) *MotionControlService {
	return &MotionControlService{Motion: motion}
}

// MoveAbsolute queues an absolute move to target, clamped to axis limits.
// Successive calls do not depend on the previous move having completed.
func (m *MotionControlService) MoveAbsolute(target models.Position2D) MotionResult {
	if !target.IsFinite() {
		return m.failed("target position must be finite")
	}
	clamped := m.clamp(target)
	if _, err := m.Motion.MoveTo(clamped); err != nil {
		return m.failed(fmt.Sprintf("move_to failed: %v", err))
	}
	m.setLastTarget(clamped)
	if m.Presenter != nil {
		m.Presenter.PresentPositionUpdated(clamped.X, clamped.Y, true)
	}
	return ok(clamped)
}

// failed builds an error result and forwards it to the optional presenter.
func (m *MotionControlService) failed(reason string) MotionResult {
	if m.Presenter != nil {
		m.Presenter.PresentMotionError(reason)
	}
	return fail(reason)
}

// MoveRelative queues a move of (dx, dy) from the last queued target, not
// from a live read of the physical position, so that a burst of relative
// commands queues correctly without being clobbered by mid-motion position
// reads.
func (m *MotionControlService) MoveRelative(dx, dy float64) MotionResult {
	base := m.baseTarget()
	target := base.Add(dx, dy)
	return m.MoveAbsolute(target)
}

// Stop issues a decelerated stop and invalidates the target cache.
func (m *MotionControlService) Stop() MotionResult {
	m.Motion.Stop()
	m.invalidate()
	return ok(m.Motion.CurrentPosition())
}

// EmergencyStop issues an immediate halt and invalidates the target cache.
func (m *MotionControlService) EmergencyStop() MotionResult {
	m.Motion.EmergencyStop()
	m.invalidate()
	return ok(m.Motion.CurrentPosition())
}

// Home synchronously homes axis and invalidates the target cache.
func (m *MotionControlService) Home(axis ports.Axis) MotionResult {
	if err := m.Motion.Home(axis); err != nil {
		return m.failed(fmt.Sprintf("home failed: %v", err))
	}
	m.invalidate()
	return ok(m.Motion.CurrentPosition())
}

// SetReference redefines the current coordinate on axis and invalidates the
// target cache.
func (m *MotionControlService) SetReference(axis ports.Axis, value float64) MotionResult {
	if err := m.Motion.SetReference(axis, value); err != nil {
		return m.failed(fmt.Sprintf("set_reference failed: %v", err))
	}
	m.invalidate()
	return ok(m.Motion.CurrentPosition())
}

// clamp restricts target to the port's reported axis limits.
func (m *MotionControlService) clamp(target models.Position2D) models.Position2D {
	maxX, maxY := m.Motion.AxisLimits()
	clamped := target
	if clamped.X < 0 {
		clamped.X = 0
	} else if maxX > 0 && clamped.X > maxX {
		clamped.X = maxX
	}
	if clamped.Y < 0 {
		clamped.Y = 0
	} else if maxY > 0 && clamped.Y > maxY {
		clamped.Y = maxY
	}
	return clamped
}

func (m *MotionControlService) baseTarget() models.Position2D {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasTarget {
		return m.lastTarget
	}
	return m.Motion.CurrentPosition()
}

func (m *MotionControlService) setLastTarget(target models.Position2D) {
	m.mu.Lock()
	m.lastTarget = target
	m.hasTarget = true
	m.mu.Unlock()
}

func (m *MotionControlService) invalidate() {
	m.mu.Lock()
	m.hasTarget = false
	m.mu.Unlock()
}
