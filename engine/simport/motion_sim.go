// Package simport provides in-memory simulated MotionPort and
// AcquisitionPort implementations used by tests and the cmd/scanctl
// smoke-test CLI. They are configurable fakes with injectable failure and
// delay behavior, not hardware adapters.
package simport

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aefi-lab/scanctl/engine/events"
	"github.com/aefi-lab/scanctl/engine/models"
	"github.com/aefi-lab/scanctl/engine/ports"
)

// MotionSim is a simulated MotionPort. Moves "complete" after MoveDelay (or
// instantly if zero) and publish motioncompleted/motionfailed on Bus.
// FailOnMoveN, when > 0, causes the Nth MoveTo call to fail instead of
// succeed, for exercising hardware-failure paths.
type MotionSim struct {
	Bus       *events.Bus
	MoveDelay time.Duration

	FailOnMoveN int // 1-indexed; 0 disables

	mu         sync.Mutex
	current    models.Position2D
	moving     bool
	moveCount  int64
	maxX, maxY float64
}

// NewMotionSim constructs a simulator starting at the origin.
func NewMotionSim(bus *events.Bus, maxX, maxY float64) *MotionSim {
	return &MotionSim{Bus: bus, maxX: maxX, maxY: maxY}
}

func (m *MotionSim) MoveTo(target models.Position2D) (string, error) {
	motionID := uuid.NewString()
	m.mu.Lock()
	m.moving = true
	n := atomic.AddInt64(&m.moveCount, 1)
	m.mu.Unlock()

	m.Bus.Publish(events.TypeMotionStarted, events.MotionStarted{MotionID: motionID, TargetPosition: target})

	shouldFail := m.FailOnMoveN > 0 && int(n) == m.FailOnMoveN
	go func() {
		if m.MoveDelay > 0 {
			time.Sleep(m.MoveDelay)
		}
		m.mu.Lock()
		m.moving = false
		if !shouldFail {
			m.current = target
		}
		m.mu.Unlock()

		// Publish outside the lock: handlers run synchronously and may read
		// the simulator's position back.
		if shouldFail {
			m.Bus.Publish(events.TypeMotionFailed, events.MotionFailed{MotionID: motionID, Error: "simulated hardware fault"})
			return
		}
		m.Bus.Publish(events.TypeMotionCompleted, events.MotionCompleted{MotionID: motionID, FinalPosition: target, DurationMS: m.MoveDelay.Milliseconds()})
	}()
	return motionID, nil
}

// MoveCount reports how many MoveTo calls the simulator has accepted.
func (m *MotionSim) MoveCount() int {
	return int(atomic.LoadInt64(&m.moveCount))
}

func (m *MotionSim) CurrentPosition() models.Position2D {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *MotionSim) IsMoving() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moving
}

func (m *MotionSim) Stop() {
	m.mu.Lock()
	m.moving = false
	m.mu.Unlock()
	m.Bus.Publish(events.TypeMotionStopped, events.MotionStopped{Reason: "user_requested"})
}

func (m *MotionSim) EmergencyStop() {
	m.mu.Lock()
	m.moving = false
	m.mu.Unlock()
	m.Bus.Publish(events.TypeEmergencyStopTriggered, events.EmergencyStopTriggered{})
}

func (m *MotionSim) Home(axis ports.Axis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch axis {
	case ports.AxisX:
		m.current.X = 0
	case ports.AxisY:
		m.current.Y = 0
	default:
		m.current = models.Position2D{}
	}
	return nil
}

func (m *MotionSim) SetReference(axis ports.Axis, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch axis {
	case ports.AxisX:
		m.current.X = value
	case ports.AxisY:
		m.current.Y = value
	default:
		return fmt.Errorf("set_reference requires a single axis, got Both")
	}
	return nil
}

func (m *MotionSim) SetMotionProfile(models.MotionProfile, float64) {}

func (m *MotionSim) AxisLimits() (float64, float64) { return m.maxX, m.maxY }

var _ ports.MotionPort = (*MotionSim)(nil)
