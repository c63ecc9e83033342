// Package ports declares the abstract hardware and presentation surfaces
// consumed by the scan executors and application services. Implementations
// live outside the engine core: hardware adapters, simulators
// (engine/simport), or UI/export collaborators.
package ports

import "github.com/aefi-lab/scanctl/engine/models"

// Axis selects a single motion axis, or both, for Home/SetReference.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisBoth
)

// MotionPort is the abstract surface over the XY stage hardware.
//
// MoveTo is non-blocking: it returns a correlation id immediately, and the
// implementation is required to publish a motionstarted event right away,
// followed later by exactly one of motioncompleted{motion_id} or
// motionfailed{motion_id, ...} on the shared event bus.
type MotionPort interface {
	MoveTo(target models.Position2D) (motionID string, err error)
	CurrentPosition() models.Position2D
	IsMoving() bool
	Stop()
	EmergencyStop()
	Home(axis Axis) error
	SetReference(axis Axis, value float64) error
	SetMotionProfile(profile models.MotionProfile, estimatedDuration float64)
	AxisLimits() (maxX, maxY float64)
}
