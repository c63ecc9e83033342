// Package motion implements the trapezoidal motion-profile integrator and
// the AtomicMotion segment model used by the fly-scan executor to predict
// sample positions during continuous motion.
package motion

import (
	"math"
	"time"

	"github.com/aefi-lab/scanctl/engine/models"
)

// State is the executor-visible lifecycle of a single AtomicMotion segment.
type State int

const (
	StatePending State = iota
	StateExecuting
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateExecuting:
		return "EXECUTING"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// AtomicMotion is a single relative straight-line displacement segment.
type AtomicMotion struct {
	ID      string
	Dx, Dy  float64
	Profile models.MotionProfile

	state State
}

// NewAtomicMotion constructs a segment in the PENDING state.
func NewAtomicMotion(id string, dx, dy float64, profile models.MotionProfile) *AtomicMotion {
	return &AtomicMotion{ID: id, Dx: dx, Dy: dy, Profile: profile, state: StatePending}
}

// State returns the segment's current execution state.
func (m *AtomicMotion) State() State { return m.state }

// SetState transitions the segment's execution state. Callers (executors)
// are responsible for only driving valid transitions; AtomicMotion itself
// does not enforce a state machine because it is a leaf value used purely
// for prediction and bookkeeping, not a domain aggregate.
func (m *AtomicMotion) SetState(s State) { m.state = s }

// Distance returns the Euclidean length of the segment.
func (m *AtomicMotion) Distance() float64 {
	return math.Hypot(m.Dx, m.Dy)
}

// unitDirection returns the normalized (dx, dy) direction. For a zero-length
// segment it returns (0, 0).
func (m *AtomicMotion) unitDirection() (ux, uy float64) {
	d := m.Distance()
	if d == 0 {
		return 0, 0
	}
	return m.Dx / d, m.Dy / d
}

// trapezoid holds the intermediate quantities of the trapezoidal profile
// computation, shared by EstimatedDuration and VelocityAtTime.
type trapezoid struct {
	distance                float64
	tAcc, dAcc, tDec, dDec  float64
	triangular              bool
	cruiseDuration          float64
	totalDuration           float64
	minSpeed, targetSpeed   float64
	accel, decel            float64
}

func (m *AtomicMotion) computeTrapezoid() trapezoid {
	p := m.Profile
	distance := m.Distance()

	tAcc := (p.TargetSpeed - p.MinSpeed) / p.Acceleration
	dAcc := p.MinSpeed*tAcc + 0.5*p.Acceleration*tAcc*tAcc

	tDec := (p.TargetSpeed - p.MinSpeed) / p.Deceleration
	dDec := p.TargetSpeed*tDec - 0.5*p.Deceleration*tDec*tDec

	t := trapezoid{distance: distance, tAcc: tAcc, dAcc: dAcc, tDec: tDec, dDec: dDec,
		minSpeed: p.MinSpeed, targetSpeed: p.TargetSpeed, accel: p.Acceleration, decel: p.Deceleration}

	if distance >= dAcc+dDec {
		t.cruiseDuration = (distance - dAcc - dDec) / p.TargetSpeed
		t.totalDuration = tAcc + t.cruiseDuration + tDec
	} else {
		t.triangular = true
		t.totalDuration = distance / ((p.MinSpeed + p.TargetSpeed) / 2)
	}
	return t
}

// EstimatedDuration returns the predicted time to traverse the segment under
// its motion profile, using a trapezoidal (or, for short segments,
// triangular) velocity profile.
func (m *AtomicMotion) EstimatedDuration() time.Duration {
	t := m.computeTrapezoid()
	return time.Duration(t.totalDuration * float64(time.Second))
}

// VelocityAtTime returns the scalar speed along the segment's direction at
// elapsed time t (seconds since the segment started), clamped to zero
// before the segment starts and after it ends.
func (m *AtomicMotion) VelocityAtTime(t float64) float64 {
	tz := m.computeTrapezoid()
	if t <= 0 || t >= tz.totalDuration {
		return 0
	}
	if tz.triangular {
		// Short segment: the profile never reaches cruise. Resolved as the
		// constant mean of min and target speeds, consistent with the
		// duration formula distance / mean(min, target).
		return (tz.minSpeed + tz.targetSpeed) / 2
	}
	switch {
	case t < tz.tAcc:
		return tz.minSpeed + tz.accel*t
	case t < tz.tAcc+tz.cruiseDuration:
		return tz.targetSpeed
	default:
		tIntoDecel := t - tz.tAcc - tz.cruiseDuration
		return tz.targetSpeed - tz.decel*tIntoDecel
	}
}

// overshootGuard is the tolerance below which a numerically-integrated
// endpoint is considered to already coincide with the segment's true
// endpoint, preventing a duplicate final sample from floating-point drift.
const overshootGuard = 1e-6

// AcquisitionPositions integrates VelocityAtTime at 1/rateHz intervals
// starting from start, returning the discrete predicted positions sampled
// during this segment. It always appends the exact segment endpoint
// (start + (dx, dy)) if the last integrated position is not already within
// overshootGuard millimeters of it.
func (m *AtomicMotion) AcquisitionPositions(start models.Position2D, rateHz float64) []models.Position2D {
	endpoint := start.Add(m.Dx, m.Dy)
	if rateHz <= 0 || m.Distance() == 0 {
		return []models.Position2D{endpoint}
	}

	ux, uy := m.unitDirection()
	dt := 1.0 / rateHz
	tz := m.computeTrapezoid()

	positions := make([]models.Position2D, 0, int(tz.totalDuration*rateHz)+2)
	var traveled float64
	var elapsed float64
	for {
		elapsed += dt
		if elapsed >= tz.totalDuration {
			break
		}
		v := m.VelocityAtTime(elapsed)
		traveled += v * dt
		if traveled > tz.distance {
			traveled = tz.distance
		}
		pos := models.Position2D{X: start.X + ux*traveled, Y: start.Y + uy*traveled}
		positions = append(positions, pos)
		if traveled >= tz.distance {
			break
		}
	}

	if len(positions) == 0 || positions[len(positions)-1].DistanceTo(endpoint) > overshootGuard {
		positions = append(positions, endpoint)
	}
	return positions
}
