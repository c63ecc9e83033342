// Package events implements the in-process, synchronous publish/subscribe
// fabric connecting motion ports, acquisition ports, scan executors, and
// listeners (progress reporters, exporters, the live visualization).
//
// Delivery is synchronous on the publisher's goroutine: handlers must stay
// short and non-blocking, scheduling any long work (rendering, export
// writes) onto their own goroutine.
package events

import "github.com/aefi-lab/scanctl/engine/models"

// Type is a stable, lowercase event-type identifier.
type Type string

// Event type catalog. The set is closed: the engine only ever publishes
// these types.
const (
	TypeMotionStarted          Type = "motionstarted"
	TypeMotionCompleted        Type = "motioncompleted"
	TypeMotionFailed           Type = "motionfailed"
	TypeMotionStopped          Type = "motionstopped"
	TypeEmergencyStopTriggered Type = "emergencystoptriggered"
	TypePositionUpdated        Type = "positionupdated"
	TypeScanStarted            Type = "scanstarted"
	TypeScanPointAcquired      Type = "scanpointacquired"
	TypeScanProgress           Type = "scanprogress"
	TypeScanPaused             Type = "scanpaused"
	TypeScanResumed            Type = "scanresumed"
	TypeScanCompleted          Type = "scancompleted"
	TypeScanCancelled          Type = "scancancelled"
	TypeScanFailed             Type = "scanfailed"
)

// MotionStarted is published immediately by a MotionPort implementation when
// a move begins.
type MotionStarted struct {
	MotionID       string
	TargetPosition models.Position2D
}

// MotionCompleted is published exactly once per motion_id on success.
type MotionCompleted struct {
	MotionID      string
	FinalPosition models.Position2D
	DurationMS    int64
}

// MotionFailed is published exactly once per motion_id on failure.
type MotionFailed struct {
	MotionID string
	Error    string
}

// MotionStopped is published after a decelerated stop() call completes.
type MotionStopped struct {
	Reason string
}

// EmergencyStopTriggered carries no payload fields.
type EmergencyStopTriggered struct{}

// PositionUpdated is an optional, best-effort live position report.
type PositionUpdated struct {
	Position models.Position2D
	IsMoving bool
}

// ScanStarted is the first event published for a given scan_id.
type ScanStarted struct {
	ScanID string
	Config interface{}
}

// ScanPointAcquired is published once per recorded point, strictly in
// insertion order.
type ScanPointAcquired struct {
	ScanID      string
	Position    models.Position2D
	Measurement models.VoltageMeasurement
	PointIndex  int
}

// ScanProgress is a coarse summary, optionally carrying a non-blocking
// warning (e.g. fly-scan overshoot clipping).
type ScanProgress struct {
	ScanID  string
	Current int
	Total   int
	Warning string
}

// ScanPaused/ScanResumed/ScanCompleted/ScanCancelled/ScanFailed: terminal or
// pause/resume lifecycle notifications.
type ScanPaused struct {
	ScanID            string
	CurrentPointIndex int
}

type ScanResumed struct {
	ScanID             string
	ResumeFromPointIdx int
}

type ScanCompleted struct {
	ScanID      string
	TotalPoints int
}

type ScanCancelled struct {
	ScanID string
}

type ScanFailed struct {
	ScanID string
	Reason string
}
