package ports

// ScanPresenter is the output port through which the scan application
// service presents lifecycle transitions to an optional UI/logging
// collaborator, in addition to publishing events on the bus. A nil
// ScanPresenter is valid, and any panic raised by an implementation is
// recovered and logged by the caller rather than propagated.
type ScanPresenter interface {
	PresentScanStarted(scanID string, config map[string]interface{})
	PresentScanProgress(current, total int, pointData map[string]interface{})
	PresentScanPaused(scanID string, pointIndex int)
	PresentScanResumed(scanID string, pointIndex int)
	PresentScanCompleted(scanID string, totalPoints int)
	PresentScanFailed(scanID string, reason string)
	PresentScanCancelled(scanID string)
}

// MotionPresenter is the output port for user-driven motion control,
// distinct from scan presentation.
type MotionPresenter interface {
	PresentPositionUpdated(x, y float64, isMoving bool)
	PresentMotionError(reason string)
}
