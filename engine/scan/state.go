package scan

import (
	"fmt"

	"github.com/aefi-lab/scanctl/engine/models"
)

// Status is the aggregate-level lifecycle state.
type Status int

const (
	StatusCreated Status = iota
	StatusRunning
	StatusPaused
	StatusCompleted
	StatusCancelled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "CREATED"
	case StatusRunning:
		return "RUNNING"
	case StatusPaused:
		return "PAUSED"
	case StatusCompleted:
		return "COMPLETED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether s is one of the terminal states
// {COMPLETED, CANCELLED, FAILED}.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// transition describes one edge of the lifecycle state machine.
type transition struct {
	from Status
	to   Status
}

var allowedTransitions = map[transition]bool{
	{StatusCreated, StatusRunning}:   true,
	{StatusRunning, StatusPaused}:    true,
	{StatusPaused, StatusRunning}:    true,
	{StatusRunning, StatusRunning}:   true, // add_point while running
	{StatusRunning, StatusCompleted}: true,
	{StatusPaused, StatusCancelled}:  true,
	{StatusRunning, StatusCancelled}: true,
	{StatusRunning, StatusFailed}:    true,
	{StatusPaused, StatusFailed}:     true,
}

// checkTransition returns an error wrapping ErrInvalidStateTransition if
// moving from `from` to `to` is not an allowed edge.
func checkTransition(from, to Status) error {
	if allowedTransitions[transition{from, to}] {
		return nil
	}
	return fmt.Errorf("%s -> %s: %w", from, to, models.ErrInvalidStateTransition)
}
