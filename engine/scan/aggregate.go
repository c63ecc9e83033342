// Package scan implements the Scan aggregate: identity, state machine,
// point accumulation, and the domain-event outbox drained by executors
// after each mutation.
package scan

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aefi-lab/scanctl/engine/events"
	"github.com/aefi-lab/scanctl/engine/models"
)

// Kind distinguishes a StepScan aggregate from a FlyScan aggregate. Both
// share the same Scan struct and state machine; Kind only changes how
// ExpectedPoints is interpreted: a hard ceiling for StepScan, a grid
// estimate for FlyScan.
type Kind int

const (
	KindStepScan Kind = iota
	KindFlyScan
)

// Scan is the aggregate root mutated exclusively by the executor for the
// duration of Execute, and by the application service for cancel/pause/
// resume.
type Scan struct {
	mu sync.Mutex

	id             string
	kind           Kind
	status         Status
	points         []models.ScanPointResult
	createdAt      time.Time
	startedAt      time.Time
	endedAt        time.Time
	expectedPoints int

	outbox []outboxEntry
}

type outboxEntry struct {
	eventType events.Type
	payload   interface{}
}

// OutboxEvent is one drained domain event, ready to publish on the bus.
type OutboxEvent struct {
	Type    events.Type
	Payload interface{}
}

// New constructs a Scan in the CREATED state with a freshly generated
// scan_id.
func New(kind Kind, expectedPoints int) *Scan {
	return &Scan{
		id:             uuid.NewString(),
		kind:           kind,
		status:         StatusCreated,
		createdAt:      time.Now(),
		expectedPoints: expectedPoints,
	}
}

// ID returns the scan's UUID identity.
func (s *Scan) ID() string { return s.id }

// Kind reports whether this is a StepScan or FlyScan aggregate.
func (s *Scan) Kind() Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kind
}

// Status returns the current lifecycle state.
func (s *Scan) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ExpectedPoints returns the grid-derived (StepScan) or estimated (FlyScan)
// point count.
func (s *Scan) ExpectedPoints() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expectedPoints
}

// Snapshot is an immutable, point-in-time view of the aggregate, handed to
// readers instead of a live reference.
type Snapshot struct {
	ID             string
	Status         Status
	Points         []models.ScanPointResult
	CreatedAt      time.Time
	StartedAt      time.Time
	EndedAt        time.Time
	ExpectedPoints int
}

// Snapshot returns a defensive copy of the aggregate's externally visible
// state.
func (s *Scan) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	points := make([]models.ScanPointResult, len(s.points))
	copy(points, s.points)
	return Snapshot{
		ID: s.id, Status: s.status, Points: points,
		CreatedAt: s.createdAt, StartedAt: s.startedAt, EndedAt: s.endedAt,
		ExpectedPoints: s.expectedPoints,
	}
}

// Start transitions CREATED -> RUNNING, recording startedAt and emitting
// scanstarted.
func (s *Scan) Start(config interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusCreated {
		return fmt.Errorf("start from %s: %w", s.status, models.ErrInvalidStateTransition)
	}
	if err := checkTransition(s.status, StatusRunning); err != nil {
		return err
	}
	s.status = StatusRunning
	s.startedAt = time.Now()
	s.emit(events.TypeScanStarted, events.ScanStarted{ScanID: s.id, Config: config})
	return nil
}

// Pause transitions RUNNING -> PAUSED.
func (s *Scan) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkTransition(s.status, StatusPaused); err != nil {
		return err
	}
	s.status = StatusPaused
	s.emit(events.TypeScanPaused, events.ScanPaused{ScanID: s.id, CurrentPointIndex: len(s.points)})
	return nil
}

// Resume transitions PAUSED -> RUNNING.
func (s *Scan) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPaused {
		return fmt.Errorf("resume from %s: %w", s.status, models.ErrInvalidStateTransition)
	}
	if err := checkTransition(s.status, StatusRunning); err != nil {
		return err
	}
	s.status = StatusRunning
	s.emit(events.TypeScanResumed, events.ScanResumed{ScanID: s.id, ResumeFromPointIdx: len(s.points)})
	return nil
}

// Cancel transitions RUNNING or PAUSED -> CANCELLED (terminal).
func (s *Scan) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkTransition(s.status, StatusCancelled); err != nil {
		return err
	}
	s.status = StatusCancelled
	s.endedAt = time.Now()
	s.emit(events.TypeScanCancelled, events.ScanCancelled{ScanID: s.id})
	return nil
}

// Fail transitions RUNNING or PAUSED -> FAILED (terminal), recording reason.
func (s *Scan) Fail(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkTransition(s.status, StatusFailed); err != nil {
		return err
	}
	s.status = StatusFailed
	s.endedAt = time.Now()
	s.emit(events.TypeScanFailed, events.ScanFailed{ScanID: s.id, Reason: reason})
	return nil
}

// completeLocked transitions RUNNING -> COMPLETED (terminal). Only
// AddPoint's auto-completion or the executor's explicit Complete call may
// trigger it. Callers must hold s.mu.
func (s *Scan) completeLocked() {
	s.status = StatusCompleted
	s.endedAt = time.Now()
	s.emit(events.TypeScanCompleted, events.ScanCompleted{ScanID: s.id, TotalPoints: len(s.points)})
}

// Complete explicitly transitions RUNNING -> COMPLETED. Used by the
// step-scan executor when point-count auto-completion did not already fire,
// and by the fly-scan executor on final segment completion.
func (s *Scan) Complete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusCompleted {
		return nil
	}
	if err := checkTransition(s.status, StatusCompleted); err != nil {
		return err
	}
	s.completeLocked()
	return nil
}

// AddPoint appends a point while RUNNING. For a StepScan aggregate it
// enforces len(points) <= expectedPoints and auto-completes once
// len(points) == expectedPoints. A FlyScan aggregate has no ceiling: the
// real sample count is motion-derived and may exceed the grid estimate.
func (s *Scan) AddPoint(point models.ScanPointResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRunning {
		return models.ErrInvalidStateTransition
	}
	if s.kind == KindStepScan && len(s.points) >= s.expectedPoints {
		return models.ErrInvalidStateTransition
	}
	s.points = append(s.points, point)
	s.emit(events.TypeScanPointAcquired, events.ScanPointAcquired{
		ScanID: s.id, Position: point.Position, Measurement: point.Measurement, PointIndex: point.PointIndex,
	})

	total := s.expectedPoints
	if s.kind == KindFlyScan && len(s.points) > total {
		total = len(s.points)
	}
	s.emit(events.TypeScanProgress, events.ScanProgress{ScanID: s.id, Current: len(s.points), Total: total})

	if s.kind == KindStepScan && len(s.points) == s.expectedPoints {
		s.completeLocked()
	}
	return nil
}

// AddPointWithWarning behaves like AddPoint and, when warning is non-empty,
// emits a second scanprogress event carrying the non-blocking warning string
// (e.g. fly-scan overshoot clipping).
func (s *Scan) AddPointWithWarning(point models.ScanPointResult, warning string) error {
	if err := s.AddPoint(point); err != nil {
		return err
	}
	if warning == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit(events.TypeScanProgress, events.ScanProgress{ScanID: s.id, Current: len(s.points), Total: s.expectedPoints, Warning: warning})
	return nil
}

// emit appends an event to the outbox. Callers must hold s.mu.
func (s *Scan) emit(t events.Type, payload interface{}) {
	s.outbox = append(s.outbox, outboxEntry{eventType: t, payload: payload})
}

// DrainEvents returns and clears the outbox, invoked by the executor after
// each mutation so it can publish the produced events on the shared bus.
func (s *Scan) DrainEvents() []OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OutboxEvent, len(s.outbox))
	for i, e := range s.outbox {
		out[i] = OutboxEvent{Type: e.eventType, Payload: e.payload}
	}
	s.outbox = nil
	return out
}

// PublishDrained drains the outbox and publishes every event on bus, in
// order. This is the typical call executors make after each mutation.
func (s *Scan) PublishDrained(bus *events.Bus) {
	for _, e := range s.DrainEvents() {
		bus.Publish(e.Type, e.Payload)
	}
}
