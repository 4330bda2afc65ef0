package jobs

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

type TriggerKind string

const (
	TriggerScheduled TriggerKind = "scheduled"
	TriggerManual    TriggerKind = "manual"
)

func (k TriggerKind) Valid() bool { return k == TriggerScheduled || k == TriggerManual }

// Execution is one run of a job. Values are never mutated after they are
// published; transitions build a new value.
type Execution struct {
	ID           string      `json:"id"`
	JobName      string      `json:"job_name"`
	Status       Status      `json:"status"`
	Trigger      TriggerKind `json:"trigger_kind"`
	QueuedAt     time.Time   `json:"queued_at"`
	StartedAt    *time.Time  `json:"started_at"`
	CompletedAt  *time.Time  `json:"completed_at"`
	DurationMs   *int64      `json:"duration_ms"`
	ErrorMessage *string     `json:"error_message"`
	Attempts     int         `json:"attempts,omitempty"`
}

// Start returns the running transition of e.
func (e Execution) Start(at time.Time) Execution {
	e.Status = StatusRunning
	e.StartedAt = &at
	return e
}

// Complete returns the terminal transition of e. A nil err means completed.
func (e Execution) Complete(at time.Time, err error) Execution {
	e.CompletedAt = &at
	if e.StartedAt != nil {
		ms := at.Sub(*e.StartedAt).Milliseconds()
		e.DurationMs = &ms
	}
	if err == nil {
		e.Status = StatusCompleted
		e.ErrorMessage = nil
		return e
	}
	msg := err.Error()
	if msg == "" {
		msg = "handler failed"
	}
	e.Status = StatusFailed
	e.ErrorMessage = &msg
	return e
}

// SortTime is the instant history orders by: started_at, or queued_at for
// runs that never started.
func (e Execution) SortTime() time.Time {
	if e.StartedAt != nil {
		return *e.StartedAt
	}
	return e.QueuedAt
}

// Newer orders executions newest first with the id as a tiebreak, so the
// order is total.
func Newer(a, b Execution) bool {
	ta, tb := a.SortTime(), b.SortTime()
	if !ta.Equal(tb) {
		return ta.After(tb)
	}
	return a.ID > b.ID
}

// Validate checks the record invariants, most importantly that error_message
// is set exactly when the status is failed.
func (e Execution) Validate() error {
	if e.ID == "" {
		return errors.New("execution id required")
	}
	if e.JobName == "" {
		return fmt.Errorf("execution %s: job name required", e.ID)
	}
	if !e.Status.Valid() {
		return fmt.Errorf("execution %s: invalid status %q", e.ID, e.Status)
	}
	if !e.Trigger.Valid() {
		return fmt.Errorf("execution %s: invalid trigger kind %q", e.ID, e.Trigger)
	}
	failed := e.Status == StatusFailed
	hasMsg := e.ErrorMessage != nil
	if failed != hasMsg {
		return fmt.Errorf("execution %s: error_message must be set iff status is failed", e.ID)
	}
	if hasMsg && *e.ErrorMessage == "" {
		return fmt.Errorf("execution %s: empty error_message", e.ID)
	}
	if e.Status == StatusRunning && e.StartedAt == nil {
		return fmt.Errorf("execution %s: running without started_at", e.ID)
	}
	if e.Status.Terminal() && e.CompletedAt == nil {
		return fmt.Errorf("execution %s: terminal without completed_at", e.ID)
	}
	return nil
}
