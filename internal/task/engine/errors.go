package engine

import (
	"errors"
	"fmt"
)

var (
	ErrStopped = errors.New("execution engine stopped")

	// ErrOverlapSkip and ErrQueueFull match a *SkipError by reason.
	ErrOverlapSkip = errors.New("previous scheduled run still active")
	ErrQueueFull   = errors.New("run queue full")

	// ErrShuttingDown is the failure recorded for executions cut short by Stop.
	ErrShuttingDown = errors.New("scheduler shutting down")
)

// Skip reasons, as published in eventbus.Skip.
const (
	SkipOverlap   = "overlap"
	SkipQueueFull = "queue_full"
)

// SkipError is returned for a scheduled firing that produced no execution.
type SkipError struct {
	Job    string
	Reason string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("scheduled run of %q skipped: %s", e.Job, e.Reason)
}

func (e *SkipError) Is(target error) bool {
	switch target {
	case ErrOverlapSkip:
		return e.Reason == SkipOverlap
	case ErrQueueFull:
		return e.Reason == SkipQueueFull
	}
	return false
}
