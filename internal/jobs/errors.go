package jobs

import (
	"errors"
	"fmt"
	"time"
)

var ErrRegistrySealed = errors.New("job registry sealed")

// InvalidScheduleError is returned by Register when the cron expression does
// not parse. It is fatal at startup.
type InvalidScheduleError struct {
	Job  string
	Expr string
	Err  error
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("job %q: invalid schedule %q: %v", e.Job, e.Expr, e.Err)
}
func (e *InvalidScheduleError) Unwrap() error { return e.Err }

type DuplicateJobError struct{ Job string }

func (e *DuplicateJobError) Error() string { return fmt.Sprintf("job %q already registered", e.Job) }

type UnknownJobError struct{ Job string }

func (e *UnknownJobError) Error() string { return fmt.Sprintf("unknown job %q", e.Job) }

type UnknownExecutionError struct{ ID string }

func (e *UnknownExecutionError) Error() string { return fmt.Sprintf("unknown execution %q", e.ID) }

// InconsistentHistoryError means the same execution id reached history twice
// with different outcomes. It signals a bug upstream.
type InconsistentHistoryError struct {
	ID   string
	Have Status
	Got  Status
}

func (e *InconsistentHistoryError) Error() string {
	return fmt.Sprintf("execution %s already recorded as %s, refusing %s", e.ID, e.Have, e.Got)
}

// SchedulerBusyError rejects a manual trigger when the run queue is full.
// Callers may retry.
type SchedulerBusyError struct {
	Job      string
	Capacity int
}

func (e *SchedulerBusyError) Error() string {
	return fmt.Sprintf("scheduler busy: queue full (%d) for job %q", e.Capacity, e.Job)
}

type HandlerTimeoutError struct {
	Job     string
	Timeout time.Duration
}

func (e *HandlerTimeoutError) Error() string {
	return fmt.Sprintf("handler timed out after %s", e.Timeout)
}

type HandlerExecutionError struct {
	Job string
	Err error
}

func (e *HandlerExecutionError) Error() string {
	if e.Err == nil {
		return "handler failed"
	}
	return e.Err.Error()
}
func (e *HandlerExecutionError) Unwrap() error { return e.Err }

// Permanent marks a handler error as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// IsNotFound reports whether err names a job or execution that does not exist.
func IsNotFound(err error) bool {
	var uj *UnknownJobError
	var ue *UnknownExecutionError
	return errors.As(err, &uj) || errors.As(err, &ue)
}

func IsBusy(err error) bool {
	var b *SchedulerBusyError
	return errors.As(err, &b)
}
