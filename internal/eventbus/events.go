package eventbus

// Event types published by trendsched components.
const (
	ExecutionQueued    = "execution.queued"
	ExecutionStarted   = "execution.started"
	ExecutionCompleted = "execution.completed"
	ExecutionFailed    = "execution.failed"

	// ScheduleSkipped carries a Skip.
	ScheduleSkipped = "schedule.skipped"
	// TriggerRejected carries a Rejection.
	TriggerRejected = "trigger.rejected"
	// HistoryInconsistent carries the error string that History returned.
	HistoryInconsistent = "history.inconsistent"
	// StorageError carries a StorageFailure.
	StorageError = "storage.error"

	ConfigReloaded = "config.reloaded"
)

// Skip describes a scheduled firing that did not produce an execution.
type Skip struct {
	Job    string
	Reason string // "overlap" | "queue_full"
}

// Rejection describes a manual trigger refused before an execution existed.
type Rejection struct {
	Job    string
	Reason string // "busy" | "rate_limited" | "stopped"
}

type StorageFailure struct {
	Op  string
	Err string
}
