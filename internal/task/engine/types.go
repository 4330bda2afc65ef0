package engine

import (
	"context"
	"sync"
	"time"

	"trendsched/internal/jobs"
)

// Config controls the execution engine. The app layer maps config.engine
// into this struct.
type Config struct {
	Workers   int
	QueueSize int

	// DefaultTimeout bounds a run when the job has no timeout of its own.
	DefaultTimeout time.Duration

	// RetryMax is the number of extra attempts inside one execution.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	// InitialTotal seeds total_executions, so a restart over durable
	// history never reports fewer executions than history holds.
	InitialTotal uint64

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Minute
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 15 * time.Second
	}
	return c
}

// Registry resolves job names. *jobs.Registry satisfies it.
type Registry interface {
	Lookup(name string) (jobs.Definition, bool)
}

// Sink receives every terminal execution exactly once.
type Sink interface {
	Append(ctx context.Context, e jobs.Execution) error
}

// Stats is a point-in-time view for status and diagnostics.
type Stats struct {
	Running         bool                 `json:"running"`
	Workers         int                  `json:"workers"`
	QueueLen        int                  `json:"queue_len"`
	QueueCap        int                  `json:"queue_cap"`
	TotalExecutions uint64               `json:"total_executions"`
	Active          int                  `json:"active_executions"`
	Skipped         uint64               `json:"skipped_executions"`
	SkippedByJob    map[string]uint64    `json:"skipped_by_job,omitempty"`
	Rejected        uint64               `json:"rejected_triggers"`
	LastRuns        map[string]time.Time `json:"last_runs,omitempty"`
}

// runState gates overlapping scheduled runs of one job. The guard is held
// from enqueue until the run is terminal, so "queued" also counts as active.
type runState struct {
	mu       sync.Mutex
	inflight int
}

func (s *runState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *runState) release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

func (s *runState) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight > 0
}

type queuedRun struct {
	id    string
	def   jobs.Definition
	kind  jobs.TriggerKind
	state *runState // nil for manual runs
}
