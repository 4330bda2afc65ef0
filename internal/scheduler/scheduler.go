// Package scheduler is the read/trigger surface the transport layer talks
// to. It composes the registry, engine, clock and history without owning
// any state of its own beyond the service start time.
package scheduler

import (
	"context"
	"time"

	"trendsched/internal/history"
	"trendsched/internal/jobs"
	"trendsched/internal/task/engine"
)

// Engine is the subset of *engine.Service the facade uses.
type Engine interface {
	Trigger(ctx context.Context, job string, kind jobs.TriggerKind) (string, error)
	Get(id string) (jobs.Execution, bool)
	Stats() engine.Stats
	Running() bool
}

// Liveness reports whether the clock loop is running. *clock.Clock
// satisfies it.
type Liveness interface {
	Alive() bool
	LastTick() time.Time
}

type Status struct {
	IsRunning         bool                 `json:"is_running"`
	JobCount          int                  `json:"job_count"`
	TotalExecutions   uint64               `json:"total_executions"`
	SkippedExecutions uint64               `json:"skipped_executions"`
	ActiveExecutions  int                  `json:"active_executions"`
	StartedAt         *time.Time           `json:"started_at"`
	LastRuns          map[string]time.Time `json:"last_runs"`
}

type Facade struct {
	reg     *jobs.Registry
	eng     Engine
	clock   Liveness
	hist    *history.Store
	started time.Time
}

func New(reg *jobs.Registry, eng Engine, clock Liveness, hist *history.Store) *Facade {
	return &Facade{reg: reg, eng: eng, clock: clock, hist: hist}
}

// MarkStarted records the service start time reported by Status.
func (f *Facade) MarkStarted(at time.Time) { f.started = at }

func (f *Facade) Status() Status {
	st := f.eng.Stats()
	out := Status{
		IsRunning:         f.Running(),
		JobCount:          f.reg.Len(),
		TotalExecutions:   st.TotalExecutions,
		SkippedExecutions: st.Skipped,
		ActiveExecutions:  st.Active,
		LastRuns:          st.LastRuns,
	}
	if out.LastRuns == nil {
		out.LastRuns = map[string]time.Time{}
	}
	if !f.started.IsZero() {
		t := f.started
		out.StartedAt = &t
	}
	return out
}

// Running is true while both the clock loop and the engine are up.
func (f *Facade) Running() bool {
	return f.clock != nil && f.clock.Alive() && f.eng.Running()
}

// Trigger starts a manual run of job.
func (f *Facade) Trigger(ctx context.Context, job string) (string, error) {
	return f.eng.Trigger(ctx, job, jobs.TriggerManual)
}

// TriggerAlias starts a manual run of the job behind alias and returns the
// job name with the execution id.
func (f *Facade) TriggerAlias(ctx context.Context, alias string) (string, string, error) {
	def, ok := f.reg.ByAlias(alias)
	if !ok {
		return "", "", &jobs.UnknownJobError{Job: alias}
	}
	id, err := f.eng.Trigger(ctx, def.Name, jobs.TriggerManual)
	return def.Name, id, err
}

// Execution looks in the live set first, then in history.
func (f *Facade) Execution(id string) (jobs.Execution, error) {
	if e, ok := f.eng.Get(id); ok {
		return e, nil
	}
	if e, ok := f.hist.Get(id); ok {
		return e, nil
	}
	return jobs.Execution{}, &jobs.UnknownExecutionError{ID: id}
}

// History returns job's executions, or all jobs when job is empty.
func (f *Facade) History(job string) (map[string][]jobs.Execution, error) {
	if job == "" {
		return f.hist.QueryAll(), nil
	}
	if _, ok := f.reg.Lookup(job); !ok {
		return nil, &jobs.UnknownJobError{Job: job}
	}
	return map[string][]jobs.Execution{job: f.hist.Query(job)}, nil
}

func (f *Facade) ClearHistory(ctx context.Context, job string) (int, error) {
	if job != "" {
		if _, ok := f.reg.Lookup(job); !ok {
			return 0, &jobs.UnknownJobError{Job: job}
		}
	}
	return f.hist.Clear(ctx, job)
}

// Jobs lists the registered definitions in registration order.
func (f *Facade) Jobs() []jobs.Definition { return f.reg.List() }

// ClockLastTick is zero until the clock has evaluated once.
func (f *Facade) ClockLastTick() time.Time {
	if f.clock == nil {
		return time.Time{}
	}
	return f.clock.LastTick()
}
