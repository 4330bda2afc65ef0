package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"trendsched/internal/observability/metrics"
	rtsup "trendsched/internal/runtime/supervisor"
	"trendsched/internal/scheduler"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusDegraded  = "degraded"
)

type component struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type schedulerHealth struct {
	component
	JobCount         int        `json:"job_count"`
	ActiveExecutions int        `json:"active_executions"`
	LastTick         *time.Time `json:"last_tick"`
}

type databaseHealth struct {
	component
	Driver string `json:"driver"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    statusHealthy,
		"timestamp": s.deps.Now().UTC(),
		"version":   s.deps.Version,
	})
}

func (s *Server) schedulerHealth() schedulerHealth {
	st := s.deps.Scheduler.Status()
	h := schedulerHealth{
		component:        component{Status: statusHealthy},
		JobCount:         st.JobCount,
		ActiveExecutions: st.ActiveExecutions,
	}
	if t := s.deps.Scheduler.ClockLastTick(); !t.IsZero() {
		h.LastTick = &t
	}
	if st.IsRunning {
		h.Message = fmt.Sprintf("Scheduler running with %d jobs, %d total executions", st.JobCount, st.TotalExecutions)
	} else {
		h.Status, h.Message = statusUnhealthy, "Scheduler is not running"
	}
	return h
}

func (s *Server) databaseHealth(ctx context.Context) databaseHealth {
	h := databaseHealth{component: component{Status: statusHealthy, Message: "storage reachable"}}
	if s.deps.History == nil {
		h.Status, h.Message = statusUnhealthy, "no history store"
		return h
	}
	h.Driver = s.deps.History.Driver()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.deps.History.Ping(ctx); err != nil {
		h.Status, h.Message = statusUnhealthy, err.Error()
	}
	return h
}

func overall(sched, db string) string {
	if sched == statusHealthy && db == statusHealthy {
		return statusHealthy
	}
	return statusDegraded
}

func (s *Server) healthDetailed(w http.ResponseWriter, r *http.Request) {
	sched := s.schedulerHealth()
	db := s.databaseHealth(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    overall(sched.Status, db.Status),
		"timestamp": s.deps.Now().UTC(),
		"version":   s.deps.Version,
		"services": map[string]any{
			"scheduler": sched,
			"database":  db,
		},
	})
}

type diagnostics struct {
	Status      string                    `json:"status"`
	Timestamp   time.Time                 `json:"timestamp"`
	Version     string                    `json:"version"`
	System      *metrics.SystemSummary    `json:"system"`
	Database    databaseHealth            `json:"database"`
	Scheduler   scheduler.Status          `json:"scheduler"`
	Supervisors map[string]rtsup.Snapshot `json:"supervisors"`
}

func (s *Server) healthDiagnostics(w http.ResponseWriter, r *http.Request) {
	sched := s.schedulerHealth()
	out := diagnostics{
		Timestamp:   s.deps.Now().UTC(),
		Version:     s.deps.Version,
		Database:    s.databaseHealth(r.Context()),
		Scheduler:   s.deps.Scheduler.Status(),
		Supervisors: map[string]rtsup.Snapshot{},
	}
	out.Status = overall(sched.Status, out.Database.Status)
	if s.deps.System != nil {
		sum := s.deps.System.Sample(out.Timestamp)
		out.System = &sum
	}
	if s.deps.Diagnostics != nil {
		for k, v := range s.deps.Diagnostics() {
			out.Supervisors[k] = v
		}
	}
	writeJSON(w, http.StatusOK, out)
}
