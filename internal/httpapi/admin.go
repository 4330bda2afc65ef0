package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"trendsched/internal/eventbus"
	"trendsched/internal/jobs"
	"trendsched/internal/observability/alerting"
	"trendsched/internal/observability/metrics"
	logx "trendsched/pkg/logx"
)

type triggerResponse struct {
	Success     bool   `json:"success"`
	ExecutionID string `json:"execution_id"`
	JobName     string `json:"job_name"`
	Message     string `json:"message"`
}

type clearResponse struct {
	Success      bool   `json:"success"`
	ClearedCount int    `json:"cleared_count"`
	Message      string `json:"message"`
}

type metricsResponse struct {
	APIMetrics      metrics.APISummary        `json:"api_metrics"`
	EndpointMetrics []metrics.EndpointSummary `json:"endpoint_metrics"`
	JobMetrics      metrics.JobSummary        `json:"job_metrics"`
	SystemMetrics   *metrics.SystemSummary    `json:"system_metrics"`
}

type alertsResponse struct {
	Alerts     []alerting.Alert `json:"alerts"`
	TotalCount int              `json:"total_count"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Scheduler.Status())
}

func (s *Server) triggerAlias(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")
	def, ok := s.aliasLookup(alias)
	if !ok {
		writeError(w, &jobs.UnknownJobError{Job: alias})
		return
	}
	s.trigger(w, r, def)
}

func (s *Server) triggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "job_name")
	def, ok := s.jobLookup(name)
	if !ok {
		writeError(w, &jobs.UnknownJobError{Job: name})
		return
	}
	s.trigger(w, r, def)
}

func (s *Server) trigger(w http.ResponseWriter, r *http.Request, def jobs.Definition) {
	if !s.limiter.Allow(def.Name) {
		if s.deps.Bus != nil {
			s.deps.Bus.Publish(eventbus.Event{
				Type: eventbus.TriggerRejected,
				Time: s.deps.Now(),
				Data: eventbus.Rejection{Job: def.Name, Reason: "rate_limited"},
			})
		}
		writeError(w, errRateLimited)
		return
	}
	id, err := s.deps.Scheduler.Trigger(r.Context(), def.Name)
	if err != nil {
		s.log.Warn("manual trigger refused", logx.Job(def.Name), logx.Err(err))
		writeError(w, err)
		return
	}
	s.log.Info("manual trigger", logx.Job(def.Name), logx.Execution(id))
	writeJSON(w, http.StatusCreated, triggerResponse{
		Success:     true,
		ExecutionID: id,
		JobName:     def.Name,
		Message:     fmt.Sprintf("Job %s triggered", def.Name),
	})
}

func (s *Server) aliasLookup(alias string) (jobs.Definition, bool) {
	for _, d := range s.deps.Scheduler.Jobs() {
		if d.Alias != "" && d.Alias == alias {
			return d, true
		}
	}
	return jobs.Definition{}, false
}

func (s *Server) jobLookup(name string) (jobs.Definition, bool) {
	for _, d := range s.deps.Scheduler.Jobs() {
		if d.Name == name {
			return d, true
		}
	}
	return jobs.Definition{}, false
}

func (s *Server) executionStatus(w http.ResponseWriter, r *http.Request) {
	e, err := s.deps.Scheduler.Execution(chi.URLParam(r, "execution_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Scheduler.History(r.URL.Query().Get("job_name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) clearHistory(w http.ResponseWriter, r *http.Request) {
	job := r.URL.Query().Get("job_name")
	n, err := s.deps.Scheduler.ClearHistory(r.Context(), job)
	if err != nil {
		writeError(w, err)
		return
	}
	msg := fmt.Sprintf("Cleared %d total job executions", n)
	if job != "" {
		msg = fmt.Sprintf("Cleared %d executions for job '%s'", n, job)
	}
	s.log.Info("history cleared", logx.Job(job), logx.Int("count", n))
	writeJSON(w, http.StatusOK, clearResponse{Success: true, ClearedCount: n, Message: msg})
}

func (s *Server) adminMetrics(w http.ResponseWriter, r *http.Request) {
	var out metricsResponse
	if s.deps.APIStats != nil {
		out.APIMetrics = s.deps.APIStats.Summary()
		out.EndpointMetrics = s.deps.APIStats.Endpoints()
	}
	if out.EndpointMetrics == nil {
		out.EndpointMetrics = []metrics.EndpointSummary{}
	}
	byJob, _ := s.deps.Scheduler.History("")
	out.JobMetrics = metrics.Aggregate(byJob)
	if s.deps.System != nil {
		sum := s.deps.System.Sample(s.deps.Now())
		out.SystemMetrics = &sum
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) resetMetrics(w http.ResponseWriter, r *http.Request) {
	if s.deps.APIStats != nil {
		s.deps.APIStats.Reset()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) alerts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Alerts == nil {
		writeJSON(w, http.StatusOK, alertsResponse{Alerts: []alerting.Alert{}})
		return
	}
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeStatus(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	activeOnly, _ := strconv.ParseBool(q.Get("active"))

	var list []alerting.Alert
	if activeOnly {
		list = s.deps.Alerts.ActiveLimit(limit)
	} else {
		list = s.deps.Alerts.List(limit)
	}
	if list == nil {
		list = []alerting.Alert{}
	}
	writeJSON(w, http.StatusOK, alertsResponse{Alerts: list, TotalCount: len(list)})
}

func (s *Server) alertStatistics(w http.ResponseWriter, r *http.Request) {
	var st alerting.Statistics
	if s.deps.Alerts != nil {
		st = s.deps.Alerts.Statistics()
	}
	writeJSON(w, http.StatusOK, map[string]any{"statistics": st})
}

func (s *Server) resolveAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.deps.Alerts == nil {
		writeError(w, alerting.ErrUnknownAlert)
		return
	}
	if err := s.deps.Alerts.Resolve(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: fmt.Sprintf("Alert %s resolved", id)})
}

func (s *Server) cleanupAlerts(w http.ResponseWriter, r *http.Request) {
	n := 0
	if s.deps.Alerts != nil {
		n = s.deps.Alerts.Cleanup(s.deps.Now())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"removed_count": n,
		"message":       fmt.Sprintf("Cleaned up %d old alerts", n),
	})
}

// testAlert raises a low-severity alert so operators can check delivery.
func (s *Server) testAlert(w http.ResponseWriter, r *http.Request) {
	if s.deps.Alerts == nil {
		writeError(w, alerting.ErrDisabled)
		return
	}
	id, err := s.deps.Alerts.Create(alerting.SystemError, alerting.Low,
		"Test Alert", "Alert delivery check requested via admin API",
		map[string]string{"test": "true", "timestamp": s.deps.Now().UTC().Format(time.RFC3339)})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "alert_id": id, "message": "Test alert created"})
}
