package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusNotFound, "not_found", "no route for "+r.Method+" "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" not allowed on "+r.URL.Path)
	})

	r.Route("/api/health", func(r chi.Router) {
		r.Get("/", s.health)
		r.Get("/detailed", s.healthDetailed)
		r.Get("/diagnostics", s.healthDiagnostics)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(requireAdmin(s.cfg.AdminToken))

		r.Get("/scheduler/status", s.schedulerStatus)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/trigger/{job_name}", s.triggerJob)
			r.Get("/status/{execution_id}", s.executionStatus)
			r.Get("/history", s.history)
			r.Delete("/history", s.clearHistory)
			r.Post("/{alias}", s.triggerAlias)
		})

		r.Get("/metrics", s.adminMetrics)
		r.Delete("/metrics", s.resetMetrics)

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", s.alerts)
			r.Get("/statistics", s.alertStatistics)
			r.Delete("/cleanup", s.cleanupAlerts)
			r.Post("/test", s.testAlert)
			r.Post("/{id}/resolve", s.resolveAlert)
		})
	})

	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}
	if s.cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}
