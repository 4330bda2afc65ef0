package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	logx "trendsched/pkg/logx"
)

// requireAdmin gates the admin routes. An empty token leaves them open.
func requireAdmin(token string) func(http.Handler) http.Handler {
	want := []byte(strings.TrimSpace(token))
	return func(next http.Handler) http.Handler {
		if len(want) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := adminToken(r)
			if got == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeStatus(w, http.StatusUnauthorized, "unauthorized", "admin token required")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				writeStatus(w, http.StatusForbidden, "forbidden", "invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func adminToken(r *http.Request) string {
	if ah := r.Header.Get("Authorization"); ah != "" {
		const p = "Bearer "
		if len(ah) > len(p) && strings.EqualFold(ah[:len(p)], p) {
			return strings.TrimSpace(ah[len(p):])
		}
	}
	return strings.TrimSpace(r.Header.Get("X-Admin-Token"))
}

// observe logs each request and feeds the Prometheus and APIStats
// aggregates, keyed by chi route pattern so path params don't explode
// cardinality.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		took := time.Since(start)
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		route := ""
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.ObserveHTTP(route, r.Method, code, took)
		}
		if s.deps.APIStats != nil && route != "" && route != "/metrics" {
			s.deps.APIStats.Record(r.Method, route, code, took)
		}

		fields := []logx.Field{
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", code),
			logx.Duration("took", took),
			logx.String("request_id", middleware.GetReqID(r.Context())),
		}
		switch {
		case code >= 500:
			s.log.Warn("http request", fields...)
		default:
			s.log.Debug("http request", fields...)
		}
	})
}

// cors answers browser preflights for the dashboard.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Admin-Token")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
