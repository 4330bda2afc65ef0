// Package httpapi serves the admin, health and metrics endpoints.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"trendsched/internal/eventbus"
	"trendsched/internal/history"
	"trendsched/internal/observability/alerting"
	"trendsched/internal/observability/metrics"
	rtsup "trendsched/internal/runtime/supervisor"
	"trendsched/internal/scheduler"
	logx "trendsched/pkg/logx"
)

type Config struct {
	Addr         string
	AdminToken   string
	TriggerRate  float64 // per job, 0 = unlimited
	TriggerBurst int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Pprof        bool
}

// Deps are the components the handlers read from. Metrics, APIStats,
// System, Alerts and Diagnostics may be nil.
type Deps struct {
	Scheduler *scheduler.Facade
	History   *history.Store
	Metrics   *metrics.Collector
	APIStats  *metrics.APIStats
	System    *metrics.SystemStats
	Alerts    *alerting.Service
	// Bus receives rate-limit rejections; optional.
	Bus eventbus.Bus
	// Diagnostics returns supervisor snapshots by component name.
	Diagnostics func() map[string]rtsup.Snapshot
	Version     string
	Now         func() time.Time
}

type Server struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	limiter *triggerLimiter
	handler http.Handler

	mu   sync.Mutex
	ln   net.Listener
	srv  *http.Server
	sup  *rtsup.Supervisor
	addr string
}

func NewServer(cfg Config, deps Deps, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		log:     log,
		limiter: newTriggerLimiter(cfg.TriggerRate, cfg.TriggerBurst),
	}
	s.handler = s.routes()
	return s
}

// Handler is the fully wired router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr is the bound listen address once the server is serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start binds the listener synchronously so a bad address fails fast, then
// serves under a restart loop.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}

	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = ":8080"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.addr = ln.Addr().String()

	s.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.sup.GoRestart("http.serve", s.serveOnce,
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
	s.log.Info("http api started",
		logx.String("addr", s.addr),
		logx.Bool("admin_token_set", s.cfg.AdminToken != ""),
		logx.Bool("pprof", s.cfg.Pprof),
	)
	return nil
}

// Stop drains in-flight requests until ctx ends, then force-closes.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, ln, sup := s.srv, s.ln, s.sup
	s.srv, s.ln, s.sup = nil, nil, nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}

	var err error
	if srv != nil {
		if err = srv.Shutdown(ctx); err != nil {
			_ = srv.Close()
		}
	}
	if ln != nil {
		_ = ln.Close()
	}
	sup.Cancel()
	if werr := sup.Wait(ctx); werr != nil && ctx.Err() != nil && err == nil {
		err = werr
	}
	s.log.Info("http api stopped")
	return err
}

// Supervisor exposes the serve loop for diagnostics (nil when stopped).
func (s *Server) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

func (s *Server) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	if ln == nil {
		s.mu.Unlock()
		return nil
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.srv = srv
	s.mu.Unlock()

	err := srv.Serve(ln)
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	// Serve closed the listener; rebind before the restart.
	s.mu.Lock()
	if s.ln == ln {
		if nl, lerr := net.Listen("tcp", ln.Addr().String()); lerr == nil {
			s.ln = nl
		}
	}
	s.mu.Unlock()
	return err
}
