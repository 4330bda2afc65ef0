// Package alerting keeps a bounded in-memory list of operational alerts
// raised from engine and storage events, with optional webhook delivery.
package alerting

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	logx "trendsched/pkg/logx"
)

type Type string

const (
	JobFailure           Type = "job_failure"
	DatabaseError        Type = "database_error"
	SystemError          Type = "system_error"
	SchedulerBusy        Type = "scheduler_busy"
	HistoryInconsistency Type = "history_inconsistency"
)

type Severity string

const (
	Low      Severity = "low"
	Medium   Severity = "medium"
	High     Severity = "high"
	Critical Severity = "critical"
)

var (
	ErrDisabled     = errors.New("alerting disabled")
	ErrUnknownAlert = errors.New("unknown alert")
)

type Alert struct {
	ID         string            `json:"id"`
	Type       Type              `json:"alert_type"`
	Severity   Severity          `json:"severity"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	Timestamp  time.Time         `json:"timestamp"`
	Resolved   bool              `json:"resolved"`
	ResolvedAt *time.Time        `json:"resolved_at"`
	Metadata   map[string]string `json:"metadata"`
}

type Statistics struct {
	TotalAlerts    int              `json:"total_alerts"`
	ActiveAlerts   int              `json:"active_alerts"`
	ResolvedAlerts int              `json:"resolved_alerts"`
	SeverityCounts map[Severity]int `json:"severity_counts"`
	TypeCounts     map[Type]int     `json:"type_counts"`
}

type Config struct {
	Enabled     bool
	MaxAlerts   int           // default 1000
	Retention   time.Duration // default 168h
	WebhookURL  string
	WebhookRate time.Duration // min interval between webhook posts, default 1m
}

func (c Config) withDefaults() Config {
	if c.MaxAlerts <= 0 {
		c.MaxAlerts = 1000
	}
	if c.Retention <= 0 {
		c.Retention = 7 * 24 * time.Hour
	}
	if c.WebhookRate <= 0 {
		c.WebhookRate = time.Minute
	}
	return c
}

// Service is safe for concurrent use.
type Service struct {
	log logx.Logger
	now func() time.Time

	mu     sync.RWMutex
	cfg    Config
	alerts []Alert // oldest first

	hook *webhook
}

type Option func(*Service)

func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(cfg Config, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	s := &Service{log: log, now: time.Now, cfg: cfg}
	for _, o := range opts {
		o(s)
	}
	s.hook = newWebhook(cfg.WebhookURL, cfg.WebhookRate, log)
	return s
}

// Apply swaps the config in place. Existing alerts beyond a lower MaxAlerts
// are evicted oldest first.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.trimLocked()
	s.mu.Unlock()
	s.hook.reconfigure(cfg.WebhookURL, cfg.WebhookRate)
}

// Create records an alert and returns its id. It stores nothing and
// returns ErrDisabled while alerting is off.
func (s *Service) Create(typ Type, sev Severity, title, message string, meta map[string]string) (string, error) {
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return "", ErrDisabled
	}
	a := Alert{
		ID:        uuid.NewString(),
		Type:      typ,
		Severity:  sev,
		Title:     title,
		Message:   message,
		Timestamp: s.now(),
		Metadata:  copyMeta(meta),
	}
	s.alerts = append(s.alerts, a)
	s.trimLocked()
	s.mu.Unlock()

	fields := []logx.Field{
		logx.String("alert_id", a.ID),
		logx.String("alert_type", string(typ)),
		logx.String("severity", string(sev)),
		logx.String("message", message),
	}
	switch sev {
	case Critical, High:
		s.log.Error("[ALERT] "+title, fields...)
	case Medium:
		s.log.Warn("[ALERT] "+title, fields...)
	default:
		s.log.Info("[ALERT] "+title, fields...)
	}

	s.hook.enqueue(a)
	return a.ID, nil
}

func (s *Service) Resolve(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].ID != id {
			continue
		}
		if !s.alerts[i].Resolved {
			at := s.now()
			s.alerts[i].Resolved = true
			s.alerts[i].ResolvedAt = &at
		}
		return nil
	}
	return ErrUnknownAlert
}

// Active returns unresolved alerts, newest first.
func (s *Service) Active() []Alert {
	return s.filter(func(a Alert) bool { return !a.Resolved }, 0)
}

// List returns alerts newest first, at most limit when limit > 0.
func (s *Service) List(limit int) []Alert {
	return s.filter(nil, limit)
}

// ActiveLimit is Active capped at limit when limit > 0.
func (s *Service) ActiveLimit(limit int) []Alert {
	return s.filter(func(a Alert) bool { return !a.Resolved }, limit)
}

// Cleanup drops alerts older than the retention window and returns how many
// were removed.
func (s *Service) Cleanup(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.cfg.Retention)
	kept := s.alerts[:0:0]
	for _, a := range s.alerts {
		if a.Timestamp.After(cutoff) {
			kept = append(kept, a)
		}
	}
	removed := len(s.alerts) - len(kept)
	s.alerts = kept
	if removed > 0 {
		s.log.Info("old alerts cleaned up", logx.Int("count", removed))
	}
	return removed
}

func (s *Service) Statistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Statistics{
		TotalAlerts:    len(s.alerts),
		SeverityCounts: map[Severity]int{},
		TypeCounts:     map[Type]int{},
	}
	for _, a := range s.alerts {
		if a.Resolved {
			st.ResolvedAlerts++
		} else {
			st.ActiveAlerts++
		}
		st.SeverityCounts[a.Severity]++
		st.TypeCounts[a.Type]++
	}
	return st
}

// WebhookDropped counts alerts not posted because of throttling or a full
// outbox.
func (s *Service) WebhookDropped() uint64 { return s.hook.dropped.Load() }

func (s *Service) filter(keep func(Alert) bool, limit int) []Alert {
	s.mu.RLock()
	out := make([]Alert, 0, len(s.alerts))
	for i := len(s.alerts) - 1; i >= 0; i-- {
		a := s.alerts[i]
		if keep != nil && !keep(a) {
			continue
		}
		a.Metadata = copyMeta(a.Metadata)
		out = append(out, a)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	s.mu.RUnlock()
	return out
}

func (s *Service) trimLocked() {
	if over := len(s.alerts) - s.cfg.MaxAlerts; over > 0 {
		s.alerts = append([]Alert(nil), s.alerts[over:]...)
	}
}

func copyMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
