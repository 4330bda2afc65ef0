package config

// Config is the on-disk configuration. YAML files are coerced to JSON and
// decoded strictly, so every key must be known here.
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`
	Engine  EngineConfig  `json:"engine"`
	Clock   ClockConfig   `json:"clock"`
	History HistoryConfig `json:"history"`
	Jobs    []JobConfig   `json:"jobs"`
	HTTP    HTTPConfig    `json:"http"`
	Alerts  AlertsConfig  `json:"alerts"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	Pretty  bool        `json:"pretty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled   bool   `json:"enabled"`
	Path      string `json:"path"`
	MaxSizeMB int    `json:"max_size_mb,omitempty"`
}

// StorageConfig selects where execution history is persisted.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/trendsched.db" }
//
// Drivers: "memory" (no persistence), "file" (jsonl journal plus snapshot)
// and "sqlite".
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// EngineConfig controls the execution engine.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 64
//   - default_timeout: "30m"
//   - shutdown_grace: "10s"
//   - retry_max: 0 (extra attempts inside one execution)
type EngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	ShutdownGrace  string `json:"shutdown_grace,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}

type ClockConfig struct {
	// Tick is the evaluation resolution. Defaults to "1s".
	Tick     string `json:"tick,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// HistoryConfig bounds retained executions. Zero disables the bound.
type HistoryConfig struct {
	MaxPerJob  int    `json:"max_per_job,omitempty"`
	MaxAge     string `json:"max_age,omitempty"`
	PruneEvery string `json:"prune_every,omitempty"`
}

type JobConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Timeout  string `json:"timeout,omitempty"`
	// TriggerAlias exposes POST /api/admin/jobs/<alias> for manual runs.
	TriggerAlias string        `json:"trigger_alias,omitempty"`
	Handler      HandlerConfig `json:"handler"`
}

// HandlerConfig describes what a job does when it runs.
//
//	kind: http  -> POST (or Method) to URL, non-2xx fails the run
//	kind: noop  -> succeeds immediately
//	kind: sleep -> sleeps Duration, fails with FailMessage when set
type HandlerConfig struct {
	Kind        string            `json:"kind"`
	URL         string            `json:"url,omitempty"`
	Method      string            `json:"method,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Duration    string            `json:"duration,omitempty"`
	FailMessage string            `json:"fail_message,omitempty"`
}

// HTTPConfig controls the admin/health API server.
//
// Security note: admin_token is never logged. When it is empty the admin
// routes are open, which is only sensible behind a trusted proxy.
type HTTPConfig struct {
	Addr         string  `json:"addr,omitempty"` // default: ":8080"
	AdminToken   string  `json:"admin_token,omitempty"`
	TriggerRate  float64 `json:"trigger_rate,omitempty"`  // manual triggers/sec per job, 0 = unlimited
	TriggerBurst int     `json:"trigger_burst,omitempty"` // default: 5
	ReadTimeout  string  `json:"read_timeout,omitempty"`
	WriteTimeout string  `json:"write_timeout,omitempty"`
	IdleTimeout  string  `json:"idle_timeout,omitempty"`
	Pprof        bool    `json:"pprof,omitempty"`
}

type AlertsConfig struct {
	Enabled     *bool  `json:"enabled,omitempty"` // default: true
	MaxAlerts   int    `json:"max_alerts,omitempty"`
	Retention   string `json:"retention,omitempty"`
	WebhookURL  string `json:"webhook_url,omitempty"`
	WebhookRate string `json:"webhook_rate,omitempty"` // min interval between webhook posts
}

// AlertsEnabled treats an omitted flag as enabled.
func (c AlertsConfig) AlertsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}
