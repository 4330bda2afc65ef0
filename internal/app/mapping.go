package app

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"trendsched/internal/config"
	"trendsched/internal/history"
	"trendsched/internal/httpapi"
	"trendsched/internal/jobs"
	"trendsched/internal/jobs/handlers"
	"trendsched/internal/observability/alerting"
	"trendsched/internal/storage"
	"trendsched/internal/task/engine"
	logx "trendsched/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
		File: logx.FileConfig{
			Enabled:   cfg.Logging.File.Enabled,
			Path:      cfg.Logging.File.Path,
			MaxSizeMB: cfg.Logging.File.MaxSizeMB,
		},
	}
}

// MapStorage turns storage.* into a storage.Config. An empty driver means
// the in-memory store.
func MapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := storage.NormalizeDriver(sc.Driver)
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case storage.DriverMemory:
		return storage.Config{Driver: driver}, nil
	case storage.DriverFile:
		if path == "" {
			path = "./data/trendsched"
		}
		return storage.Config{Driver: driver, Path: path}, nil
	case storage.DriverSQLite:
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapEngine(cfg *config.Config) (engine.Config, time.Duration, error) {
	ec := cfg.Engine
	timeout, err := config.ParseDurationOrDefault("engine.default_timeout", ec.DefaultTimeout, 30*time.Minute)
	if err != nil {
		return engine.Config{}, 0, err
	}
	grace, err := config.ParseDurationOrDefault("engine.shutdown_grace", ec.ShutdownGrace, 10*time.Second)
	if err != nil {
		return engine.Config{}, 0, err
	}
	return engine.Config{
		Workers:        ec.Workers,
		QueueSize:      ec.QueueSize,
		DefaultTimeout: timeout,
		RetryMax:       ec.RetryMax,
	}, grace, nil
}

func mapHistory(cfg *config.Config, reg *jobs.Registry) (history.Options, time.Duration, error) {
	maxAge, err := config.ParseDurationField("history.max_age", cfg.History.MaxAge)
	if err != nil {
		return history.Options{}, 0, err
	}
	every, err := config.ParseDurationOrDefault("history.prune_every", cfg.History.PruneEvery, time.Hour)
	if err != nil {
		return history.Options{}, 0, err
	}
	opts := history.Options{MaxPerJob: cfg.History.MaxPerJob, MaxAge: maxAge}
	if reg != nil {
		opts.Jobs = reg.Names
	}
	return opts, every, nil
}

func mapHTTP(cfg *config.Config) (httpapi.Config, error) {
	hc := cfg.HTTP
	rt, err := config.ParseDurationOrDefault("http.read_timeout", hc.ReadTimeout, 15*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	wt, err := config.ParseDurationOrDefault("http.write_timeout", hc.WriteTimeout, 30*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	it, err := config.ParseDurationOrDefault("http.idle_timeout", hc.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:         hc.Addr,
		AdminToken:   hc.AdminToken,
		TriggerRate:  hc.TriggerRate,
		TriggerBurst: hc.TriggerBurst,
		ReadTimeout:  rt,
		WriteTimeout: wt,
		IdleTimeout:  it,
		Pprof:        hc.Pprof,
	}, nil
}

func mapAlerts(cfg *config.Config) (alerting.Config, error) {
	ac := cfg.Alerts
	retention, err := config.ParseDurationField("alerts.retention", ac.Retention)
	if err != nil {
		return alerting.Config{}, err
	}
	every, err := config.ParseDurationField("alerts.webhook_rate", ac.WebhookRate)
	if err != nil {
		return alerting.Config{}, err
	}
	return alerting.Config{
		Enabled:     ac.AlertsEnabled(),
		MaxAlerts:   ac.MaxAlerts,
		Retention:   retention,
		WebhookURL:  strings.TrimSpace(ac.WebhookURL),
		WebhookRate: every,
	}, nil
}

func location(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Clock.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("clock.timezone: %w", err)
	}
	return loc, nil
}

// BuildRegistry registers every configured job and seals the registry. All
// cron expressions are parsed here, so a nil error means every schedule is
// valid.
func BuildRegistry(cfg *config.Config, client *http.Client) (*jobs.Registry, error) {
	loc, err := location(cfg)
	if err != nil {
		return nil, err
	}
	reg := jobs.NewRegistry(loc)
	for i, j := range cfg.Jobs {
		h, err := handlers.Build(j.Handler, client)
		if err != nil {
			return nil, fmt.Errorf("jobs[%d] (%s): %w", i, j.Name, err)
		}
		timeout, err := config.ParseDurationField(fmt.Sprintf("jobs[%d].timeout", i), j.Timeout)
		if err != nil {
			return nil, err
		}
		if _, err := reg.Register(jobs.Spec{
			Name:     j.Name,
			Schedule: j.Schedule,
			Timeout:  timeout,
			Alias:    strings.TrimSpace(j.TriggerAlias),
			Handler:  h,
		}); err != nil {
			return nil, fmt.Errorf("jobs[%d]: %w", i, err)
		}
	}
	reg.Seal()
	return reg, nil
}
