package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	logx "trendsched/pkg/logx"
)

var reservedAliases = map[string]struct{}{
	"history": {},
	"status":  {},
	"trigger": {},
}

// Validate checks field shapes. Cron expressions are checked later by the job
// registry, which owns the parser.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if !logx.ValidLevel(cfg.Logging.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "none", "memory", "file", "sqlite", "sqlite3":
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	_, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	add(err)

	if cfg.Engine.Workers < 0 {
		add(errors.New("engine.workers: must be >= 0"))
	}
	if cfg.Engine.QueueSize < 0 {
		add(errors.New("engine.queue_size: must be >= 0"))
	}
	if cfg.Engine.RetryMax < 0 {
		add(errors.New("engine.retry_max: must be >= 0"))
	}
	_, err = ParseDurationField("engine.default_timeout", cfg.Engine.DefaultTimeout)
	add(err)
	_, err = ParseDurationField("engine.shutdown_grace", cfg.Engine.ShutdownGrace)
	add(err)

	_, err = ParseDurationField("clock.tick", cfg.Clock.Tick)
	add(err)
	if tz := strings.TrimSpace(cfg.Clock.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("clock.timezone: %w", err))
		}
	}

	if cfg.History.MaxPerJob < 0 {
		add(errors.New("history.max_per_job: must be >= 0"))
	}
	_, err = ParseDurationField("history.max_age", cfg.History.MaxAge)
	add(err)
	_, err = ParseDurationField("history.prune_every", cfg.History.PruneEvery)
	add(err)

	aliases := map[string]string{}
	for i, j := range cfg.Jobs {
		p := fmt.Sprintf("jobs[%d]", i)
		if strings.TrimSpace(j.Name) == "" {
			add(fmt.Errorf("%s.name: required", p))
		}
		if strings.TrimSpace(j.Schedule) == "" {
			add(fmt.Errorf("%s.schedule: required", p))
		}
		_, err := ParseDurationField(p+".timeout", j.Timeout)
		add(err)
		if a := strings.TrimSpace(j.TriggerAlias); a != "" {
			if _, bad := reservedAliases[a]; bad || strings.Contains(a, "/") {
				add(fmt.Errorf("%s.trigger_alias: %q is reserved", p, a))
			}
			if other, dup := aliases[a]; dup {
				add(fmt.Errorf("%s.trigger_alias: %q already used by %s", p, a, other))
			}
			aliases[a] = j.Name
		}
		add(validateHandler(p+".handler", j.Handler))
	}

	_, err = ParseDurationField("http.read_timeout", cfg.HTTP.ReadTimeout)
	add(err)
	_, err = ParseDurationField("http.write_timeout", cfg.HTTP.WriteTimeout)
	add(err)
	_, err = ParseDurationField("http.idle_timeout", cfg.HTTP.IdleTimeout)
	add(err)
	if cfg.HTTP.TriggerRate < 0 {
		add(errors.New("http.trigger_rate: must be >= 0"))
	}

	_, err = ParseDurationField("alerts.retention", cfg.Alerts.Retention)
	add(err)
	_, err = ParseDurationField("alerts.webhook_rate", cfg.Alerts.WebhookRate)
	add(err)
	if u := strings.TrimSpace(cfg.Alerts.WebhookURL); u != "" {
		add(validateURL("alerts.webhook_url", u))
	}

	return errors.Join(errs...)
}

func validateHandler(path string, h HandlerConfig) error {
	switch strings.ToLower(strings.TrimSpace(h.Kind)) {
	case "http":
		return validateURL(path+".url", h.URL)
	case "noop", "":
		return nil
	case "sleep":
		_, err := ParseDurationField(path+".duration", h.Duration)
		return err
	default:
		return fmt.Errorf("%s.kind: unknown handler kind %q", path, h.Kind)
	}
}

func validateURL(path, raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: scheme must be http or https", path)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: host required", path)
	}
	return nil
}
