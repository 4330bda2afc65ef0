package config

import (
	"reflect"
	"strings"

	logx "trendsched/pkg/logx"
)

// ReloadSummary describes what differs between two configs.
type ReloadSummary struct {
	// Changed lists top-level sections that differ.
	Changed []string
	// RestartRequired lists changed sections that are only read at startup.
	RestartRequired []string
	// Fields are safe log attributes (never includes secrets like admin_token).
	Fields []logx.Field
}

// hot-reloadable sections; everything else needs a restart.
var hotSections = map[string]bool{
	"logging": true,
	"alerts":  true,
}

func SummarizeConfigChange(oldCfg, newCfg *Config) ReloadSummary {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var s ReloadSummary
	mark := func(section string, fields ...logx.Field) {
		s.Changed = append(s.Changed, section)
		if !hotSections[section] {
			s.RestartRequired = append(s.RestartRequired, section)
		}
		s.Fields = append(s.Fields, fields...)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		mark("storage", logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		mark("engine", logx.Int("engine.workers", newCfg.Engine.Workers), logx.Int("engine.queue_size", newCfg.Engine.QueueSize))
	}
	if !reflect.DeepEqual(oldCfg.Clock, newCfg.Clock) {
		mark("clock", logx.String("clock.timezone", newCfg.Clock.Timezone))
	}
	if !reflect.DeepEqual(oldCfg.History, newCfg.History) {
		mark("history", logx.Int("history.max_per_job", newCfg.History.MaxPerJob))
	}
	if !reflect.DeepEqual(oldCfg.Jobs, newCfg.Jobs) {
		mark("jobs", logx.Int("jobs.count", len(newCfg.Jobs)))
	}

	oh, nh := oldCfg.HTTP, newCfg.HTTP
	tokenChanged := oh.AdminToken != nh.AdminToken
	oh.AdminToken, nh.AdminToken = "", ""
	if tokenChanged || !reflect.DeepEqual(oh, nh) {
		mark("http",
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.admin_token_set", newCfg.HTTP.AdminToken != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Alerts, newCfg.Alerts) {
		mark("alerts",
			logx.Bool("alerts.enabled", newCfg.Alerts.AlertsEnabled()),
			logx.Bool("alerts.webhook_set", newCfg.Alerts.WebhookURL != ""),
		)
	}
	return s
}
