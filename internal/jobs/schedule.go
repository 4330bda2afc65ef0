package jobs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// standard 5-field crontab, optional leading seconds field, and descriptors
// like "@daily" or "@every 1h".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule turns a schedule string into an immutable cron.Schedule.
//
// Supported forms:
//   - cron: "0 2 * * *", "*/10 * * * * *", "@hourly", "@every 55m"
//   - "every:55m" / "interval:2h" for a fixed interval
//
// Spec schedules run in loc unless the expression carries CRON_TZ/TZ.
func ParseSchedule(raw string, loc *time.Location) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, errors.New("schedule required")
	}

	low := strings.ToLower(s)
	for _, p := range []string{"every:", "interval:"} {
		if strings.HasPrefix(low, p) {
			d, err := time.ParseDuration(strings.TrimSpace(s[len(p):]))
			if err != nil {
				return nil, fmt.Errorf("invalid interval: %w", err)
			}
			if d < time.Second {
				return nil, errors.New("interval must be >= 1s")
			}
			return cron.Every(d), nil
		}
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, "cron:"))

	sched, err := cronParser.Parse(s)
	if err != nil {
		return nil, err
	}
	if spec, ok := sched.(*cron.SpecSchedule); ok && loc != nil && !hasTZPrefix(s) {
		spec.Location = loc
	}
	return sched, nil
}

func hasTZPrefix(s string) bool {
	return strings.HasPrefix(s, "CRON_TZ=") || strings.HasPrefix(s, "TZ=")
}
