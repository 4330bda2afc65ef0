package httpapi

import (
	"sync"

	"golang.org/x/time/rate"
)

// triggerLimiter hands out one token bucket per job name. A zero rate
// disables limiting.
type triggerLimiter struct {
	limit rate.Limit
	burst int

	mu    sync.Mutex
	byJob map[string]*rate.Limiter
}

func newTriggerLimiter(perSec float64, burst int) *triggerLimiter {
	if perSec <= 0 {
		return &triggerLimiter{}
	}
	if burst <= 0 {
		burst = 5
	}
	return &triggerLimiter{limit: rate.Limit(perSec), burst: burst, byJob: map[string]*rate.Limiter{}}
}

func (t *triggerLimiter) Allow(job string) bool {
	if t.limit == 0 {
		return true
	}
	t.mu.Lock()
	l := t.byJob[job]
	if l == nil {
		l = rate.NewLimiter(t.limit, t.burst)
		t.byJob[job] = l
	}
	t.mu.Unlock()
	return l.Allow()
}
