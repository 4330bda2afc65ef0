package metrics

import (
	"sort"
	"sync"
	"time"
)

// APISummary is the "api_metrics" object.
type APISummary struct {
	TotalRequests         uint64        `json:"total_requests"`
	SuccessfulRequests    uint64        `json:"successful_requests"`
	FailedRequests        uint64        `json:"failed_requests"`
	AverageResponseTimeMs float64       `json:"average_response_time_ms"`
	LastRequest           *time.Time    `json:"last_request"`
	ResponseTimes         ResponseTimes `json:"response_times"`
	ErrorRates            ErrorRates    `json:"error_rates"`
}

type ResponseTimes struct {
	AverageMs float64 `json:"average_ms"`
	MinMs     float64 `json:"min_ms"`
	MaxMs     float64 `json:"max_ms"`
}

type ErrorRates struct {
	ClientErrors uint64  `json:"client_errors"`
	ServerErrors uint64  `json:"server_errors"`
	ErrorRate    float64 `json:"error_rate"`
}

// EndpointSummary is one "endpoint_metrics" entry.
type EndpointSummary struct {
	Path                  string     `json:"path"`
	Method                string     `json:"method"`
	RequestCount          uint64     `json:"request_count"`
	ErrorCount            uint64     `json:"error_count"`
	AverageResponseTimeMs float64    `json:"average_response_time_ms"`
	LastAccessed          *time.Time `json:"last_accessed"`
}

type endpointStat struct {
	path, method string
	count, errs  uint64
	total        time.Duration
	last         time.Time
}

// APIStats aggregates requests in memory. The zero value is not usable; use
// NewAPIStats.
type APIStats struct {
	now func() time.Time

	mu         sync.Mutex
	total      uint64
	ok         uint64
	clientErrs uint64
	serverErrs uint64
	sum        time.Duration
	min, max   time.Duration
	last       time.Time
	byEndpoint map[string]*endpointStat
}

func NewAPIStats(now func() time.Time) *APIStats {
	if now == nil {
		now = time.Now
	}
	return &APIStats{now: now, byEndpoint: map[string]*endpointStat{}}
}

// Record counts a request. Status codes >= 400 are failures.
func (a *APIStats) Record(method, path string, code int, d time.Duration) {
	at := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	switch {
	case code >= 500:
		a.serverErrs++
	case code >= 400:
		a.clientErrs++
	default:
		a.ok++
	}
	a.sum += d
	if a.total == 1 || d < a.min {
		a.min = d
	}
	if d > a.max {
		a.max = d
	}
	a.last = at

	key := method + " " + path
	st := a.byEndpoint[key]
	if st == nil {
		st = &endpointStat{path: path, method: method}
		a.byEndpoint[key] = st
	}
	st.count++
	if code >= 400 {
		st.errs++
	}
	st.total += d
	st.last = at
}

func (a *APIStats) Summary() APISummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	failed := a.clientErrs + a.serverErrs
	out := APISummary{
		TotalRequests:      a.total,
		SuccessfulRequests: a.ok,
		FailedRequests:     failed,
		ErrorRates:         ErrorRates{ClientErrors: a.clientErrs, ServerErrors: a.serverErrs},
	}
	if a.total > 0 {
		avg := ms(a.sum) / float64(a.total)
		out.AverageResponseTimeMs = avg
		out.ResponseTimes = ResponseTimes{AverageMs: avg, MinMs: ms(a.min), MaxMs: ms(a.max)}
		out.ErrorRates.ErrorRate = float64(failed) / float64(a.total)
		last := a.last
		out.LastRequest = &last
	}
	return out
}

// Endpoints returns per-endpoint stats, busiest first.
func (a *APIStats) Endpoints() []EndpointSummary {
	a.mu.Lock()
	out := make([]EndpointSummary, 0, len(a.byEndpoint))
	for _, st := range a.byEndpoint {
		last := st.last
		out = append(out, EndpointSummary{
			Path:                  st.path,
			Method:                st.method,
			RequestCount:          st.count,
			ErrorCount:            st.errs,
			AverageResponseTimeMs: ms(st.total) / float64(st.count),
			LastAccessed:          &last,
		})
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestCount != out[j].RequestCount {
			return out[i].RequestCount > out[j].RequestCount
		}
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}

func (a *APIStats) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total, a.ok, a.clientErrs, a.serverErrs = 0, 0, 0, 0
	a.sum, a.min, a.max = 0, 0, 0
	a.last = time.Time{}
	a.byEndpoint = map[string]*endpointStat{}
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
