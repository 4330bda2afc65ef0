// Package metrics exposes Prometheus collectors for executions and the HTTP
// API, plus the JSON aggregates served at /api/admin/metrics.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trendsched/internal/eventbus"
	"trendsched/internal/jobs"
)

// Collector owns a private registry so tests and multiple app instances
// never collide on the default one.
type Collector struct {
	reg *prometheus.Registry

	executions   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	skips        *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	active       *prometheus.GaugeVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	storageErrs  prometheus.Counter
}

func NewCollector() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendsched_executions_total",
			Help: "Finished executions by job, trigger kind and terminal status.",
		}, []string{"job", "trigger", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trendsched_execution_duration_seconds",
			Help:    "Execution run time from start to terminal state.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		}, []string{"job"}),
		skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendsched_scheduled_skips_total",
			Help: "Scheduled firings skipped without creating an execution.",
		}, []string{"job", "reason"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendsched_trigger_rejections_total",
			Help: "Manual triggers rejected by the engine.",
		}, []string{"job", "reason"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trendsched_active_executions",
			Help: "Executions queued or running.",
		}, []string{"job"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendsched_http_requests_total",
			Help: "HTTP requests by route pattern, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trendsched_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		storageErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendsched_storage_errors_total",
			Help: "Failed history writes.",
		}),
	}
	c.reg.MustRegister(
		c.executions, c.duration, c.skips, c.rejections, c.active,
		c.httpRequests, c.httpDuration, c.storageErrs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// ObserveHTTP records one request against its route pattern.
func (c *Collector) ObserveHTTP(route, method string, code int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	c.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	c.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// Observe folds one bus event into the collectors.
func (c *Collector) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.ExecutionQueued:
		if x, ok := e.Data.(jobs.Execution); ok {
			c.active.WithLabelValues(x.JobName).Inc()
		}
	case eventbus.ExecutionCompleted, eventbus.ExecutionFailed:
		x, ok := e.Data.(jobs.Execution)
		if !ok {
			return
		}
		c.active.WithLabelValues(x.JobName).Dec()
		c.executions.WithLabelValues(x.JobName, string(x.Trigger), string(x.Status)).Inc()
		if x.DurationMs != nil {
			c.duration.WithLabelValues(x.JobName).Observe(float64(*x.DurationMs) / 1000)
		}
	case eventbus.ScheduleSkipped:
		if s, ok := e.Data.(eventbus.Skip); ok {
			c.skips.WithLabelValues(s.Job, s.Reason).Inc()
		}
	case eventbus.TriggerRejected:
		if r, ok := e.Data.(eventbus.Rejection); ok {
			c.rejections.WithLabelValues(r.Job, r.Reason).Inc()
		}
	case eventbus.StorageError:
		c.storageErrs.Inc()
	}
}

// Run consumes bus events until ctx ends.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256,
		eventbus.ExecutionQueued, eventbus.ExecutionCompleted, eventbus.ExecutionFailed,
		eventbus.ScheduleSkipped, eventbus.TriggerRejected, eventbus.StorageError,
	)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			c.Observe(e)
		}
	}
}
