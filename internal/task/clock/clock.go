package clock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"trendsched/internal/jobs"
	rtsup "trendsched/internal/runtime/supervisor"
	"trendsched/internal/task/engine"
	logx "trendsched/pkg/logx"
)

const defaultTick = time.Second

// Triggerer starts scheduled runs. *engine.Service satisfies it.
type Triggerer interface {
	Trigger(ctx context.Context, job string, kind jobs.TriggerKind) (string, error)
}

// Source lists the jobs to fire. *jobs.Registry satisfies it.
type Source interface {
	List() []jobs.Definition
	Location() *time.Location
}

type Option func(*Clock)

// WithNow replaces time.Now, mostly for tests.
func WithNow(now func() time.Time) Option {
	return func(c *Clock) {
		if now != nil {
			c.now = now
		}
	}
}

func WithTick(d time.Duration) Option {
	return func(c *Clock) {
		if d > 0 {
			c.tick = d
		}
	}
}

type Clock struct {
	src  Source
	eng  Triggerer
	log  logx.Logger
	now  func() time.Time
	tick time.Duration

	mu   sync.Mutex
	next map[string]time.Time
	sup  *rtsup.Supervisor

	alive    atomic.Bool
	lastTick atomic.Int64 // unix nanos

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

func New(src Source, eng Triggerer, log logx.Logger, opts ...Option) *Clock {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Clock{
		src:      src,
		eng:      eng,
		log:      log,
		now:      time.Now,
		tick:     defaultTick,
		next:     map[string]time.Time{},
		lastWarn: map[string]time.Time{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start arms every job and launches the tick loop under its own supervisor.
func (c *Clock) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sup != nil {
		return
	}
	c.armLocked(c.now())
	c.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(c.log))
	c.sup.GoRestart("clock", c.Run, rtsup.WithPublishFirstError(true))
	c.log.Info("clock started",
		logx.String("tz", c.location().String()),
		logx.Duration("tick", c.tick),
		logx.Int("jobs", len(c.next)),
	)
}

// Stop ends the tick loop. Runs already handed to the engine are not touched.
func (c *Clock) Stop(ctx context.Context) error {
	c.mu.Lock()
	sup := c.sup
	c.sup = nil
	c.mu.Unlock()
	if sup == nil {
		return nil
	}
	start := time.Now()
	err := sup.Stop(ctx)
	c.log.Info("clock stopped", logx.Duration("took", time.Since(start)))
	if ctx.Err() != nil {
		return err
	}
	return nil
}

// Run ticks until ctx ends. Start calls it; it is exported so callers with
// their own supervisor can drive the loop.
func (c *Clock) Run(ctx context.Context) error {
	c.alive.Store(true)
	defer c.alive.Store(false)

	t := time.NewTicker(c.tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			c.Tick(ctx)
		}
	}
}

// Supervisor exposes the tick loop for diagnostics (nil when stopped).
func (c *Clock) Supervisor() *rtsup.Supervisor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sup
}

// Alive reports whether the tick loop is running.
func (c *Clock) Alive() bool { return c.alive.Load() }

// LastTick is the time of the last evaluation, zero before the first one.
func (c *Clock) LastTick() time.Time {
	n := c.lastTick.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Next returns the next firing instant of job.
func (c *Clock) Next(job string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.next[job]
	return t, ok
}

// Tick fires every job whose next instant is due. Missed instants collapse
// into one firing because next is advanced past now, not past the old next.
func (c *Clock) Tick(ctx context.Context) {
	now := c.now().In(c.location())
	c.lastTick.Store(now.UnixNano())

	defs := c.src.List()
	due := make([]jobs.Definition, 0, 2)

	c.mu.Lock()
	for _, d := range defs {
		next, ok := c.next[d.Name]
		if !ok {
			// Registered after Start.
			c.next[d.Name] = d.Schedule.Next(now)
			continue
		}
		if next.IsZero() || now.Before(next) {
			continue
		}
		due = append(due, d)
		c.next[d.Name] = d.Schedule.Next(now)
	}
	c.mu.Unlock()

	for _, d := range due {
		id, err := c.eng.Trigger(ctx, d.Name, jobs.TriggerScheduled)
		if err != nil {
			c.report(d.Name, err)
			continue
		}
		c.log.Debug("scheduled run fired", logx.Job(d.Name), logx.Execution(id))
	}
}

func (c *Clock) armLocked(now time.Time) {
	now = now.In(c.location())
	for _, d := range c.src.List() {
		next := d.Schedule.Next(now)
		c.next[d.Name] = next
		c.log.Debug("job armed", logx.Job(d.Name), logx.String("schedule", d.Expr), logx.String("next", previewNext(d, now, 3)))
	}
}

func (c *Clock) location() *time.Location {
	if loc := c.src.Location(); loc != nil {
		return loc
	}
	return time.UTC
}

const warnThrottle = 5 * time.Second

// report logs a failed firing. Skips are routine and the engine already
// counts them, so only other errors reach warn, at most once per throttle
// window per job.
func (c *Clock) report(job string, err error) {
	var skip *engine.SkipError
	if errors.As(err, &skip) {
		c.log.Debug("scheduled run skipped", logx.Job(job), logx.String("reason", skip.Reason))
		return
	}
	if errors.Is(err, engine.ErrStopped) || errors.Is(err, context.Canceled) {
		return
	}

	now := time.Now()
	c.warnMu.Lock()
	last := c.lastWarn[job]
	if !last.IsZero() && now.Sub(last) < warnThrottle {
		c.warnMu.Unlock()
		return
	}
	c.lastWarn[job] = now
	c.warnMu.Unlock()

	c.log.Warn("scheduled run failed to start", logx.Job(job), logx.Err(err))
}

// previewNext renders the next n instants of d after from, for logs.
func previewNext(d jobs.Definition, from time.Time, n int) string {
	runs := NextRuns(d, from, n)
	out := make([]string, 0, len(runs))
	for _, t := range runs {
		out = append(out, t.Format(time.RFC3339))
	}
	return strings.Join(out, ", ")
}

// NextRuns returns the next n firing instants of d after from.
func NextRuns(d jobs.Definition, from time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	t := from
	for i := 0; i < n && d.Schedule != nil; i++ {
		t = d.Schedule.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out
}
