package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"trendsched/internal/config"
	"trendsched/internal/eventbus"
	"trendsched/internal/history"
	"trendsched/internal/httpapi"
	"trendsched/internal/jobs"
	"trendsched/internal/observability/alerting"
	"trendsched/internal/observability/metrics"
	rtsup "trendsched/internal/runtime/supervisor"
	"trendsched/internal/scheduler"
	"trendsched/internal/storage"
	"trendsched/internal/task/clock"
	"trendsched/internal/task/engine"
	logx "trendsched/pkg/logx"
)

// Version is stamped by the build.
var Version = "dev"

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	hist  *history.Store

	reg    *jobs.Registry
	engine *engine.Service
	clock  *clock.Clock
	facade *scheduler.Facade

	metrics *metrics.Collector
	alerts  *alerting.Service
	http    *httpapi.Server

	grace      time.Duration
	pruneEvery time.Duration
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg))
	appLog := log.With(logx.Component("app"))

	bus := eventbus.New()

	sc, err := MapStorage(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.Component("storage")))
	if err != nil {
		return nil, err
	}
	// Anything below that fails must release the store.
	fail := func(err error) (*App, error) {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	reg, err := BuildRegistry(cfg, &http.Client{})
	if err != nil {
		return fail(err)
	}

	hopts, pruneEvery, err := mapHistory(cfg, reg)
	if err != nil {
		return fail(err)
	}
	hist := history.New(store, log.With(logx.Component("history")), hopts)
	loadCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = hist.Load(loadCtx)
	cancel()
	if err != nil {
		return fail(fmt.Errorf("load history: %w", err))
	}

	ecfg, grace, err := mapEngine(cfg)
	if err != nil {
		return fail(err)
	}
	ecfg.InitialTotal = uint64(hist.Len())
	eng := engine.New(ecfg, reg, hist, log.With(logx.Component("engine")), bus)

	tick, err := config.ParseDurationOrDefault("clock.tick", cfg.Clock.Tick, time.Second)
	if err != nil {
		return fail(err)
	}
	clk := clock.New(reg, eng, log.With(logx.Component("clock")), clock.WithTick(tick))

	facade := scheduler.New(reg, eng, clk, hist)

	acfg, err := mapAlerts(cfg)
	if err != nil {
		return fail(err)
	}
	alerts := alerting.New(acfg, log.With(logx.Component("alerts")))
	collector := metrics.NewCollector()

	hcfg, err := mapHTTP(cfg)
	if err != nil {
		return fail(err)
	}

	a := &App{
		cfgPath:    cfgPath,
		cfgm:       cfgm,
		log:        appLog,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		hist:       hist,
		reg:        reg,
		engine:     eng,
		clock:      clk,
		facade:     facade,
		metrics:    collector,
		alerts:     alerts,
		grace:      grace,
		pruneEvery: pruneEvery,
	}
	a.http = httpapi.NewServer(hcfg, httpapi.Deps{
		Scheduler:   facade,
		History:     hist,
		Metrics:     collector,
		APIStats:    metrics.NewAPIStats(time.Now),
		System:      metrics.NewSystemStats(time.Now()),
		Alerts:      alerts,
		Bus:         bus,
		Diagnostics: a.Diagnostics,
		Version:     Version,
	}, log.With(logx.Component("http")))

	appLog.Info("app configured",
		logx.String("config", cfgPath),
		logx.String("storage", store.Driver()),
		logx.Int("jobs", reg.Len()),
		logx.Int("history", hist.Len()),
	)
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// HTTPAddr is the bound API address after Start.
func (a *App) HTTPAddr() string { return a.http.Addr() }

// Diagnostics snapshots every supervisor that is currently running.
func (a *App) Diagnostics() map[string]rtsup.Snapshot {
	out := map[string]rtsup.Snapshot{}
	add := func(name string, sup *rtsup.Supervisor) {
		if sup != nil {
			out[name] = sup.Snapshot()
		}
	}
	add("app", a.sup)
	add("engine", a.engine.Supervisor())
	add("clock", a.clock.Supervisor())
	add("http", a.http.Supervisor())
	return out
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	sctx := a.sup.Context()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.Component("config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := BuildRegistry(cfg, nil); err != nil {
			return err
		}
		if _, err := mapAlerts(cfg); err != nil {
			return err
		}
		_, err := MapStorage(cfg)
		return err
	})

	// Event subscribers.
	a.sup.Go("metrics.events", func(c context.Context) error { return a.metrics.Run(c, a.bus) })
	a.sup.Go("alerts.events", func(c context.Context) error { return a.alerts.Run(c, a.bus) })
	a.sup.Go("eventbus.log", a.logEvents)

	if err := a.engine.Start(sctx); err != nil {
		return err
	}
	a.clock.Start(sctx)
	if err := a.http.Start(sctx); err != nil {
		return fmt.Errorf("http: %w", err)
	}

	a.sup.Go("janitor", a.janitor)
	a.sup.Go("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.facade.MarkStarted(time.Now())
	a.log.Info("app started",
		logx.String("http", a.http.Addr()),
		logx.String("version", Version),
	)
	return nil
}

// logEvents mirrors bus traffic into debug logs. Failures and rejections
// are logged at info by the components that produce them.
func (a *App) logEvents(c context.Context) error {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-c.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			fields := []logx.Field{logx.String("type", e.Type)}
			if ex, ok := e.Data.(jobs.Execution); ok {
				fields = append(fields, logx.Job(ex.JobName), logx.Execution(ex.ID))
			}
			a.log.Debug("event", fields...)
		}
	}
}

// janitor prunes history and expires resolved alerts.
func (a *App) janitor(c context.Context) error {
	t := time.NewTicker(a.pruneEvery)
	defer t.Stop()
	for {
		select {
		case <-c.Done():
			return nil
		case now := <-t.C:
			n, err := a.hist.Prune(c, now)
			if err != nil {
				a.log.Warn("history prune failed", logx.Err(err))
			} else if n > 0 {
				a.log.Info("history pruned", logx.Int("removed", n))
			}
			if removed := a.alerts.Cleanup(now); removed > 0 {
				a.log.Debug("alerts expired", logx.Int("removed", removed))
			}
		}
	}
}

// reloadLoop applies the hot-reloadable sections (logging, alerts) and warns
// about the rest.
func (a *App) reloadLoop(c context.Context) error {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return nil
		case newCfg, ok := <-sub:
			if !ok {
				return nil
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sum := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sum.Changed) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogging(newCfg))
	if acfg, err := mapAlerts(newCfg); err != nil {
		a.log.Warn("invalid alerts config; keeping previous", logx.Err(err))
	} else {
		a.alerts.Apply(acfg)
	}
	if len(sum.RestartRequired) > 0 {
		a.log.Warn("config sections changed that need a restart",
			logx.String("sections", strings.Join(sum.RestartRequired, ",")))
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: time.Now(), Data: sum.Changed})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sum.Changed, ","))}, sum.Fields...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	if reason == "" {
		reason = StopUnknown
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max <= 0 {
				max = time.Millisecond
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// The API goes first so no trigger arrives at a stopping engine.
	step("http", 3*time.Second, a.http.Stop)
	step("clock", 2*time.Second, a.clock.Stop)
	step("engine", a.grace, a.engine.Stop)

	// Bus subscribers, janitor and config watch.
	a.sup.Cancel()
	step("bus", 2*time.Second, a.sup.Wait)
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped", logx.Uint64("total_executions", a.engine.TotalExecutions()))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
