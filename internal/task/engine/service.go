package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"trendsched/internal/eventbus"
	"trendsched/internal/jobs"
	rtsup "trendsched/internal/runtime/supervisor"
	logx "trendsched/pkg/logx"
)

const appendTimeout = 5 * time.Second

// Service runs job handlers on a bounded worker pool and owns every
// Execution until it is terminal.
type Service struct {
	cfg  Config
	reg  Registry
	sink Sink
	log  logx.Logger
	bus  eventbus.Bus

	mu       sync.Mutex
	q        chan queuedRun
	sup      *rtsup.Supervisor
	stopped  bool
	live     map[string]jobs.Execution
	lastRuns map[string]time.Time

	// runCtx is the parent of every handler context. Only Stop cancels it.
	runCtx    context.Context
	runCancel context.CancelFunc

	stateMu sync.Mutex
	states  map[string]*runState

	total    atomic.Uint64
	skipped  atomic.Uint64
	rejected atomic.Uint64

	skipMu       sync.Mutex
	skippedByJob map[string]uint64
}

func New(cfg Config, reg Registry, sink Sink, log logx.Logger, bus eventbus.Bus) *Service {
	cfg = cfg.withDefaults()
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	s := &Service{
		cfg:          cfg,
		reg:          reg,
		sink:         sink,
		log:          log,
		bus:          bus,
		live:         map[string]jobs.Execution{},
		lastRuns:     map[string]time.Time{},
		states:       map[string]*runState{},
		skippedByJob: map[string]uint64{},
	}
	s.total.Store(cfg.InitialTotal)
	return s
}

// Start launches the worker pool. It is a no-op when already running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.q != nil {
		return nil
	}

	s.q = make(chan queuedRun, s.cfg.QueueSize)
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)

	queue := s.q
	for i := 0; i < s.cfg.Workers; i++ {
		s.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.worker(c, queue)
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}

	s.log.Info("execution engine started",
		logx.Int("workers", s.cfg.Workers),
		logx.Int("queue", s.cfg.QueueSize),
		logx.Duration("default_timeout", s.cfg.DefaultTimeout),
	)
	return nil
}

// Stop refuses new triggers, cancels in-flight handlers and fails every
// execution that has not finished with ErrShuttingDown.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	sup := s.sup
	cancel := s.runCancel
	queue := s.q
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var waitErr error
	if sup != nil {
		if err := sup.Stop(ctx); err != nil && ctx.Err() != nil {
			s.log.Warn("execution engine stop timed out", logx.Err(err))
			waitErr = err
		}
	}

	// Runs still queued never reached a worker.
	if queue != nil {
	drain:
		for {
			select {
			case qr := <-queue:
				s.finish(qr, ErrShuttingDown, 0)
			default:
				break drain
			}
		}
	}

	// Anything left belongs to a worker that did not return in time.
	s.mu.Lock()
	leftovers := make([]string, 0, len(s.live))
	for id, e := range s.live {
		if !e.Status.Terminal() {
			leftovers = append(leftovers, id)
		}
	}
	s.mu.Unlock()
	for _, id := range leftovers {
		s.finishByID(id, ErrShuttingDown)
	}

	s.log.Info("execution engine stopped",
		logx.Int("abandoned", len(leftovers)),
		logx.Uint64("total_executions", s.total.Load()),
	)
	return waitErr
}

// Running reports whether the engine accepts triggers.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q != nil && !s.stopped
}

// Trigger creates an execution for job and queues it, returning its id
// without waiting for the run.
//
// Scheduled triggers fail with a *SkipError (matching ErrOverlapSkip or
// ErrQueueFull) while the previous scheduled run of the job is active or the
// queue is full; neither creates an execution. Manual triggers never overlap-skip and fail with
// *jobs.SchedulerBusyError when the queue is full.
func (s *Service) Trigger(ctx context.Context, job string, kind jobs.TriggerKind) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	def, ok := s.reg.Lookup(job)
	if !ok {
		return "", &jobs.UnknownJobError{Job: job}
	}
	if !kind.Valid() {
		return "", fmt.Errorf("invalid trigger kind %q", kind)
	}

	s.mu.Lock()
	if s.q == nil || s.stopped {
		s.mu.Unlock()
		if kind == jobs.TriggerManual {
			s.reject(def.Name, "stopped")
		} else {
			s.log.Debug("scheduled run dropped", logx.Job(def.Name), logx.String("reason", "stopped"))
		}
		return "", ErrStopped
	}

	var st *runState
	if kind == jobs.TriggerScheduled {
		st = s.stateFor(def.Name)
		if !st.tryAcquire() {
			s.mu.Unlock()
			return "", s.skip(def.Name, SkipOverlap)
		}
	}

	exec := jobs.Execution{
		ID:       s.cfg.NewID(),
		JobName:  def.Name,
		Status:   jobs.StatusScheduled,
		Trigger:  kind,
		QueuedAt: s.cfg.Now(),
	}
	qr := queuedRun{id: exec.ID, def: def, kind: kind, state: st}

	// s.mu is held across the send so a worker cannot pick the run up before
	// it is visible in s.live.
	select {
	case s.q <- qr:
		s.live[exec.ID] = exec
		s.total.Add(1)
		s.mu.Unlock()
	default:
		capacity := cap(s.q)
		s.mu.Unlock()
		st.release()
		if kind == jobs.TriggerScheduled {
			return "", s.skip(def.Name, SkipQueueFull)
		}
		s.reject(def.Name, "busy")
		return "", &jobs.SchedulerBusyError{Job: def.Name, Capacity: capacity}
	}

	s.publish(eventbus.ExecutionQueued, exec)
	if kind == jobs.TriggerManual {
		s.log.Info("manual run queued", logx.Job(def.Name), logx.Execution(exec.ID))
	} else {
		s.log.Debug("scheduled run queued", logx.Job(def.Name), logx.Execution(exec.ID))
	}
	return exec.ID, nil
}

// Get returns a live (non-terminal or just finishing) execution.
func (s *Service) Get(id string) (jobs.Execution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live[id]
	return e, ok
}

// Active lists live executions, newest first.
func (s *Service) Active() []jobs.Execution {
	s.mu.Lock()
	out := make([]jobs.Execution, 0, len(s.live))
	for _, e := range s.live {
		out = append(out, e)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return jobs.Newer(out[i], out[j]) })
	return out
}

// ScheduledActive reports whether a scheduled run of job holds the overlap
// guard.
func (s *Service) ScheduledActive(job string) bool {
	s.stateMu.Lock()
	st := s.states[job]
	s.stateMu.Unlock()
	return st != nil && st.active()
}

func (s *Service) TotalExecutions() uint64 { return s.total.Load() }

func (s *Service) Stats() Stats {
	st := Stats{
		Workers:         s.cfg.Workers,
		TotalExecutions: s.total.Load(),
		Skipped:         s.skipped.Load(),
		Rejected:        s.rejected.Load(),
		LastRuns:        map[string]time.Time{},
	}
	s.mu.Lock()
	st.Running = s.q != nil && !s.stopped
	if s.q != nil {
		st.QueueLen = len(s.q)
		st.QueueCap = cap(s.q)
	}
	st.Active = len(s.live)
	for k, v := range s.lastRuns {
		st.LastRuns[k] = v
	}
	s.mu.Unlock()

	s.skipMu.Lock()
	if len(s.skippedByJob) > 0 {
		st.SkippedByJob = make(map[string]uint64, len(s.skippedByJob))
		for k, v := range s.skippedByJob {
			st.SkippedByJob[k] = v
		}
	}
	s.skipMu.Unlock()
	return st
}

// Supervisor exposes the worker supervisor for diagnostics (nil before Start).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

func (s *Service) stateFor(job string) *runState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	st := s.states[job]
	if st == nil {
		st = &runState{}
		s.states[job] = st
	}
	return st
}

func (s *Service) skip(job, reason string) error {
	s.skipped.Add(1)
	s.skipMu.Lock()
	s.skippedByJob[job]++
	s.skipMu.Unlock()
	s.log.Debug("scheduled run skipped", logx.Job(job), logx.String("reason", reason))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.ScheduleSkipped, Data: eventbus.Skip{Job: job, Reason: reason}})
	}
	return &SkipError{Job: job, Reason: reason}
}

func (s *Service) reject(job, reason string) {
	s.rejected.Add(1)
	s.log.Warn("manual trigger rejected", logx.Job(job), logx.String("reason", reason))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TriggerRejected, Data: eventbus.Rejection{Job: job, Reason: reason}})
	}
}

func (s *Service) publish(typ string, e jobs.Execution) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: e})
	}
}

// begin moves a queued run to running. It returns false when Stop already
// failed the execution.
func (s *Service) begin(id string) (jobs.Execution, bool) {
	now := s.cfg.Now()
	s.mu.Lock()
	e, ok := s.live[id]
	if !ok || e.Status != jobs.StatusScheduled {
		s.mu.Unlock()
		return jobs.Execution{}, false
	}
	e = e.Start(now)
	s.live[id] = e
	s.lastRuns[e.JobName] = now
	s.mu.Unlock()

	s.publish(eventbus.ExecutionStarted, e)
	return e, true
}

func (s *Service) finishByID(id string, cause error) {
	s.mu.Lock()
	e, ok := s.live[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	var st *runState
	if e.Trigger == jobs.TriggerScheduled {
		st = s.stateFor(e.JobName)
	}
	s.finish(queuedRun{id: id, kind: e.Trigger, state: st}, cause, 0)
}

// finish commits the terminal transition, hands it to the sink and only then
// drops it from the live set, so a reader always finds the execution in one
// of the two places. Only the first caller for an id wins.
func (s *Service) finish(qr queuedRun, cause error, attempts int) {
	now := s.cfg.Now()
	s.mu.Lock()
	e, ok := s.live[qr.id]
	if !ok || e.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	done := e.Complete(now, cause)
	done.Attempts = attempts
	s.live[qr.id] = done
	s.mu.Unlock()

	if s.sink != nil {
		actx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		err := s.sink.Append(actx, done)
		cancel()
		if err != nil {
			s.onSinkError(done, err)
		}
	}

	s.mu.Lock()
	delete(s.live, qr.id)
	s.mu.Unlock()
	qr.state.release()

	if done.Status == jobs.StatusFailed {
		s.publish(eventbus.ExecutionFailed, done)
	} else {
		s.publish(eventbus.ExecutionCompleted, done)
	}
}

func (s *Service) onSinkError(e jobs.Execution, err error) {
	var inc *jobs.InconsistentHistoryError
	if errors.As(err, &inc) {
		s.log.Error("history rejected execution", logx.Execution(e.ID), logx.Job(e.JobName), logx.Err(err))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.HistoryInconsistent, Data: err.Error()})
		}
		return
	}
	s.log.Error("history append failed", logx.Execution(e.ID), logx.Job(e.JobName), logx.Err(err))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.StorageError, Data: eventbus.StorageFailure{Op: "append", Err: err.Error()}})
	}
}
