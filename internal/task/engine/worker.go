package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"trendsched/internal/jobs"
	logx "trendsched/pkg/logx"
)

func (s *Service) worker(ctx context.Context, q <-chan queuedRun) {
	for {
		select {
		case <-ctx.Done():
			return
		case qr := <-q:
			s.execOne(qr)
		}
	}
}

func (s *Service) execOne(qr queuedRun) {
	exec, ok := s.begin(qr.id)
	if !ok {
		return
	}

	timeout := qr.def.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}

	s.mu.Lock()
	parent := s.runCtx
	s.mu.Unlock()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	run := jobs.Run{ExecutionID: exec.ID, JobName: exec.JobName, Trigger: exec.Trigger}
	log := s.log.With(logx.Job(exec.JobName), logx.Execution(exec.ID))

	var err error
	attempts := 0
	for {
		attempts++
		err = s.runHandler(ctx, qr.def.Handler, run, log)
		if err == nil || ctx.Err() != nil || jobs.IsPermanent(err) || attempts > s.cfg.RetryMax {
			break
		}
		wait := backoff(s.cfg.RetryBase, s.cfg.RetryMaxDelay, attempts)
		log.Warn("run failed, retrying", logx.Int("attempt", attempts), logx.Duration("backoff", wait), logx.Err(err))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
		if ctx.Err() != nil {
			break
		}
	}

	err = classify(ctx, parent, exec.JobName, timeout, err)
	if err != nil {
		log.Warn("run failed", logx.Int("attempts", attempts), logx.Err(err))
	} else {
		log.Debug("run completed", logx.Int("attempts", attempts))
	}
	s.finish(qr, err, attempts)
}

// runHandler returns as soon as ctx ends even if the handler ignores it, so a
// stuck handler cannot pin a worker past its timeout.
func (s *Service) runHandler(ctx context.Context, h jobs.Handler, run jobs.Run, log logx.Logger) error {
	if h == nil {
		return errors.New("job has no handler")
	}
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("handler panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- h.Run(ctx, run)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func classify(ctx, parent context.Context, job string, timeout time.Duration, err error) error {
	if parent.Err() != nil {
		return ErrShuttingDown
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &jobs.HandlerTimeoutError{Job: job, Timeout: timeout}
	}
	if err == nil {
		return nil
	}
	var te *jobs.HandlerTimeoutError
	if errors.As(err, &te) {
		return err
	}
	return &jobs.HandlerExecutionError{Job: job, Err: err}
}

func backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
