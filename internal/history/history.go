// Package history keeps terminal executions, indexed by job and id, on top
// of a storage backend.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"trendsched/internal/jobs"
	"trendsched/internal/storage"
	logx "trendsched/pkg/logx"
)

type Options struct {
	// MaxPerJob and MaxAge bound what Prune keeps. Zero disables a bound.
	MaxPerJob int
	MaxAge    time.Duration
	// Jobs lists the registered job names for QueryAll.
	Jobs func() []string
}

// Store is safe for concurrent use. Writers are serialized; readers take a
// read lock only long enough to copy a slice.
type Store struct {
	backend storage.Store
	log     logx.Logger
	opts    Options

	writeMu sync.Mutex

	mu    sync.RWMutex
	byJob map[string][]jobs.Execution // newest first
	byID  map[string]jobs.Execution
}

func New(backend storage.Store, log logx.Logger, opts Options) *Store {
	if backend == nil {
		backend = storage.NewMemory()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{
		backend: backend,
		log:     log,
		opts:    opts,
		byJob:   map[string][]jobs.Execution{},
		byID:    map[string]jobs.Execution{},
	}
}

// Load rebuilds the index from the backend. Invalid rows are skipped.
func (s *Store) Load(ctx context.Context) error {
	list, err := s.backend.ListExecutions(ctx)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	byJob := map[string][]jobs.Execution{}
	byID := make(map[string]jobs.Execution, len(list))
	bad := 0
	for _, e := range list {
		if err := e.Validate(); err != nil || !e.Status.Terminal() {
			bad++
			continue
		}
		byID[e.ID] = e
		byJob[e.JobName] = append(byJob[e.JobName], e)
	}
	for job := range byJob {
		sortNewest(byJob[job])
	}

	s.writeMu.Lock()
	s.mu.Lock()
	s.byJob, s.byID = byJob, byID
	s.mu.Unlock()
	s.writeMu.Unlock()

	if bad > 0 {
		s.log.Warn("skipped invalid stored executions", logx.Int("count", bad))
	}
	s.log.Info("history loaded", logx.Int("executions", len(byID)), logx.String("driver", s.backend.Driver()))
	return nil
}

// Append records a terminal execution. Appending the same id with the same
// status again is a no-op; a different status is an
// *jobs.InconsistentHistoryError. A backend failure is returned wrapped, but
// the execution stays queryable in memory.
func (s *Store) Append(ctx context.Context, e jobs.Execution) error {
	if !e.Status.Terminal() {
		return fmt.Errorf("append execution %s: status %q is not terminal", e.ID, e.Status)
	}
	if err := e.Validate(); err != nil {
		return fmt.Errorf("append: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	have, exists := s.byID[e.ID]
	s.mu.RUnlock()
	if exists {
		if have.Status == e.Status {
			return nil
		}
		return &jobs.InconsistentHistoryError{ID: e.ID, Have: have.Status, Got: e.Status}
	}

	perr := s.backend.PutExecution(ctx, e)

	s.mu.Lock()
	s.byID[e.ID] = e
	s.byJob[e.JobName] = insertNewest(s.byJob[e.JobName], e)
	s.mu.Unlock()

	if perr != nil {
		return fmt.Errorf("persist execution %s: %w", e.ID, perr)
	}
	return nil
}

// Query returns a copy of job's executions, newest first.
func (s *Store) Query(job string) []jobs.Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.byJob[job]
	out := make([]jobs.Execution, len(src))
	copy(out, src)
	return out
}

// QueryAll maps every registered job to its executions. Jobs without any
// have an empty, non-nil list.
func (s *Store) QueryAll() map[string][]jobs.Execution {
	var names []string
	if s.opts.Jobs != nil {
		names = s.opts.Jobs()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if names == nil {
		names = make([]string, 0, len(s.byJob))
		for job := range s.byJob {
			names = append(names, job)
		}
	}
	out := make(map[string][]jobs.Execution, len(names))
	for _, job := range names {
		src := s.byJob[job]
		dst := make([]jobs.Execution, len(src))
		copy(dst, src)
		out[job] = dst
	}
	return out
}

func (s *Store) Get(id string) (jobs.Execution, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	return e, ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Clear removes job's executions, or all of them when job is empty, and
// returns how many were removed.
func (s *Store) Clear(ctx context.Context, job string) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	var ids []string
	for name, list := range s.byJob {
		if job != "" && name != job {
			continue
		}
		for _, e := range list {
			ids = append(ids, e.ID)
		}
	}
	s.mu.RUnlock()
	if len(ids) == 0 {
		return 0, nil
	}

	if err := s.backend.DeleteExecutions(ctx, ids); err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	s.dropLocked(ids)
	s.log.Info("history cleared", logx.Job(job), logx.Int("count", len(ids)))
	return len(ids), nil
}

// Prune applies MaxAge and MaxPerJob and returns how many executions it
// removed.
func (s *Store) Prune(ctx context.Context, now time.Time) (int, error) {
	if s.opts.MaxAge <= 0 && s.opts.MaxPerJob <= 0 {
		return 0, nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cutoff := time.Time{}
	if s.opts.MaxAge > 0 {
		cutoff = now.Add(-s.opts.MaxAge)
	}

	s.mu.RLock()
	var ids []string
	for _, list := range s.byJob {
		for i, e := range list {
			tooMany := s.opts.MaxPerJob > 0 && i >= s.opts.MaxPerJob
			tooOld := !cutoff.IsZero() && endTime(e).Before(cutoff)
			if tooMany || tooOld {
				ids = append(ids, e.ID)
			}
		}
	}
	s.mu.RUnlock()
	if len(ids) == 0 {
		return 0, nil
	}

	if err := s.backend.DeleteExecutions(ctx, ids); err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	s.dropLocked(ids)
	s.log.Debug("history pruned", logx.Int("count", len(ids)))
	return len(ids), nil
}

// Ping checks the backend.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.backend.Ping(ctx); err != nil {
		if errors.Is(err, storage.ErrDisabled) {
			return err
		}
		return fmt.Errorf("%s: %w", s.backend.Driver(), err)
	}
	return nil
}

func (s *Store) Driver() string { return s.backend.Driver() }

// dropLocked removes ids from the index. Callers hold writeMu.
func (s *Store) dropLocked(ids []string) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for job, list := range s.byJob {
		kept := make([]jobs.Execution, 0, len(list))
		for _, e := range list {
			if _, ok := drop[e.ID]; !ok {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(s.byJob, job)
			continue
		}
		s.byJob[job] = kept
	}
	for id := range drop {
		delete(s.byID, id)
	}
}

func endTime(e jobs.Execution) time.Time {
	if e.CompletedAt != nil {
		return *e.CompletedAt
	}
	return e.SortTime()
}

func sortNewest(list []jobs.Execution) {
	sort.Slice(list, func(i, j int) bool { return jobs.Newer(list[i], list[j]) })
}

// insertNewest returns a new slice with e placed in order. The old slice is
// left untouched for readers holding it.
func insertNewest(list []jobs.Execution, e jobs.Execution) []jobs.Execution {
	i := sort.Search(len(list), func(i int) bool { return jobs.Newer(e, list[i]) })
	out := make([]jobs.Execution, 0, len(list)+1)
	out = append(out, list[:i]...)
	out = append(out, e)
	out = append(out, list[i:]...)
	return out
}
