package jobs

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Spec is the input to Register.
type Spec struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	// Alias is an optional short name for manual triggers ("refresh-trending").
	Alias   string
	Handler Handler
}

// Definition is a registered job. It is immutable after Register returns.
type Definition struct {
	Name     string
	Expr     string
	Schedule cron.Schedule
	Timeout  time.Duration
	Alias    string
	Handler  Handler
}

// Registry holds job definitions in registration order.
type Registry struct {
	loc *time.Location

	mu      sync.RWMutex
	sealed  bool
	defs    []Definition
	byName  map[string]int
	byAlias map[string]int
}

func NewRegistry(loc *time.Location) *Registry {
	if loc == nil {
		loc = time.UTC
	}
	return &Registry{
		loc:     loc,
		byName:  map[string]int{},
		byAlias: map[string]int{},
	}
}

func (r *Registry) Location() *time.Location { return r.loc }

// Register validates and stores a job. It fails with *InvalidScheduleError
// or *DuplicateJobError, and with ErrRegistrySealed after Seal.
func (r *Registry) Register(spec Spec) (Definition, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return Definition{}, errors.New("job name required")
	}
	if spec.Handler == nil {
		return Definition{}, errors.New("job " + name + ": handler required")
	}
	sched, err := ParseSchedule(spec.Schedule, r.loc)
	if err != nil {
		return Definition{}, &InvalidScheduleError{Job: name, Expr: spec.Schedule, Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return Definition{}, ErrRegistrySealed
	}
	if _, dup := r.byName[name]; dup {
		return Definition{}, &DuplicateJobError{Job: name}
	}
	alias := strings.TrimSpace(spec.Alias)
	if alias != "" {
		if _, dup := r.byAlias[alias]; dup {
			return Definition{}, &DuplicateJobError{Job: alias}
		}
	}

	def := Definition{
		Name:     name,
		Expr:     strings.TrimSpace(spec.Schedule),
		Schedule: sched,
		Timeout:  spec.Timeout,
		Alias:    alias,
		Handler:  spec.Handler,
	}
	r.byName[name] = len(r.defs)
	if alias != "" {
		r.byAlias[alias] = len(r.defs)
	}
	r.defs = append(r.defs, def)
	return def, nil
}

// Seal freezes the registry. Later Register calls fail.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// List returns definitions in registration order.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Definition(nil), r.defs...)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.defs))
	for i, d := range r.defs {
		out[i] = d.Name
	}
	return out
}

func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byName[name]
	if !ok {
		return Definition{}, false
	}
	return r.defs[i], true
}

func (r *Registry) ByAlias(alias string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byAlias[alias]
	if !ok {
		return Definition{}, false
	}
	return r.defs[i], true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}
