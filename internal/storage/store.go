package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"trendsched/internal/jobs"
	logx "trendsched/pkg/logx"
)

var (
	// ErrDisabled is returned by a store after Close.
	ErrDisabled = errors.New("storage disabled")
	ErrReadOnly = errors.New("storage opened read-only")
)

const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Store persists terminal executions keyed by id.
type Store interface {
	// PutExecution inserts or replaces e.
	PutExecution(ctx context.Context, e jobs.Execution) error
	// ListExecutions returns every stored execution in no particular order.
	ListExecutions(ctx context.Context) ([]jobs.Execution, error)
	// DeleteExecutions removes the given ids. Unknown ids are ignored.
	DeleteExecutions(ctx context.Context, ids []string) error
	Ping(ctx context.Context) error
	Driver() string
	Close() error
}

// Config selects and tunes a driver. Path is the sqlite database file, or
// the base name of the file driver's journal and snapshot.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means 5s
	ReadOnly    bool
}

type opener func(Config, logx.Logger) (Store, error)

var drivers = map[string]opener{
	DriverMemory: func(Config, logx.Logger) (Store, error) { return NewMemory(), nil },
	DriverFile:   openFile,
	DriverSQLite: openSQLite,
}

// NormalizeDriver folds aliases ("", "none", "sqlite3") onto a driver name.
func NormalizeDriver(name string) string {
	switch d := strings.ToLower(strings.TrimSpace(name)); d {
	case "", "none":
		return DriverMemory
	case "sqlite3":
		return DriverSQLite
	default:
		return d
	}
}

// Open returns the store for cfg.Driver.
func Open(cfg Config, log logx.Logger) (Store, error) {
	name := NormalizeDriver(cfg.Driver)
	open, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	st, err := open(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("storage %s: %w", name, err)
	}
	return st, nil
}
