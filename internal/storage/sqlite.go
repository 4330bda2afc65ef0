package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"trendsched/internal/jobs"
	logx "trendsched/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db       *sql.DB
	log      logx.Logger
	readOnly bool
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if cfg.ReadOnly {
		// Writes are refused in code; opening with mode=ro breaks on WAL
		// databases whose -shm file is gone.
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, readOnly: cfg.ReadOnly}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	if cfg.ReadOnly {
		return st, nil
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		log.Warn("sqlite WAL unavailable", logx.Err(err))
	}
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Driver() string { return "sqlite" }

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return s.db.PingContext(ctx)
}

func (s *sqliteStore) PutExecution(ctx context.Context, e jobs.Execution) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if s.readOnly {
		return ErrReadOnly
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions(id, job_name, status, trigger_kind, queued_at, started_at, completed_at, duration_ms, error_message, attempts)
		 VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status, started_at=excluded.started_at, completed_at=excluded.completed_at,
		   duration_ms=excluded.duration_ms, error_message=excluded.error_message, attempts=excluded.attempts`,
		e.ID, e.JobName, string(e.Status), string(e.Trigger), formatTime(e.QueuedAt),
		nullTime(e.StartedAt), nullTime(e.CompletedAt), nullInt(e.DurationMs), nullStrPtr(e.ErrorMessage), e.Attempts,
	)
	return err
}

func (s *sqliteStore) ListExecutions(ctx context.Context) ([]jobs.Execution, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_name, status, trigger_kind, queued_at, started_at, completed_at, duration_ms, error_message, attempts
		 FROM executions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []jobs.Execution
	for rows.Next() {
		var (
			e                      jobs.Execution
			status, trigger, queue string
			started, completed     sql.NullString
			dur                    sql.NullInt64
			msg                    sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.JobName, &status, &trigger, &queue, &started, &completed, &dur, &msg, &e.Attempts); err != nil {
			return nil, err
		}
		e.Status = jobs.Status(status)
		e.Trigger = jobs.TriggerKind(trigger)
		if e.QueuedAt, err = time.Parse(time.RFC3339Nano, queue); err != nil {
			return nil, fmt.Errorf("execution %s: queued_at: %w", e.ID, err)
		}
		if e.StartedAt, err = parseNullTime(started); err != nil {
			return nil, fmt.Errorf("execution %s: started_at: %w", e.ID, err)
		}
		if e.CompletedAt, err = parseNullTime(completed); err != nil {
			return nil, fmt.Errorf("execution %s: completed_at: %w", e.ID, err)
		}
		if dur.Valid {
			v := dur.Int64
			e.DurationMs = &v
		}
		if msg.Valid {
			v := msg.String
			e.ErrorMessage = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteExecutions(ctx context.Context, ids []string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if s.readOnly {
		return ErrReadOnly
	}
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `DELETE FROM executions WHERE id = ?`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullStrPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
