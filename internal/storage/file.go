package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"trendsched/internal/jobs"
	logx "trendsched/pkg/logx"
)

const compactEvery = 500

// fileStore keeps executions in memory and persists them as:
//   - <prefix>.executions.snapshot.json (periodic snapshot)
//   - <prefix>.executions.journal.jsonl (append-only journal)
//
// The journal is compacted into the snapshot every compactEvery writes and
// on Close.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	readOnly     bool
	byID         map[string]jobs.Execution

	writes int
}

type journalRecord struct {
	Op   string          `json:"op"` // "put" or "del"
	Exec *jobs.Execution `json:"exec,omitempty"`
	IDs  []string        `json:"ids,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	snapPath := prefix + ".executions.snapshot.json"
	journalPath := prefix + ".executions.journal.jsonl"

	byID := map[string]jobs.Execution{}
	if err := loadSnapshot(snapPath, byID); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	skipped, err := replayJournal(journalPath, byID)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if skipped > 0 {
		log.Warn("ignored corrupt journal lines", logx.String("path", journalPath), logx.Int("lines", skipped))
	}

	st := &fileStore{log: log, snapshotPath: snapPath, byID: byID, readOnly: cfg.ReadOnly}
	if cfg.ReadOnly {
		return st, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	st.journal = jf
	return st, nil
}

func (s *fileStore) Driver() string { return "file" }

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	var err error
	if s.writes > 0 {
		err = s.compactLocked()
	}
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

func (s *fileStore) PutExecution(_ context.Context, e jobs.Execution) error {
	if e.ID == "" {
		return errors.New("execution id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writableLocked(); err != nil {
		return err
	}
	if err := s.appendLocked(journalRecord{Op: "put", Exec: &e}); err != nil {
		return err
	}
	s.byID[e.ID] = e
	return nil
}

func (s *fileStore) ListExecutions(context.Context) ([]jobs.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]jobs.Execution, 0, len(s.byID))
	for _, e := range s.byID {
		out = append(out, e)
	}
	return out, nil
}

func (s *fileStore) DeleteExecutions(_ context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writableLocked(); err != nil {
		return err
	}
	if err := s.appendLocked(journalRecord{Op: "del", IDs: ids}); err != nil {
		return err
	}
	for _, id := range ids {
		delete(s.byID, id)
	}
	return nil
}

func (s *fileStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly {
		return nil
	}
	if s.journal == nil {
		return errors.New("execution journal closed")
	}
	_, err := s.journal.Stat()
	return err
}

func (s *fileStore) writableLocked() error {
	if s.readOnly {
		return ErrReadOnly
	}
	if s.journal == nil {
		return errors.New("execution journal closed")
	}
	return nil
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("execution journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	all := make([]jobs.Execution, 0, len(s.byID))
	for _, e := range s.byID {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(all); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func loadSnapshot(path string, out map[string]jobs.Execution) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var all []jobs.Execution
	if err := json.NewDecoder(f).Decode(&all); err != nil {
		return err
	}
	for _, e := range all {
		if e.ID != "" {
			out[e.ID] = e
		}
	}
	return nil
}

// replayJournal applies journal records to out and returns the number of
// lines it could not decode. A torn final line after a crash is expected.
func replayJournal(path string, out map[string]jobs.Execution) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			skipped++
			continue
		}
		switch r.Op {
		case "put":
			if r.Exec != nil && r.Exec.ID != "" {
				out[r.Exec.ID] = *r.Exec
			}
		case "del":
			for _, id := range r.IDs {
				delete(out, id)
			}
		default:
			skipped++
		}
	}
	return skipped, sc.Err()
}
