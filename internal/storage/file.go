package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "gratwin/pkg/logx"
)

// fileStore appends outcomes to <prefix>.outcomes.jsonl. Once the file holds
// more than twice the retention, it is compacted down to the newest rows.
type fileStore struct {
	log    logx.Logger
	path   string
	retain int

	mu     sync.Mutex
	f      *os.File
	lines  int
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, path: filepath.Join(dir, base) + ".outcomes.jsonl", retain: cfg.Retain}
	rows, err := s.readAll()
	if err != nil {
		return nil, err
	}
	s.lines = len(rows)

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := terminateLine(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	s.f = f
	return s, nil
}

// terminateLine appends a newline when the file ends mid-record so the next
// append starts on a fresh line.
func terminateLine(f *os.File) error {
	st, err := f.Stat()
	if err != nil || st.Size() == 0 {
		return err
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, st.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	_, err = f.Write([]byte{'\n'})
	return err
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}

func (s *fileStore) AppendOutcome(_ context.Context, o Outcome) error {
	if o.At.IsZero() {
		o.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("outcome journal closed")
	}
	if err := json.NewEncoder(s.f).Encode(o); err != nil {
		return err
	}
	s.lines++
	if s.lines > 2*s.retain {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("outcome journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Recent(ctx context.Context, q Query) ([]Outcome, error) {
	s.mu.Lock()
	rows, err := s.readAll()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]Outcome, 0, q.limit())
	for i := len(rows) - 1; i >= 0 && len(out) < q.limit(); i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if q.match(rows[i]) {
			out = append(out, rows[i])
		}
	}
	return out, nil
}

// readAll skips lines that fail to decode, such as a torn final write.
func (s *fileStore) readAll() ([]Outcome, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []Outcome
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var o Outcome
		if err := json.Unmarshal(sc.Bytes(), &o); err != nil || o.Unit == "" {
			continue
		}
		rows = append(rows, o)
	}
	return rows, sc.Err()
}

func (s *fileStore) compactLocked() error {
	rows, err := s.readAll()
	if err != nil {
		return err
	}
	if len(rows) > s.retain {
		rows = rows[len(rows)-s.retain:]
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, o := range rows {
		if err := enc.Encode(o); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := s.f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	nf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.closed = true
		return err
	}
	s.f = nf
	s.lines = len(rows)
	return nil
}
