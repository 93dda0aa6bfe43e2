package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "gratwin/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS outcomes (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	at     TEXT    NOT NULL,
	run_id TEXT    NOT NULL,
	unit   TEXT    NOT NULL,
	event  TEXT    NOT NULL,
	state  TEXT    NOT NULL,
	reason TEXT,
	tries  INTEGER NOT NULL DEFAULT 0,
	resets INTEGER NOT NULL DEFAULT 0,
	err    TEXT
);
CREATE INDEX IF NOT EXISTS outcomes_unit ON outcomes(unit, id);
CREATE INDEX IF NOT EXISTS outcomes_run ON outcomes(run_id, id);
`

type sqliteStore struct {
	db     *sql.DB
	log    logx.Logger
	retain int

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// One writer; the loop and history reads never need more.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log, retain: cfg.Retain, pruneEvery: 500}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendOutcome(ctx context.Context, o Outcome) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if o.At.IsZero() {
		o.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outcomes(at, run_id, unit, event, state, reason, tries, resets, err)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		o.At.UTC().Format(time.RFC3339Nano), o.RunID, o.Unit, o.Event, o.State,
		nullStr(o.Reason), o.Tries, o.Resets, nullStr(o.Error),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		if perr := s.prune(pctx); perr != nil {
			s.log.Debug("outcome prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) Recent(ctx context.Context, q Query) ([]Outcome, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, run_id, unit, event, state, reason, tries, resets, err
		 FROM outcomes
		 WHERE (? = '' OR unit = ?) AND (? = '' OR run_id = ?)
		 ORDER BY id DESC LIMIT ?`,
		q.Unit, q.Unit, q.RunID, q.RunID, q.limit(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var (
			o           Outcome
			at          string
			reason, msg sql.NullString
		)
		if err := rows.Scan(&at, &o.RunID, &o.Unit, &o.Event, &o.State, &reason, &o.Tries, &o.Resets, &msg); err != nil {
			return nil, err
		}
		o.At, _ = time.Parse(time.RFC3339Nano, at)
		o.Reason = reason.String
		o.Error = msg.String
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM outcomes WHERE id <= (SELECT MAX(id) FROM outcomes) - ?`, s.retain)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
