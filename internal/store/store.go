// Package store keeps a SQLite history of harness runs.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"lab-harness/internal/report"
)

type Store struct {
	db *sql.DB
}

type RunRow struct {
	ID           string    `json:"id"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	ModeSelector string    `json:"mode_selector"`
	Host         string    `json:"host"`
	ExitCode     int       `json:"exit_code"`
}

type ModeResultRow struct {
	RunID      string        `json:"run_id"`
	Mode       string        `json:"mode"`
	Title      string        `json:"title"`
	Port       int           `json:"port"`
	Passed     bool          `json:"passed"`
	SuccessCnt int           `json:"success_cnt"`
	ErrorCnt   int           `json:"error_cnt"`
	TimeoutCnt int           `json:"timeout_cnt"`
	TotalCnt   int           `json:"total_cnt"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	mode_selector TEXT NOT NULL DEFAULT '',
	host TEXT NOT NULL DEFAULT '',
	exit_code INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS mode_results (
	run_id TEXT NOT NULL REFERENCES runs(id),
	mode TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	port INTEGER NOT NULL DEFAULT 0,
	passed INTEGER NOT NULL,
	success_cnt INTEGER NOT NULL DEFAULT 0,
	error_cnt INTEGER NOT NULL DEFAULT 0,
	timeout_cnt INTEGER NOT NULL DEFAULT 0,
	total_cnt INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_mode_results_run ON mode_results(run_id);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema init: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// RecordRun stores a finished run and its per-mode verdicts in one
// transaction.
func (s *Store) RecordRun(sum *report.Summary, exitCode int) error {
	if sum == nil || sum.RunID == "" {
		return errors.New("record run: summary has no run id")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO runs (id, started_at, finished_at, mode_selector, host, exit_code) VALUES (?, ?, ?, ?, ?, ?)`,
		sum.RunID, sum.Started.UTC().Format(time.RFC3339Nano), sum.Finished.UTC().Format(time.RFC3339Nano),
		sum.Selector, sum.Host, exitCode,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, v := range sum.Verdicts {
		var errText string
		if v.Err != nil {
			errText = v.Err.Error()
		}
		_, err := tx.Exec(
			`INSERT INTO mode_results
				(run_id, mode, title, port, passed, success_cnt, error_cnt, timeout_cnt, total_cnt, duration_ms, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sum.RunID, v.Mode, v.Title, v.Port, v.Passed,
			v.Result.SuccessCnt, v.Result.ErrorCnt, v.Result.TimeoutCnt, v.Result.TotalCnt,
			v.Duration.Milliseconds(), errText,
		)
		if err != nil {
			return fmt.Errorf("insert mode result %s: %w", v.Mode, err)
		}
	}
	return tx.Commit()
}

// ListRuns returns the most recent runs first. limit <= 0 means all.
func (s *Store) ListRuns(limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT id, started_at, finished_at, mode_selector, host, exit_code
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []RunRow
	for rows.Next() {
		var r RunRow
		var started, finished string
		if err := rows.Scan(&r.ID, &started, &finished, &r.ModeSelector, &r.Host, &r.ExitCode); err != nil {
			return nil, err
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("run %s: %w", r.ID, err)
		}
		if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("run %s: %w", r.ID, err)
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

// ModeResults returns the verdicts of one run in the order they were
// recorded.
func (s *Store) ModeResults(runID string) ([]ModeResultRow, error) {
	rows, err := s.db.Query(
		`SELECT run_id, mode, title, port, passed, success_cnt, error_cnt, timeout_cnt, total_cnt, duration_ms, error
		 FROM mode_results WHERE run_id = ? ORDER BY rowid`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []ModeResultRow
	for rows.Next() {
		var m ModeResultRow
		var durMs int64
		if err := rows.Scan(&m.RunID, &m.Mode, &m.Title, &m.Port, &m.Passed,
			&m.SuccessCnt, &m.ErrorCnt, &m.TimeoutCnt, &m.TotalCnt, &durMs, &m.Error); err != nil {
			return nil, err
		}
		m.Duration = time.Duration(durMs) * time.Millisecond
		list = append(list, m)
	}
	return list, rows.Err()
}
