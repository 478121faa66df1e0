package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrRunNotFound is returned by GetRun for an unknown ID.
var ErrRunNotFound = errors.New("ledger: run not found")

// Run is one row of the runs table.
type Run struct {
	ID           string    `json:"id"`
	DryRun       bool      `json:"dry_run"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	State        string    `json:"state"`
	ExitCode     int       `json:"exit_code"`
	FatalKind    string    `json:"fatal_kind,omitempty"`
	Fatal        string    `json:"fatal,omitempty"`
	Created      int       `json:"created"`
	Updated      int       `json:"updated"`
	Skipped      int       `json:"skipped"`
	Failed       int       `json:"failed"`
	Cancelled    int       `json:"cancelled"`
	WarningCount int       `json:"warning_count"`
}

// Result is the stored outcome of one node.
type Result struct {
	Level     string `json:"level"`
	Path      string `json:"path"`
	Source    string `json:"source,omitempty"`
	Action    string `json:"action"`
	RemoteID  int    `json:"remote_id,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Warning is a stored run warning.
type Warning struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Record is a run with its details.
type Record struct {
	Run
	Results  []Result  `json:"results"`
	Warnings []Warning `json:"warnings"`
}

// SaveRun inserts a run with its results and warnings in one transaction.
// Saving the same ID twice replaces the earlier record.
func (db *DB) SaveRun(rec Record) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	r := rec.Run
	if _, err := tx.Exec(`DELETE FROM runs WHERE id = ?`, r.ID); err != nil {
		return fmt.Errorf("ledger: replace run: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO runs (id, dry_run, started_at, finished_at, state, exit_code, fatal_kind, fatal,
			created, updated, skipped, failed, cancelled, warnings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.DryRun, r.StartedAt.UTC(), r.FinishedAt.UTC(), r.State, r.ExitCode, r.FatalKind, r.Fatal,
		r.Created, r.Updated, r.Skipped, r.Failed, r.Cancelled, len(rec.Warnings))
	if err != nil {
		return fmt.Errorf("ledger: insert run: %w", err)
	}

	if len(rec.Results) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO results (run_id, level, path, source, action, remote_id, error_kind, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("ledger: prepare result insert: %w", err)
		}
		defer stmt.Close()
		for _, res := range rec.Results {
			if _, err := stmt.Exec(r.ID, res.Level, res.Path, res.Source, res.Action, res.RemoteID, res.ErrorKind, res.Error); err != nil {
				return fmt.Errorf("ledger: insert result: %w", err)
			}
		}
	}

	if len(rec.Warnings) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO warnings (run_id, kind, message) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("ledger: prepare warning insert: %w", err)
		}
		defer stmt.Close()
		for _, w := range rec.Warnings {
			if _, err := stmt.Exec(r.ID, w.Kind, w.Message); err != nil {
				return fmt.Errorf("ledger: insert warning: %w", err)
			}
		}
	}

	return tx.Commit()
}

const runColumns = `id, dry_run, started_at, finished_at, state, exit_code, fatal_kind, fatal,
	created, updated, skipped, failed, cancelled, warnings`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var r Run
	err := s.Scan(&r.ID, &r.DryRun, &r.StartedAt, &r.FinishedAt, &r.State, &r.ExitCode, &r.FatalKind, &r.Fatal,
		&r.Created, &r.Updated, &r.Skipped, &r.Failed, &r.Cancelled, &r.WarningCount)
	return r, err
}

// ListRuns returns runs, newest first, and the total count.
func (db *DB) ListRuns(limit, offset int) ([]Run, int, error) {
	if limit <= 0 {
		limit = 20
	}
	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ledger: count runs: %w", err)
	}

	rows, err := db.conn.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ledger: list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ledger: scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// GetRun returns a run with its results and warnings.
func (db *DB) GetRun(id string) (*Record, error) {
	r, err := scanRun(db.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get run: %w", err)
	}
	rec := &Record{Run: r}

	rows, err := db.conn.Query(`SELECT level, path, source, action, remote_id, error_kind, error
		FROM results WHERE run_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("ledger: get results: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var res Result
		if err := rows.Scan(&res.Level, &res.Path, &res.Source, &res.Action, &res.RemoteID, &res.ErrorKind, &res.Error); err != nil {
			return nil, fmt.Errorf("ledger: scan result: %w", err)
		}
		rec.Results = append(rec.Results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	wrows, err := db.conn.Query(`SELECT kind, message FROM warnings WHERE run_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("ledger: get warnings: %w", err)
	}
	defer wrows.Close()
	for wrows.Next() {
		var w Warning
		if err := wrows.Scan(&w.Kind, &w.Message); err != nil {
			return nil, fmt.Errorf("ledger: scan warning: %w", err)
		}
		rec.Warnings = append(rec.Warnings, w)
	}
	return rec, wrows.Err()
}
