// Package sqlite persists run snapshots and audit entries in a SQLite
// database, suitable for single-node deployments that must survive
// restarts.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/runweave/runweave/internal/run"
)

// Store backs run.Store and run.StepLogStore with SQLite. Snapshots are
// stored as JSON documents keyed by run id; audit entries are append-only
// rows.
type Store struct {
	db *sql.DB
}

var (
	_ run.Store        = (*Store)(nil)
	_ run.StepLogStore = (*Store)(nil)
)

// Open opens (or creates) the database at path and applies migrations.
// Use ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY churn under concurrent snapshot writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL DEFAULT '',
	mode       TEXT NOT NULL,
	status     TEXT NOT NULL,
	state      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS step_logs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	step_id       TEXT NOT NULL,
	tool          TEXT NOT NULL,
	status        TEXT NOT NULL,
	error_code    TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	request       TEXT,
	result        TEXT,
	started_at    TIMESTAMP NOT NULL,
	finished_at   TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_step_logs_run ON step_logs(run_id);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Save implements run.Store with an upsert per snapshot.
func (s *Store) Save(state run.State) error {
	if state.Ctx.RunID == "" {
		return fmt.Errorf("sqlite: run id is empty")
	}

	doc, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("sqlite: encode run %s: %w", state.Ctx.RunID, err)
	}

	_, err = s.db.Exec(`
INSERT INTO runs (run_id, user_id, mode, status, state, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
	status = excluded.status,
	state = excluded.state,
	updated_at = excluded.updated_at`,
		state.Ctx.RunID, state.Ctx.UserID, string(state.Mode), string(state.Status), string(doc), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sqlite: save run %s: %w", state.Ctx.RunID, err)
	}
	return nil
}

// Get implements run.Store.
func (s *Store) Get(runID string) (run.State, error) {
	var doc string
	err := s.db.QueryRow(`SELECT state FROM runs WHERE run_id = ?`, runID).Scan(&doc)
	if err == sql.ErrNoRows {
		return run.State{}, fmt.Errorf("sqlite: %q: %w", runID, run.ErrNotFound)
	}
	if err != nil {
		return run.State{}, fmt.Errorf("sqlite: get run %s: %w", runID, err)
	}

	var state run.State
	if err := json.Unmarshal([]byte(doc), &state); err != nil {
		return run.State{}, fmt.Errorf("sqlite: decode run %s: %w", runID, err)
	}
	return state, nil
}

// List implements run.Store, ordered by run id.
func (s *Store) List() ([]run.State, error) {
	rows, err := s.db.Query(`SELECT state FROM runs ORDER BY run_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list runs: %w", err)
	}
	defer rows.Close()

	var states []run.State
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("sqlite: scan run: %w", err)
		}
		var state run.State
		if err := json.Unmarshal([]byte(doc), &state); err != nil {
			return nil, fmt.Errorf("sqlite: decode run: %w", err)
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// Append implements run.StepLogStore.
func (s *Store) Append(entry run.StepLogEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("sqlite: audit entry has no run id")
	}

	request, err := encodeNullable(entry.Request)
	if err != nil {
		return fmt.Errorf("sqlite: encode request for %s/%s: %w", entry.RunID, entry.StepID, err)
	}
	result, err := encodeNullable(entry.Result)
	if err != nil {
		return fmt.Errorf("sqlite: encode result for %s/%s: %w", entry.RunID, entry.StepID, err)
	}

	var finished any
	if !entry.FinishedAt.IsZero() {
		finished = entry.FinishedAt.UTC()
	}

	_, err = s.db.Exec(`
INSERT INTO step_logs (run_id, step_id, tool, status, error_code, error_message, request, result, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID, entry.StepID, entry.Tool, string(entry.Status),
		entry.ErrorCode, entry.ErrorMessage, request, result,
		entry.StartedAt.UTC(), finished)
	if err != nil {
		return fmt.Errorf("sqlite: append audit entry for %s/%s: %w", entry.RunID, entry.StepID, err)
	}
	return nil
}

// ListByRun implements run.StepLogStore in insertion order.
func (s *Store) ListByRun(runID string) ([]run.StepLogEntry, error) {
	rows, err := s.db.Query(`
SELECT step_id, tool, status, error_code, error_message, request, result, started_at, finished_at
FROM step_logs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries for %s: %w", runID, err)
	}
	defer rows.Close()

	var entries []run.StepLogEntry
	for rows.Next() {
		entry := run.StepLogEntry{RunID: runID}
		var status string
		var request, result sql.NullString
		var finished sql.NullTime
		if err := rows.Scan(&entry.StepID, &entry.Tool, &status, &entry.ErrorCode, &entry.ErrorMessage,
			&request, &result, &entry.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		entry.Status = run.StepLogStatus(status)
		if request.Valid {
			entry.Request = decodeNullable(request.String)
		}
		if result.Valid {
			entry.Result = decodeNullable(result.String)
		}
		if finished.Valid {
			entry.FinishedAt = finished.Time
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func encodeNullable(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	doc, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(doc), nil
}

func decodeNullable(doc string) any {
	var v any
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		return doc
	}
	return v
}
