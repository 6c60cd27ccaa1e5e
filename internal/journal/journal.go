// Package journal records executor notifications into a SQLite trace
// database.
//
// The journal is telemetry, not state: it is append-only, and the executor
// never reads it back. Operators query it after the fact to reconstruct
// what the execution did and when.
package journal

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/plexec/plexec/internal/rat"
)

//go:embed schema.sql
var schemaSQL string

// Journal is an open trace database.
// Uses SQLite with WAL mode for concurrent read access while writing.
type Journal struct {
	db *sql.DB
}

// Event is one recorded notification.
type Event struct {
	Seq      int64
	SolverID string
	Type     string
	State    string
	Time     rat.Rational
	Atoms    []uint64
}

// Open creates or opens a trace database at the given path.
// Applies required pragmas and the schema automatically; idempotent.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect journal: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent notifications.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// WriteEvent appends one notification.
func (j *Journal) WriteEvent(ev Event) error {
	var atoms any
	if len(ev.Atoms) > 0 {
		data, err := json.Marshal(ev.Atoms)
		if err != nil {
			return fmt.Errorf("write event: %w", err)
		}
		atoms = string(data)
	}

	var state, timeNum, timeDen any
	if ev.State != "" {
		state = ev.State
	}
	if ev.Type == "tick" {
		timeNum, timeDen = ev.Time.Num(), ev.Time.Den()
	}

	_, err := j.db.Exec(`
		INSERT INTO events (solver_id, type, state, time_num, time_den, atoms)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.SolverID, ev.Type, state, timeNum, timeDen, atoms)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Events returns every recorded notification for a solver, in write order.
func (j *Journal) Events(solverID string) ([]Event, error) {
	rows, err := j.db.Query(`
		SELECT seq, solver_id, type, state, time_num, time_den, atoms
		FROM events WHERE solver_id = ? ORDER BY seq
	`, solverID)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev               Event
			state, atoms     sql.NullString
			timeNum, timeDen sql.NullInt64
		)
		if err := rows.Scan(&ev.Seq, &ev.SolverID, &ev.Type, &state, &timeNum, &timeDen, &atoms); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.State = state.String
		if timeNum.Valid && timeDen.Valid && timeDen.Int64 != 0 {
			ev.Time = rat.New(timeNum.Int64, timeDen.Int64)
		}
		if atoms.Valid {
			if err := json.Unmarshal([]byte(atoms.String), &ev.Atoms); err != nil {
				return nil, fmt.Errorf("decode event atoms: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountByType returns how many events of each type a solver recorded.
func (j *Journal) CountByType(solverID string) (map[string]int, error) {
	rows, err := j.db.Query(`
		SELECT type, COUNT(*) FROM events WHERE solver_id = ? GROUP BY type
	`, solverID)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}
