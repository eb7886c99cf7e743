// Package telemetry persists command execution records to a local
// SQLite database for later inspection.
package telemetry

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/droidshell/adb-shell-mcp/internal/session"
)

// Event is one recorded command execution.
type Event struct {
	ID        int64     `json:"id"`
	Time      time.Time `json:"time"`
	SessionID string    `json:"session_id"`
	Serial    string    `json:"device_serial"`
	Command   string    `json:"command"`
	Status    string    `json:"status"`
	ElapsedMS int64     `json:"elapsed_ms"`
}

// Store records command events. It implements session.Recorder.
type Store struct {
	db     *sql.DB
	insert *sql.Stmt
	path   string
}

// Open creates or opens the telemetry database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create telemetry dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry db: %w", err)
	}

	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := prepareSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	insert, err := db.Prepare(
		`INSERT INTO command_events (ts, session_id, device_serial, command, status, elapsed_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare telemetry insert: %w", err)
	}

	return &Store{db: db, insert: insert, path: path}, nil
}

func configure(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("telemetry pragma %s: %w", pragma, err)
		}
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY churn entirely.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

func prepareSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS command_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			session_id TEXT NOT NULL,
			device_serial TEXT NOT NULL,
			command TEXT NOT NULL,
			status TEXT NOT NULL,
			elapsed_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_command_events_session ON command_events(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_command_events_ts ON command_events(ts);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init telemetry schema: %w", err)
		}
	}
	return nil
}

// RecordCommand stores one command execution. Failures are logged, not
// returned: telemetry must never fail a command.
func (s *Store) RecordCommand(sessionID, serial, command string, status session.Status, elapsed time.Duration) {
	_, err := s.insert.Exec(
		time.Now().Unix(),
		sessionID,
		serial,
		command,
		string(status),
		elapsed.Milliseconds(),
	)
	if err != nil {
		slog.Warn("telemetry write failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}

// Recent returns the most recent events, newest first.
func (s *Store) Recent(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, ts, session_id, device_serial, command, status, elapsed_ms
		 FROM command_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query telemetry events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var ts int64
		if err := rows.Scan(&e.ID, &ts, &e.SessionID, &e.Serial, &e.Command, &e.Status, &e.ElapsedMS); err != nil {
			return nil, fmt.Errorf("scan telemetry event: %w", err)
		}
		e.Time = time.Unix(ts, 0)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	if s.insert != nil {
		s.insert.Close()
	}
	return s.db.Close()
}

// Ensure Store implements session.Recorder.
var _ session.Recorder = (*Store)(nil)
