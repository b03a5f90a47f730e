package audit

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunRecord is one persisted run.
type RunRecord struct {
	ID          string
	Status      string
	Message     string
	StartedAt   time.Time
	CompletedAt sql.NullTime
}

// EventRecord is one persisted audit event.
type EventRecord struct {
	ID           int64
	RunID        string
	Type         string
	OperationRef string
	Status       string
	Inputs       string
	Outputs      string
	Message      string
	CreatedAt    time.Time
}

// Store persists runs and audit events in SQLite. It implements Logger;
// insert failures are swallowed after being counted, since auditing must not
// fail the run.
type Store struct {
	db      *sql.DB
	path    string
	dropped atomic.Int64
}

// NewStore creates a store for the given database path. Call Init before use.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &Store{path: path}, nil
}

// Init opens the database, enables WAL mode, and runs migrations.
func (s *Store) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", s.path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	s.db = db

	if err := s.migrate(); err != nil {
		_ = db.Close()
		return err
	}
	return nil
}

func (s *Store) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// StartRun records the beginning of a run.
func (s *Store) StartRun(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, message, started_at) VALUES (?, ?, '', ?)`,
		runID, "running", time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// FinishRun records a run's final status and message.
func (s *Store) FinishRun(ctx context.Context, runID, status, message string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, message = ?, completed_at = ? WHERE id = ?`,
		status, message, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// GetRun retrieves a run record.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, message, started_at, completed_at FROM runs WHERE id = ?`, runID)
	rec := &RunRecord{}
	err := row.Scan(&rec.ID, &rec.Status, &rec.Message, &rec.StartedAt, &rec.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return rec, nil
}

// LogEvent implements Logger.
func (s *Store) LogEvent(e Event) {
	e = Now(e)
	inputs := marshalFields(e.Inputs)
	outputs := marshalFields(e.Outputs)
	_, err := s.db.Exec(
		`INSERT INTO events (run_id, event_type, operation_ref, status, inputs, outputs, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Type, e.OperationRef, e.Status, inputs, outputs, e.Message, e.At)
	if err != nil {
		s.dropped.Add(1)
	}
}

// Dropped returns how many events failed to persist.
func (s *Store) Dropped() int64 { return s.dropped.Load() }

// Events returns all events for a run in insertion order.
func (s *Store) Events(ctx context.Context, runID string) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, event_type, operation_ref, status, inputs, outputs, message, created_at
		 FROM events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var rec EventRecord
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Type, &rec.OperationRef, &rec.Status,
			&rec.Inputs, &rec.Outputs, &rec.Message, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func marshalFields(fields map[string]any) string {
	if len(fields) == 0 {
		return "{}"
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "{}"
	}
	return string(data)
}
