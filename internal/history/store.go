// Package history persists completed runs in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ChuLiYu/pacemaker/pkg/types"

	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("run not found")

const timeLayout = time.RFC3339Nano

// Store is the run history. Runs are listed newest first.
type Store struct {
	db *sql.DB
}

// Summary aggregates the whole history.
type Summary struct {
	Runs            int     `json:"runs"`
	GoalsCompleted  int     `json:"goals_completed"`
	TotalDistanceKm float64 `json:"total_distance_km"`
	TotalSeconds    int64   `json:"total_seconds"`
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection serializes writers
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS runs (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  date TEXT NOT NULL,
  target_distance_km REAL NOT NULL,
  target_time_minutes REAL NOT NULL,
  actual_distance_km REAL NOT NULL,
  actual_time_seconds INTEGER NOT NULL,
  average_pace REAL,
  completed_goal INTEGER NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append records a completed run.
func (s *Store) Append(ctx context.Context, run types.CompletedRun) error {
	const stmt = `
INSERT INTO runs (id, date, target_distance_km, target_time_minutes, actual_distance_km, actual_time_seconds, average_pace, completed_goal)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`
	var pace sql.NullFloat64
	if run.AveragePace.Valid {
		pace = sql.NullFloat64{Float64: run.AveragePace.MinPerKm, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, stmt,
		run.ID,
		run.Date.UTC().Format(timeLayout),
		run.TargetDistanceKm,
		run.TargetTimeMinutes,
		run.ActualDistanceKm,
		run.ActualTimeSeconds,
		pace,
		run.CompletedGoal,
	)
	if err != nil {
		return fmt.Errorf("append run %s: %w", run.ID, err)
	}
	return nil
}

// List returns every run, newest first.
func (s *Store) List(ctx context.Context) ([]types.CompletedRun, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, date, target_distance_km, target_time_minutes, actual_distance_km, actual_time_seconds, average_pace, completed_goal
FROM runs ORDER BY seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []types.CompletedRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// Get returns one run.
func (s *Store) Get(ctx context.Context, id string) (types.CompletedRun, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, date, target_distance_km, target_time_minutes, actual_distance_km, actual_time_seconds, average_pace, completed_goal
FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.CompletedRun{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// Remove deletes one run.
func (s *Store) Remove(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// ClearAll deletes every run.
func (s *Store) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs`); err != nil {
		return fmt.Errorf("clear runs: %w", err)
	}
	return nil
}

// Summary totals the history.
func (s *Store) Summary(ctx context.Context) (Summary, error) {
	var sum Summary
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(completed_goal), 0), COALESCE(SUM(actual_distance_km), 0), COALESCE(SUM(actual_time_seconds), 0)
FROM runs`).Scan(&sum.Runs, &sum.GoalsCompleted, &sum.TotalDistanceKm, &sum.TotalSeconds)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize runs: %w", err)
	}
	return sum, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (types.CompletedRun, error) {
	var (
		run  types.CompletedRun
		date string
		pace sql.NullFloat64
	)
	err := row.Scan(
		&run.ID,
		&date,
		&run.TargetDistanceKm,
		&run.TargetTimeMinutes,
		&run.ActualDistanceKm,
		&run.ActualTimeSeconds,
		&pace,
		&run.CompletedGoal,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, err
		}
		return run, fmt.Errorf("scan run: %w", err)
	}

	run.Date, err = time.Parse(timeLayout, date)
	if err != nil {
		return run, fmt.Errorf("parse run date %q: %w", date, err)
	}
	if pace.Valid {
		run.AveragePace = types.Pace{MinPerKm: pace.Float64, Valid: true}
	}
	return run, nil
}
