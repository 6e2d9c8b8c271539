// Package store persists cached task statistics in sqlite.
//
// DESIGN: Two tables, mirroring the cache's two kinds:
//   - task_statistics: one row per user (user_id is the primary key)
//   - system_summary:  a single global row
//
// A refresh is a single INSERT ... ON CONFLICT DO UPDATE statement, so the
// per-key replace is atomic at the storage level. Rows are never deleted;
// staleness is the cache's concern, enforced at read time.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// TaskCounters is one snapshot of per-user task counts, as reported by the
// task service.
type TaskCounters struct {
	TotalTasks        int `json:"total_tasks"`
	CompletedTasks    int `json:"completed_tasks"`
	PendingTasks      int `json:"pending_tasks"`
	InProgressTasks   int `json:"in_progress_tasks"`
	CancelledTasks    int `json:"cancelled_tasks"`
	UrgentTasks       int `json:"urgent_tasks"`
	HighPriorityTasks int `json:"high_priority_tasks"`
	OverdueTasks      int `json:"overdue_tasks"`
}

// UserStats is a cached per-user counters row.
type UserStats struct {
	UserID string `json:"user_id"`
	TaskCounters
	RefreshedAt time.Time `json:"refreshed_at"`
}

// SystemSummary is the cached global summary row.
//
// TotalUsers is preserved in the schema but always written as 0: the user
// service exposes no counting endpoint yet.
type SystemSummary struct {
	TotalUsers     int       `json:"total_users"`
	TotalTasks     int       `json:"total_tasks"`
	CompletedTasks int       `json:"completed_tasks"`
	ActiveTasks    int       `json:"active_tasks"`
	RefreshedAt    time.Time `json:"refreshed_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS task_statistics (
	user_id             TEXT PRIMARY KEY,
	total_tasks         INTEGER NOT NULL DEFAULT 0,
	completed_tasks     INTEGER NOT NULL DEFAULT 0,
	pending_tasks       INTEGER NOT NULL DEFAULT 0,
	in_progress_tasks   INTEGER NOT NULL DEFAULT 0,
	cancelled_tasks     INTEGER NOT NULL DEFAULT 0,
	urgent_tasks        INTEGER NOT NULL DEFAULT 0,
	high_priority_tasks INTEGER NOT NULL DEFAULT 0,
	overdue_tasks       INTEGER NOT NULL DEFAULT 0,
	refreshed_at        TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS system_summary (
	id              INTEGER PRIMARY KEY CHECK (id = 1),
	total_users     INTEGER NOT NULL DEFAULT 0,
	total_tasks     INTEGER NOT NULL DEFAULT 0,
	completed_tasks INTEGER NOT NULL DEFAULT 0,
	active_tasks    INTEGER NOT NULL DEFAULT 0,
	refreshed_at    TIMESTAMP NOT NULL
);
`

// Store wraps the sqlite database backing the stats cache.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite allows one writer; serializing through a single connection
	// avoids SQLITE_BUSY under concurrent refreshes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database is reachable and writable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UserStats returns the current row for userID, or nil if none exists.
func (s *Store) UserStats(ctx context.Context, userID string) (*UserStats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, total_tasks, completed_tasks, pending_tasks,
		       in_progress_tasks, cancelled_tasks, urgent_tasks,
		       high_priority_tasks, overdue_tasks, refreshed_at
		FROM task_statistics WHERE user_id = ?`, userID)

	var st UserStats
	err := row.Scan(&st.UserID, &st.TotalTasks, &st.CompletedTasks,
		&st.PendingTasks, &st.InProgressTasks, &st.CancelledTasks,
		&st.UrgentTasks, &st.HighPriorityTasks, &st.OverdueTasks,
		&st.RefreshedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read user stats: %w", err)
	}
	return &st, nil
}

// UpsertUserStats replaces the row for userID in place.
func (s *Store) UpsertUserStats(ctx context.Context, userID string, c TaskCounters, refreshedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_statistics
			(user_id, total_tasks, completed_tasks, pending_tasks,
			 in_progress_tasks, cancelled_tasks, urgent_tasks,
			 high_priority_tasks, overdue_tasks, refreshed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			total_tasks         = excluded.total_tasks,
			completed_tasks     = excluded.completed_tasks,
			pending_tasks       = excluded.pending_tasks,
			in_progress_tasks   = excluded.in_progress_tasks,
			cancelled_tasks     = excluded.cancelled_tasks,
			urgent_tasks        = excluded.urgent_tasks,
			high_priority_tasks = excluded.high_priority_tasks,
			overdue_tasks       = excluded.overdue_tasks,
			refreshed_at        = excluded.refreshed_at`,
		userID, c.TotalTasks, c.CompletedTasks, c.PendingTasks,
		c.InProgressTasks, c.CancelledTasks, c.UrgentTasks,
		c.HighPriorityTasks, c.OverdueTasks, refreshedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert user stats: %w", err)
	}
	return nil
}

// SystemSummary returns the global summary row, or nil if none exists.
func (s *Store) SystemSummary(ctx context.Context) (*SystemSummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT total_users, total_tasks, completed_tasks, active_tasks, refreshed_at
		FROM system_summary WHERE id = 1`)

	var sum SystemSummary
	err := row.Scan(&sum.TotalUsers, &sum.TotalTasks, &sum.CompletedTasks,
		&sum.ActiveTasks, &sum.RefreshedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read system summary: %w", err)
	}
	return &sum, nil
}

// UpsertSystemSummary replaces the global summary row in place.
func (s *Store) UpsertSystemSummary(ctx context.Context, sum SystemSummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_summary
			(id, total_users, total_tasks, completed_tasks, active_tasks, refreshed_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_users     = excluded.total_users,
			total_tasks     = excluded.total_tasks,
			completed_tasks = excluded.completed_tasks,
			active_tasks    = excluded.active_tasks,
			refreshed_at    = excluded.refreshed_at`,
		sum.TotalUsers, sum.TotalTasks, sum.CompletedTasks,
		sum.ActiveTasks, sum.RefreshedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert system summary: %w", err)
	}
	return nil
}
