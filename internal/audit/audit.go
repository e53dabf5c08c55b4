// Package audit persists an append-only record of every request the engine
// finishes, approved or denied. The log is a local sqlite database; a cron
// job prunes entries past the retention window.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one finished request.
type Entry struct {
	ID         string
	Tool       string
	Command    string
	Status     string // completed, denied, timed_out, spawn_failed
	Code       string // error code when the request did not complete cleanly
	ExitCode   *int
	DurationMs int64
	CreatedAt  time.Time
}

// Log is a sqlite-backed audit log. Safe for concurrent use; database/sql
// serializes access to the single writer connection.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the audit database at path.
func Open(path string, logger *slog.Logger) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open db: %w", err)
	}

	// WAL mode keeps readers from blocking the recorder.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: wal mode: %w", err)
	}

	l := &Log{db: db, logger: logger.With("component", "audit")}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return l, nil
}

func (l *Log) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id          TEXT PRIMARY KEY,
			tool        TEXT NOT NULL,
			command     TEXT NOT NULL,
			status      TEXT NOT NULL,
			code        TEXT NOT NULL DEFAULT '',
			exit_code   INTEGER,
			duration_ms INTEGER NOT NULL,
			created_at  TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_created ON executions(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_tool ON executions(tool)`,
	}
	for _, stmt := range stmts {
		if _, err := l.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record appends one entry.
func (l *Log) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var exit any
	if e.ExitCode != nil {
		exit = *e.ExitCode
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO executions(id, tool, command, status, code, exit_code, duration_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Tool, e.Command, e.Status, e.Code, exit, e.DurationMs, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: record: %w", err)
	}
	return nil
}

// Recent returns the newest entries, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, tool, command, status, code, exit_code, duration_ms, created_at
		 FROM executions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var exit sql.NullInt64
		if err := rows.Scan(&e.ID, &e.Tool, &e.Command, &e.Status, &e.Code, &exit, &e.DurationMs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		if exit.Valid {
			code := int(exit.Int64)
			e.ExitCode = &code
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries older than the retention window and reports how
// many were removed.
func (l *Log) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	res, err := l.db.ExecContext(ctx, `DELETE FROM executions WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("audit: prune count: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (l *Log) Close() error {
	return l.db.Close()
}
