package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/toolhub/internal/rpc"
	"github.com/ashureev/toolhub/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	maxRetries = 3
	baseDelay  = 100 * time.Millisecond
)

// SQLiteJournal implements Journal using SQLite.
type SQLiteJournal struct {
	db      *sql.DB
	writeMu sync.Mutex // Serializes writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed journal.
func NewSQLite(dbPath string) (*SQLiteJournal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	j := &SQLiteJournal{db: db}
	if err := j.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return j, nil
}

func (j *SQLiteJournal) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS tool_calls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		toolset TEXT NOT NULL,
		tool TEXT NOT NULL,
		session_id TEXT NOT NULL,
		remote_ip TEXT,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		success INTEGER NOT NULL,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_toolset ON tool_calls(toolset, started_at);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_started ON tool_calls(started_at);
	`
	if _, err := j.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (j *SQLiteJournal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// Record stores one completed call.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (j *SQLiteJournal) Record(ctx context.Context, rec rpc.CallRecord) error {
	return withRetry(ctx, "record tool call", func() error {
		return j.recordOnce(ctx, rec)
	})
}

func (j *SQLiteJournal) recordOnce(ctx context.Context, rec rpc.CallRecord) error {
	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	query := `
	INSERT INTO tool_calls (toolset, tool, session_id, remote_ip, started_at, duration_ms, success, error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	var remoteIP, errMsg interface{}
	if rec.RemoteIP != "" {
		remoteIP = rec.RemoteIP
	}
	if rec.Error != "" {
		errMsg = rec.Error
	}

	_, err := j.db.ExecContext(ctx, query,
		rec.Toolset, rec.Tool, rec.SessionID, remoteIP,
		rec.StartedAt.UnixMilli(), rec.Duration.Milliseconds(), boolToInt(rec.Success), errMsg,
	)
	if err != nil {
		return fmt.Errorf("insert tool call: %w", err)
	}
	return nil
}

// Recent returns up to limit calls, newest first.
func (j *SQLiteJournal) Recent(ctx context.Context, toolset string, limit int) ([]CallEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, toolset, tool, session_id, remote_ip, started_at, duration_ms, success, error
		FROM tool_calls
		WHERE (? = '' OR toolset = ?)
		ORDER BY started_at DESC, id DESC
		LIMIT ?`

	rows, err := j.db.QueryContext(ctx, query, toolset, toolset, limit)
	if err != nil {
		return nil, fmt.Errorf("query tool calls: %w", err)
	}
	defer rows.Close()

	var entries []CallEntry
	for rows.Next() {
		var e CallEntry
		var remoteIP, errMsg sql.NullString
		var startedAt int64
		var success int
		if err := rows.Scan(&e.ID, &e.Toolset, &e.Tool, &e.SessionID, &remoteIP, &startedAt, &e.DurationMs, &success, &errMsg); err != nil {
			return nil, fmt.Errorf("scan tool call row: %w", err)
		}
		e.RemoteIP = remoteIP.String
		e.Error = errMsg.String
		e.StartedAt = time.UnixMilli(startedAt)
		e.Success = success == 1
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tool calls: %w", err)
	}
	return entries, nil
}

// Count returns the number of journaled calls of a tool-set.
func (j *SQLiteJournal) Count(ctx context.Context, toolset string) (int64, error) {
	var n int64
	err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tool_calls WHERE (? = '' OR toolset = ?)`, toolset, toolset).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tool calls: %w", err)
	}
	return n, nil
}

// PruneBefore removes calls started before cutoff.
func (j *SQLiteJournal) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := withRetry(ctx, "prune tool calls", func() error {
		j.writeMu.Lock()
		defer j.writeMu.Unlock()

		result, err := j.db.ExecContext(ctx, `DELETE FROM tool_calls WHERE started_at < ?`, cutoff.UnixMilli())
		if err != nil {
			return fmt.Errorf("delete tool calls: %w", err)
		}
		removed, err = result.RowsAffected()
		return err
	})
	return removed, err
}

// Close closes the database connection.
func (j *SQLiteJournal) Close() error {
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// withRetry retries op on SQLite busy/locked errors with exponential backoff.
func withRetry(ctx context.Context, what string, op func() error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = op()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i) // exponential backoff: 100ms, 200ms, 400ms
		slog.Debug("SQLite write failed with SQLITE_BUSY, retrying", "op", what, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
