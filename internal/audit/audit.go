// Package audit implements the append-only SQLite invocation log from
// SPEC_FULL.md §3/[FULL]: one row per agent invocation, queryable via
// `sprinty metrics --history` but never read back to make control-flow
// decisions. Grounded on the teacher's pkg/persistence/db.go connection
// setup (WAL mode, single-writer pool) and schema.go's idempotent
// create-if-missing migration style.
package audit

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS invocations (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	loop_number     INTEGER NOT NULL,
	role            TEXT NOT NULL,
	phase           TEXT NOT NULL,
	sprint_id       INTEGER NOT NULL,
	classification  TEXT NOT NULL,
	attempt         INTEGER NOT NULL,
	duration_ms     INTEGER NOT NULL,
	exit_code       INTEGER NOT NULL,
	started_at      TEXT NOT NULL,
	ended_at        TEXT NOT NULL
);
`

// Row is one recorded invocation.
type Row struct {
	LoopNumber     int
	Role           string
	Phase          string
	SprintID       int
	Classification string
	Attempt        int
	DurationMS     int64
	ExitCode       int
	StartedAt      string
	EndedAt        string
}

// Log wraps a single-writer SQLite connection to audit.db.
type Log struct {
	db *sql.DB
}

// Open opens (creating if absent) the audit database at path in WAL mode
// with a single-connection pool, matching the teacher's SQLite-is-a-
// single-writer discipline.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: ping %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Close closes the underlying connection.
func (l *Log) Close() error {
	return l.db.Close()
}

// Append inserts one invocation row.
func (l *Log) Append(ctx context.Context, r Row) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO invocations
			(loop_number, role, phase, sprint_id, classification, attempt, duration_ms, exit_code, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.LoopNumber, r.Role, r.Phase, r.SprintID, r.Classification, r.Attempt, r.DurationMS, r.ExitCode, r.StartedAt, r.EndedAt)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// RecentHistory returns the last n rows, most recent first, for the
// `sprinty metrics --history N` CLI surface.
func (l *Log) RecentHistory(ctx context.Context, n int) ([]Row, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT loop_number, role, phase, sprint_id, classification, attempt, duration_ms, exit_code, started_at, ended_at
		FROM invocations
		ORDER BY id DESC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("audit: query history: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.LoopNumber, &r.Role, &r.Phase, &r.SprintID, &r.Classification,
			&r.Attempt, &r.DurationMS, &r.ExitCode, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("audit: scan row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate rows: %w", err)
	}
	return out, nil
}

// Count returns the total number of recorded invocations.
func (l *Log) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM invocations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("audit: count: %w", err)
	}
	return n, nil
}
