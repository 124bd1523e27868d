// Package journal records wake events and the conversation that followed
// them in PostgreSQL.
//
// The journal is optional. It is enabled by setting journal.postgres_dsn and
// is written after every completed interaction. Journal failures are logged
// by the caller and never interrupt detection.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the wake_events table.
const Schema = `
CREATE TABLE IF NOT EXISTS wake_events (
    id                UUID         PRIMARY KEY,
    keyword           TEXT         NOT NULL,
    span_frames       INTEGER      NOT NULL DEFAULT 0,
    verify_latency_us BIGINT       NOT NULL DEFAULT 0,
    transcript        TEXT         NOT NULL DEFAULT '',
    reply             TEXT         NOT NULL DEFAULT '',
    error             TEXT         NOT NULL DEFAULT '',
    woke_at           TIMESTAMPTZ  NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_wake_events_woke_at ON wake_events (woke_at);
`

// Entry is one journaled wake event.
type Entry struct {
	ID            uuid.UUID
	Keyword       string
	SpanFrames    int
	VerifyLatency time.Duration
	Transcript    string
	Reply         string

	// Error is the message of the step that failed, empty on success.
	Error string

	At time.Time
}

// Recorder persists entries. [*Journal] is the production implementation.
type Recorder interface {
	Record(ctx context.Context, e *Entry) error
}

// DB is the database interface used by [Journal]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Journal is a [Recorder] backed by PostgreSQL.
type Journal struct {
	db    DB
	close func()
}

var _ Recorder = (*Journal)(nil)

// New returns a journal using db. The caller runs [Journal.Migrate].
func New(db DB) *Journal {
	return &Journal{db: db}
}

// Open connects a pool to dsn, verifies it and migrates the schema.
func Open(ctx context.Context, dsn string) (*Journal, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	j := &Journal{db: pool, close: pool.Close}
	if err := j.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return j, nil
}

// Migrate creates the wake_events table if it does not exist.
func (j *Journal) Migrate(ctx context.Context) error {
	if _, err := j.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("journal: migrate: %w", err)
	}
	return nil
}

// Ping checks the connection. It backs the readiness probe.
func (j *Journal) Ping(ctx context.Context) error {
	if _, err := j.db.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("journal: ping: %w", err)
	}
	return nil
}

// Record inserts e. A zero ID is replaced by a new random UUID and a zero At
// by the current time; both are written back to e.
func (j *Journal) Record(ctx context.Context, e *Entry) error {
	if e == nil {
		return errors.New("journal: nil entry")
	}
	if e.Keyword == "" {
		return errors.New("journal: entry keyword must not be empty")
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	const query = `
		INSERT INTO wake_events (
			id, keyword, span_frames, verify_latency_us, transcript, reply, error, woke_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err := j.db.Exec(ctx, query,
		e.ID.String(), e.Keyword, e.SpanFrames, e.VerifyLatency.Microseconds(),
		e.Transcript, e.Reply, e.Error, e.At,
	)
	if err != nil {
		return fmt.Errorf("journal: record: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `
		SELECT id::text, keyword, span_frames, verify_latency_us, transcript, reply, error, woke_at
		FROM wake_events
		ORDER BY woke_at DESC
		LIMIT $1`

	rows, err := j.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			id       string
			latencyU int64
		)
		if err := rows.Scan(&id, &e.Keyword, &e.SpanFrames, &latencyU,
			&e.Transcript, &e.Reply, &e.Error, &e.At); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("journal: scan id: %w", err)
		}
		e.VerifyLatency = time.Duration(latencyU) * time.Microsecond
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	return out, nil
}

// Close releases the pool opened by [Open]. It is a no-op for journals
// created with [New].
func (j *Journal) Close() {
	if j.close != nil {
		j.close()
	}
}
