package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS session_events (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	action TEXT NOT NULL,
	severity TEXT NOT NULL,
	owner TEXT NOT NULL DEFAULT '',
	detail JSONB,
	ip_address TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events(session_id, created_at);
`

// PostgresStore keeps events in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects a pool, verifies it, and initializes the schema.
func OpenPostgres(ctx context.Context, opts Options) (*PostgresStore, error) {
	if opts.PostgresURL == "" {
		return nil, fmt.Errorf("postgres history: DATABASE_URL is required")
	}

	poolConfig, err := pgxpool.ParseConfig(opts.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = int32(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		poolConfig.MinConns = int32(opts.MinConns)
	}
	if opts.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = opts.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if u, err := url.Parse(opts.PostgresURL); err == nil {
		slog.Info("history connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}
	return &PostgresStore{pool: pool}, nil
}

// Record appends an event.
func (s *PostgresStore) Record(ctx context.Context, e Event) error {
	e = prepare(e)

	var detail []byte
	if len(e.Detail) > 0 {
		b, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("encode detail: %w", err)
		}
		detail = b
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO session_events (id, session_id, action, severity, owner, detail, ip_address, user_agent, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.SessionID, string(e.Action), string(e.Severity), e.Owner, detail,
		e.IPAddress, e.UserAgent, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// List returns a session's events, newest first.
func (s *PostgresStore) List(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, action, severity, owner, detail, ip_address, user_agent, created_at
		 FROM session_events
		 WHERE session_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		sessionID, lim,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e      Event
			action string
			sev    string
			detail []byte
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &action, &sev, &e.Owner, &detail, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Action = Action(action)
		e.Severity = Severity(sev)
		e.CreatedAt = e.CreatedAt.UTC()
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("decode detail: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
