// Package history keeps an append-only log of session activity (uploads,
// selections, queries, exports, expiry). It is an audit trail only: sessions
// themselves stay in memory and can never be rebuilt from it.
//
// Two drivers are available, PostgreSQL via pgxpool and SQLite via
// mattn/go-sqlite3. The "none" driver discards everything.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action is the kind of session activity recorded.
type Action string

const (
	ActionUpload     Action = "upload"
	ActionSelect     Action = "select"
	ActionQuery      Action = "query"
	ActionQueryError Action = "query_error"
	ActionExport     Action = "export"
	ActionExpire     Action = "expire"
)

// Severity ranks how much an event matters when reviewing the log.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Event is one recorded activity.
type Event struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Action    Action         `json:"action"`
	Severity  Severity       `json:"severity"`
	Owner     string         `json:"owner,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store persists events.
type Store interface {
	// Record appends an event. ID, Severity and CreatedAt are filled in when empty.
	Record(ctx context.Context, e Event) error

	// List returns a session's events, newest first. limit <= 0 returns all.
	List(ctx context.Context, sessionID string, limit int) ([]Event, error)

	Close() error
}

// Drivers accepted by Open.
const (
	DriverNone     = "none"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects and configures a driver.
type Options struct {
	Driver     string
	SQLitePath string

	PostgresURL     string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Open returns the store for opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(opts.Driver) {
	case "", DriverNone:
		return Nop{}, nil
	case DriverSQLite, "sqlite3":
		return OpenSQLite(opts.SQLitePath)
	case DriverPostgres, "postgresql", "pg":
		return OpenPostgres(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown history driver %q", opts.Driver)
	}
}

// severityFor returns the default severity for an action.
func severityFor(action Action) Severity {
	switch action {
	case ActionQueryError, ActionExpire:
		return SeverityHigh
	case ActionQuery, ActionExport:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// prepare fills the defaulted fields of e.
func prepare(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Severity == "" {
		e.Severity = severityFor(e.Action)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return e
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) error                  { return nil }
func (Nop) List(context.Context, string, int) ([]Event, error) { return nil, nil }
func (Nop) Close() error                                         { return nil }
