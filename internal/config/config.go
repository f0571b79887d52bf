// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Session  SessionConfig
	Query    QueryConfig
	Engine   EngineConfig
	History  HistoryConfig
	Database DatabaseConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 60s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"60s"`

	// WriteTimeout is the maximum duration for writing a response. Engine
	// calls can be slow, so it defaults to 0 and RequestTimeout bounds handlers.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 3m)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"3m"`
}

// StorageConfig holds upload storage settings.
type StorageConfig struct {
	// UploadDir is where uploaded files are written, one directory per session.
	UploadDir string `env:"UPLOAD_DIR" default:"uploads"`

	// MaxFileSize is the maximum allowed size of one file in bytes (default: 100MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"104857600"`
}

// SessionConfig holds session expiry settings.
type SessionConfig struct {
	// TTL is how long an idle session is kept (default: 2h)
	TTL time.Duration `env:"SESSION_TTL" default:"2h"`

	// ReapSchedule is the cron schedule of the idle sweep (default: @every 10m)
	ReapSchedule string `env:"SESSION_REAP_SCHEDULE" default:"@every 10m"`
}

// QueryConfig holds query dispatch settings.
type QueryConfig struct {
	// MaxConcurrent is the maximum number of engine calls in flight (default: 4)
	MaxConcurrent int `env:"QUERY_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long a query waits for a slot (default: 30s)
	MaxWaitTime time.Duration `env:"QUERY_MAX_WAIT_TIME" default:"30s"`

	// RequireData rejects queries when no sheet is selected (default: false)
	RequireData bool `env:"QUERY_REQUIRE_DATA" default:"false"`
}

// EngineConfig selects and configures the question-answering engine.
type EngineConfig struct {
	// Provider is local, openai or anthropic (default: local)
	Provider string `env:"ENGINE_PROVIDER" default:"local"`

	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`

	// Model overrides the provider's default model.
	Model string `env:"ENGINE_MODEL"`

	// ChartsDir is where rendered charts are written (default: charts)
	ChartsDir string `env:"ENGINE_CHARTS_DIR" default:"charts"`

	// Verbose logs every engine call at info level.
	Verbose bool `env:"ENGINE_VERBOSE" default:"false"`

	// MaxTokens caps the reply length of LLM providers (default: 2048)
	MaxTokens int `env:"ENGINE_MAX_TOKENS" default:"2048"`

	// ContextRows is how many rows per table are sent to LLM providers (default: 50)
	ContextRows int `env:"ENGINE_CONTEXT_ROWS" default:"50"`

	// Timeout bounds one engine call (default: 2m)
	Timeout time.Duration `env:"ENGINE_TIMEOUT" default:"2m"`
}

// APIKey returns the key for the configured provider.
func (c *EngineConfig) APIKey() string {
	switch strings.ToLower(c.Provider) {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	default:
		return ""
	}
}

// HistoryConfig selects where session history is recorded.
type HistoryConfig struct {
	// Driver is none, sqlite or postgres (default: sqlite)
	Driver string `env:"HISTORY_DRIVER" default:"sqlite"`

	// SQLitePath is the database file for the sqlite driver.
	SQLitePath string `env:"HISTORY_SQLITE_PATH" default:"data/history.db"`
}

// DatabaseConfig holds PostgreSQL connection settings, used by the postgres
// history driver.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string, required when HISTORY_DRIVER=postgres.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for the upload endpoint (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`

	// QueryLimit is requests per minute for the conversation endpoint (default: 20)
	QueryLimit int `env:"RATE_LIMIT_QUERY" default:"20"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey enforces X-API-Key on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + strconv.Itoa(c.Port)
	}
	return c.Host + ":" + strconv.Itoa(c.Port)
}
