package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables, applies defaults
// and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadStruct fills every field tagged env, recursing into the nested
// sections. A field takes its env variable, then envAlt, then default.
func loadStruct(v reflect.Value) error {
	for i := 0; i < v.NumField(); i++ {
		field, sf := v.Field(i), v.Type().Field(i)
		if !field.CanSet() {
			continue
		}
		if sf.Type.Kind() == reflect.Struct {
			if err := loadStruct(field); err != nil {
				return err
			}
			continue
		}

		name := sf.Tag.Get("env")
		if name == "" {
			continue
		}
		value := os.Getenv(name)
		if value == "" {
			if alt := sf.Tag.Get("envAlt"); alt != "" {
				value = os.Getenv(alt)
			}
		}
		if value == "" {
			value = sf.Tag.Get("default")
		}
		if value == "" {
			continue
		}

		if err := parseInto(field.Addr().Interface(), value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", name, value, err)
		}
	}
	return nil
}

func parseInto(dst any, value string) error {
	var err error
	switch p := dst.(type) {
	case *string:
		*p = value
	case *bool:
		*p, err = strconv.ParseBool(value)
	case *int:
		*p, err = strconv.Atoi(value)
	case *int64:
		*p, err = strconv.ParseInt(value, 10, 64)
	case *time.Duration:
		*p, err = time.ParseDuration(value)
	case *[]string:
		*p = splitList(value)
	default:
		return fmt.Errorf("unsupported field type %T", dst)
	}
	return err
}

// splitList splits a comma-separated value, dropping blank entries.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Storage and session validation
	if c.Storage.UploadDir == "" {
		errs = append(errs, "UPLOAD_DIR is required")
	}
	if c.Storage.MaxFileSize <= 0 {
		errs = append(errs, "UPLOAD_MAX_FILE_SIZE must be positive")
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, "SESSION_TTL must be positive")
	}
	if c.Session.ReapSchedule == "" {
		errs = append(errs, "SESSION_REAP_SCHEDULE is required")
	}

	// Query validation
	if c.Query.MaxConcurrent <= 0 {
		errs = append(errs, "QUERY_MAX_CONCURRENT must be positive")
	}
	if c.Query.MaxWaitTime <= 0 {
		errs = append(errs, "QUERY_MAX_WAIT_TIME must be positive")
	}

	// Engine validation
	switch strings.ToLower(c.Engine.Provider) {
	case "local":
	case "openai", "anthropic":
		if c.Engine.APIKey() == "" {
			errs = append(errs, fmt.Sprintf("ENGINE_PROVIDER=%s requires %s_API_KEY",
				c.Engine.Provider, strings.ToUpper(c.Engine.Provider)))
		}
	default:
		errs = append(errs, fmt.Sprintf("ENGINE_PROVIDER (%q) must be one of: local, openai, anthropic", c.Engine.Provider))
	}
	if c.Engine.MaxTokens <= 0 {
		errs = append(errs, "ENGINE_MAX_TOKENS must be positive")
	}
	if c.Engine.ContextRows <= 0 {
		errs = append(errs, "ENGINE_CONTEXT_ROWS must be positive")
	}
	if c.Engine.Timeout <= 0 {
		errs = append(errs, "ENGINE_TIMEOUT must be positive")
	}

	// History validation
	switch strings.ToLower(c.History.Driver) {
	case "none":
	case "sqlite":
		if c.History.SQLitePath == "" {
			errs = append(errs, "HISTORY_SQLITE_PATH is required when HISTORY_DRIVER=sqlite")
		}
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, "DATABASE_URL is required when HISTORY_DRIVER=postgres")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
				c.Database.MaxConns, c.Database.MinConns))
		}
		if c.Database.MaxConns <= 0 {
			errs = append(errs, "DB_MAX_CONNS must be positive")
		}
		if c.Database.MinConns < 0 {
			errs = append(errs, "DB_MIN_CONNS must be non-negative")
		}
	default:
		errs = append(errs, fmt.Sprintf("HISTORY_DRIVER (%q) must be one of: none, sqlite, postgres", c.History.Driver))
	}

	// Rate limit validation
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Database URLs and API keys are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	b.WriteString(fmt.Sprintf("Storage: {UploadDir: %q, MaxFileSize: %d}, ",
		c.Storage.UploadDir, c.Storage.MaxFileSize))
	b.WriteString(fmt.Sprintf("Session: {TTL: %s, ReapSchedule: %q}, ",
		c.Session.TTL, c.Session.ReapSchedule))
	b.WriteString(fmt.Sprintf("Query: {MaxConcurrent: %d, RequireData: %v}, ",
		c.Query.MaxConcurrent, c.Query.RequireData))
	b.WriteString(fmt.Sprintf("Engine: {Provider: %q, Model: %q, APIKey: %s}, ",
		c.Engine.Provider, c.Engine.Model, mask(c.Engine.APIKey())))
	b.WriteString(fmt.Sprintf("History: {Driver: %q}, ", c.History.Driver))
	b.WriteString(fmt.Sprintf("Database: {URL: %s, MaxConns: %d, MinConns: %d}, ",
		mask(c.Database.URL), c.Database.MaxConns, c.Database.MinConns))
	b.WriteString(fmt.Sprintf("Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}

func mask(secret string) string {
	if secret == "" {
		return "[UNSET]"
	}
	return "[MASKED]"
}
