// Package engine defines the natural-language query engine that answers
// questions over one or more tables, plus its implementations:
//
//   - local: an offline keyword engine (aggregates, listings, charts, correlation)
//   - openai and anthropic: LLM-backed engines that reply with a validated JSON document
//
// Results are untyped by contract. Callers must normalize Result before use.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/sheetquery/internal/table"
)

// Result kinds an engine may report. Kind is a hint only; an engine may leave
// it empty and the Value shape decides.
const (
	KindTable  = "table"
	KindPlot   = "plot"
	KindScalar = "scalar"
)

// Provider names accepted by New.
const (
	ProviderLocal     = "local"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

var (
	// ErrUnsupportedQuery is returned when an engine cannot interpret a question.
	ErrUnsupportedQuery = errors.New("query not understood")

	// ErrNoTables is returned when a question is asked over no data.
	ErrNoTables = errors.New("no tables to query")

	// ErrInvalidReply is returned when an LLM reply does not match the reply schema.
	ErrInvalidReply = errors.New("engine reply did not match schema")
)

// Engine answers a natural-language question over tabular data.
type Engine interface {
	Name() string
	AskTable(ctx context.Context, t *table.Table, query string) (Result, error)
	AskTables(ctx context.Context, tables []*table.Table, query string) (Result, error)
}

// Result is what an engine produced. Value may be a *table.Table,
// []map[string]any, an image path, or any scalar.
type Result struct {
	Kind  string
	Value any
}

// Config is the configuration bag handed to every engine.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	ChartsDir   string
	Verbose     bool
	MaxTokens   int
	ContextRows int
	Timeout     time.Duration
}

// New builds the engine named by cfg.Provider.
func New(cfg Config) (Engine, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderLocal:
		return NewLocal(cfg), nil
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai engine: API key is required")
		}
		return newLLMEngine(ProviderOpenAI, NewOpenAIProvider(cfg.APIKey), cfg), nil
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic engine: API key is required")
		}
		return newLLMEngine(ProviderAnthropic, NewAnthropicProvider(cfg.APIKey), cfg), nil
	default:
		return nil, fmt.Errorf("unknown engine provider %q", cfg.Provider)
	}
}
