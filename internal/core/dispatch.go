package core

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/sheetquery/internal/engine"
	"github.com/JonMunkholm/sheetquery/internal/logging"
)

// Strategy is how a query is handed to the engine.
type Strategy int

const (
	// StrategySingle passes the one table to Engine.AskTable.
	StrategySingle Strategy = iota + 1
	// StrategyMulti passes every table, in order, to Engine.AskTables.
	StrategyMulti
)

func (s Strategy) String() string {
	switch s {
	case StrategySingle:
		return "single"
	case StrategyMulti:
		return "multi"
	default:
		return "unknown"
	}
}

// StrategyFor picks the strategy for n tables. Zero tables still dispatch
// through the multi-table path and the engine decides what to answer.
func StrategyFor(n int) Strategy {
	if n == 1 {
		return StrategySingle
	}
	return StrategyMulti
}

// Dispatcher sends a query to the engine and normalizes the result.
type Dispatcher struct {
	engine     engine.Engine
	normalizer *Normalizer
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(eng engine.Engine, normalizer *Normalizer) *Dispatcher {
	if normalizer == nil {
		normalizer = NewNormalizer()
	}
	return &Dispatcher{engine: eng, normalizer: normalizer}
}

// Dispatch runs query over c. Engine failures, including panics, come back
// as *QueryError. A plot whose image is missing returns ErrMissingArtifact.
func (d *Dispatcher) Dispatch(ctx context.Context, c Collection, query string) (*Response, Strategy, error) {
	strategy := StrategyFor(len(c))
	logger := logging.WithFields(ctx,
		"engine", d.engine.Name(),
		"strategy", strategy.String(),
		"tables", len(c),
	)

	start := time.Now()
	result, err := d.ask(ctx, strategy, c, query)
	if err != nil {
		logger.Warn("query failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return nil, strategy, &QueryError{Engine: d.engine.Name(), Strategy: strategy, Err: err}
	}

	resp, err := d.normalizer.Normalize(result)
	if err != nil {
		logger.Warn("result could not be normalized", "error", err)
		return nil, strategy, err
	}

	logger.Info("query answered",
		"type", string(resp.Type),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, strategy, nil
}

func (d *Dispatcher) ask(ctx context.Context, strategy Strategy, c Collection, query string) (res engine.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v", r)
		}
	}()

	if strategy == StrategySingle {
		return d.engine.AskTable(ctx, c[0].Table, query)
	}
	return d.engine.AskTables(ctx, c.Tables(), query)
}
