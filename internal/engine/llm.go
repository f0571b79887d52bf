package engine

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/JonMunkholm/sheetquery/internal/logging"
	"github.com/JonMunkholm/sheetquery/internal/table"
)

const (
	defaultContextRows = 50
	defaultMaxTokens   = 2048
)

// completer sends one system+user exchange to a model and returns its text.
type completer interface {
	Provider() string
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompletionRequest is a single-turn model call.
type CompletionRequest struct {
	Model        string
	SystemPrompt string
	Prompt       string
	MaxTokens    int
}

// ReplySchema is the JSON schema every model reply must satisfy.
const ReplySchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {"enum": ["scalar", "table", "plot"]}
  },
  "oneOf": [
    {
      "properties": {"type": {"const": "scalar"}},
      "required": ["value"]
    },
    {
      "properties": {
        "type": {"const": "table"},
        "columns": {"type": "array", "items": {"type": "string"}},
        "rows": {"type": "array", "items": {"type": "array"}}
      },
      "required": ["columns", "rows"]
    },
    {
      "properties": {
        "type": {"const": "plot"},
        "chart": {
          "type": "object",
          "required": ["labels", "values"],
          "properties": {
            "title": {"type": "string"},
            "labels": {"type": "array", "items": {"type": "string"}},
            "values": {"type": "array", "items": {"type": "number"}}
          }
        }
      },
      "required": ["chart"]
    }
  ]
}`

const systemPrompt = `You are a data analyst answering questions about spreadsheet tables.
You are given each table's name, columns, a summary of its numeric columns
computed over every row, and a sample of its rows as CSV. The sample is only
the first rows of the table: use the summary for totals, averages, minimums,
maximums and counts, and never compute them from the sample alone.
Reply with exactly one JSON object and nothing else, in one of these forms:
{"type": "scalar", "value": <number, string, boolean or array>}
{"type": "table", "columns": ["col", ...], "rows": [[cell, ...], ...]}
{"type": "plot", "chart": {"title": "...", "labels": ["...", ...], "values": [number, ...]}}
Use "plot" only when the question asks for a chart, plot or graph.`

type reply struct {
	Type    string          `json:"type"`
	Value   json.RawMessage `json:"value"`
	Columns []string        `json:"columns"`
	Rows    [][]any         `json:"rows"`
	Chart   *struct {
		Title  string    `json:"title"`
		Labels []string  `json:"labels"`
		Values []float64 `json:"values"`
	} `json:"chart"`
}

// llmEngine adapts a completer into an Engine.
type llmEngine struct {
	name   string
	client completer
	cfg    Config
	schema gojsonschema.JSONLoader
}

func newLLMEngine(name string, client completer, cfg Config) *llmEngine {
	if cfg.ContextRows <= 0 {
		cfg.ContextRows = defaultContextRows
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.ChartsDir == "" {
		cfg.ChartsDir = "charts"
	}
	return &llmEngine{
		name:   name,
		client: client,
		cfg:    cfg,
		schema: gojsonschema.NewStringLoader(ReplySchema),
	}
}

func (e *llmEngine) Name() string { return e.name }

func (e *llmEngine) AskTable(ctx context.Context, t *table.Table, query string) (Result, error) {
	if t == nil {
		return Result{}, ErrNoTables
	}
	return e.ask(ctx, []*table.Table{t}, query)
}

func (e *llmEngine) AskTables(ctx context.Context, tables []*table.Table, query string) (Result, error) {
	if len(tables) == 0 {
		return Result{}, ErrNoTables
	}
	return e.ask(ctx, tables, query)
}

func (e *llmEngine) ask(ctx context.Context, tables []*table.Table, query string) (Result, error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	logger := logging.WithFields(ctx, "engine", e.name, "model", e.cfg.Model, "tables", len(tables))
	prompt, err := buildPrompt(tables, query, e.cfg.ContextRows)
	if err != nil {
		return Result{}, err
	}
	if e.cfg.Verbose {
		logger.Info("engine prompt", "prompt", prompt)
	}

	start := time.Now()
	text, err := e.client.Complete(ctx, CompletionRequest{
		Model:        e.cfg.Model,
		SystemPrompt: systemPrompt,
		Prompt:       prompt,
		MaxTokens:    e.cfg.MaxTokens,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", e.name, err)
	}
	logger.Debug("engine replied", "duration_ms", time.Since(start).Milliseconds(), "bytes", len(text))
	if e.cfg.Verbose {
		logger.Info("engine reply", "reply", text)
	}

	return e.parseReply(text)
}

// parseReply validates a model reply against ReplySchema and converts it.
func (e *llmEngine) parseReply(text string) (Result, error) {
	doc := extractJSON(text)

	res, err := gojsonschema.Validate(e.schema, gojsonschema.NewStringLoader(doc))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidReply, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, desc := range res.Errors() {
			msgs = append(msgs, desc.String())
		}
		return Result{}, fmt.Errorf("%w: %s", ErrInvalidReply, strings.Join(msgs, "; "))
	}

	var r reply
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidReply, err)
	}

	switch r.Type {
	case KindTable:
		t := table.New("result", r.Columns)
		for _, row := range r.Rows {
			t.Append(row)
		}
		return Result{Kind: KindTable, Value: t}, nil
	case KindPlot:
		path, err := renderBarChart(e.cfg.ChartsDir, r.Chart.Title, r.Chart.Labels, r.Chart.Values)
		if err != nil {
			return Result{}, err
		}
		return Result{Kind: KindPlot, Value: path}, nil
	default:
		var v any
		if err := json.Unmarshal(r.Value, &v); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrInvalidReply, err)
		}
		return Result{Kind: KindScalar, Value: v}, nil
	}
}

// extractJSON strips markdown fences and surrounding prose from a reply.
func extractJSON(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return strings.TrimSpace(s)
}

// buildPrompt lists every table with its columns, whole-table numeric
// summaries and up to rows sample rows.
func buildPrompt(tables []*table.Table, query string, rows int) (string, error) {
	var b strings.Builder
	for i, t := range tables {
		fmt.Fprintf(&b, "Table %d: %s (%d rows)\n", i+1, t.Name, t.Len())
		fmt.Fprintf(&b, "Columns: %s\n", strings.Join(t.Columns, ", "))
		writeSummary(&b, t)

		sample := t.Head(rows)
		fmt.Fprintf(&b, "Sample: first %d of %d rows\n", sample.Len(), t.Len())
		w := csv.NewWriter(&b)
		if err := w.Write(t.Columns); err != nil {
			return "", err
		}
		for _, row := range sample.Rows {
			cells := make([]string, len(row))
			for j, v := range row {
				cells[j] = table.FormatValue(v)
			}
			if err := w.Write(cells); err != nil {
				return "", err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return "", err
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Question: %s\n", query)
	return b.String(), nil
}

// writeSummary adds one line per numeric column with aggregates over the
// whole table.
func writeSummary(b *strings.Builder, t *table.Table) {
	header := false
	for i, col := range t.Columns {
		if !isNumericColumn(t, i) {
			continue
		}
		if !header {
			fmt.Fprintf(b, "Summary over all %d rows:\n", t.Len())
			header = true
		}
		vals := numbers(t.Column(i))
		fmt.Fprintf(b, "  %s: count=%d sum=%s min=%s max=%s mean=%s\n", col, len(vals),
			formatFloat(sum(vals)), formatFloat(minOf(vals)), formatFloat(maxOf(vals)),
			formatFloat(sum(vals)/float64(len(vals))))
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
