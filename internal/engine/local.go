package engine

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/JonMunkholm/sheetquery/internal/logging"
	"github.com/JonMunkholm/sheetquery/internal/table"
)

const defaultShowRows = 10

var (
	wordRegex   = regexp.MustCompile(`[a-z0-9_]+`)
	numberRegex = regexp.MustCompile(`\b(\d+)\b`)
)

// aggregate keywords, checked in order. Multi-word phrases are matched on
// the raw query text, single words on its tokens.
var aggregates = []struct {
	op    string
	words []string
}{
	{"count", []string{"count", "how many", "number of"}},
	{"mean", []string{"average", "mean", "avg"}},
	{"median", []string{"median"}},
	{"std", []string{"std", "stddev", "standard deviation"}},
	{"min", []string{"min", "minimum", "lowest", "smallest"}},
	{"max", []string{"max", "maximum", "highest", "largest"}},
	{"sum", []string{"total", "sum"}},
}

// Local is an offline engine that understands a small keyword vocabulary.
// It needs no credentials and is the default provider.
type Local struct {
	chartsDir string
	verbose   bool
}

// NewLocal creates the keyword engine.
func NewLocal(cfg Config) *Local {
	dir := cfg.ChartsDir
	if dir == "" {
		dir = "charts"
	}
	return &Local{chartsDir: dir, verbose: cfg.Verbose}
}

// Name returns the provider name.
func (l *Local) Name() string { return ProviderLocal }

// AskTable answers a question over a single table.
func (l *Local) AskTable(ctx context.Context, t *table.Table, query string) (Result, error) {
	if t == nil {
		return Result{}, ErrNoTables
	}
	return l.answer(ctx, t, query)
}

// AskTables answers over several tables by stacking their rows under the
// union of their columns.
func (l *Local) AskTables(ctx context.Context, tables []*table.Table, query string) (Result, error) {
	if len(tables) == 0 {
		return Result{}, ErrNoTables
	}
	return l.answer(ctx, stack(tables), query)
}

func (l *Local) answer(ctx context.Context, t *table.Table, query string) (Result, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	words := make(map[string]bool)
	for _, w := range wordRegex.FindAllString(q, -1) {
		words[w] = true
	}
	has := func(keys ...string) bool {
		for _, k := range keys {
			if strings.Contains(k, " ") {
				if strings.Contains(q, k) {
					return true
				}
			} else if words[k] {
				return true
			}
		}
		return false
	}

	if l.verbose {
		logging.FromContext(ctx).Info("local engine query",
			"query", query,
			"table", t.Name,
			"rows", t.Len(),
			"columns", len(t.Columns),
		)
	}

	switch {
	case has("plot", "chart", "graph", "visualize", "visualise"):
		return l.plot(t, q)
	case has("correlate", "correlation", "correlations", "corr"):
		return correlate(t)
	case has("columns", "fields") && !has("sum", "total", "average", "mean"):
		return Result{Kind: KindScalar, Value: append([]string(nil), t.Columns...)}, nil
	}

	for _, agg := range aggregates {
		if has(agg.words...) {
			return aggregate(t, agg.op, q)
		}
	}

	if has("show", "list", "first", "head", "rows", "display", "top") {
		n := defaultShowRows
		if m := numberRegex.FindStringSubmatch(q); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil && v > 0 {
				n = v
			}
		}
		return Result{Kind: KindTable, Value: t.Head(n)}, nil
	}

	return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedQuery, query)
}

func aggregate(t *table.Table, op, q string) (Result, error) {
	if op == "count" {
		if col := namedColumn(t, q); col >= 0 {
			n := 0
			for _, v := range t.Column(col) {
				if v != nil {
					n++
				}
			}
			return Result{Kind: KindScalar, Value: int64(n)}, nil
		}
		return Result{Kind: KindScalar, Value: int64(t.Len())}, nil
	}

	col, err := numericColumn(t, q)
	if err != nil {
		return Result{}, err
	}
	vals := numbers(t.Column(col))
	if len(vals) == 0 {
		return Result{}, fmt.Errorf("column %q has no numeric values", t.Columns[col])
	}

	var v float64
	switch op {
	case "sum":
		v = sum(vals)
	case "mean":
		v = sum(vals) / float64(len(vals))
	case "median":
		v = median(vals)
	case "min":
		v = minOf(vals)
	case "max":
		v = maxOf(vals)
	case "std":
		v = stddev(vals)
	}
	return Result{Kind: KindScalar, Value: v}, nil
}

func (l *Local) plot(t *table.Table, q string) (Result, error) {
	valueCol, err := numericColumn(t, q)
	if err != nil {
		return Result{}, err
	}

	labelCol := -1
	for i := range t.Columns {
		if i != valueCol && !isNumericColumn(t, i) {
			labelCol = i
			break
		}
	}

	// Group by label, keeping first-seen order.
	var labels []string
	totals := make(map[string]float64)
	for i, row := range t.Rows {
		label := strconv.Itoa(i + 1)
		if labelCol >= 0 {
			label = table.FormatValue(row[labelCol])
		}
		f, ok := table.Number(row[valueCol])
		if !ok {
			continue
		}
		if _, seen := totals[label]; !seen {
			labels = append(labels, label)
		}
		totals[label] += f
	}
	values := make([]float64, len(labels))
	for i, label := range labels {
		values[i] = totals[label]
	}

	title := t.Columns[valueCol]
	if labelCol >= 0 {
		title = fmt.Sprintf("%s by %s", t.Columns[valueCol], t.Columns[labelCol])
	}
	path, err := renderBarChart(l.chartsDir, title, labels, values)
	if err != nil {
		return Result{}, err
	}
	return Result{Kind: KindPlot, Value: path}, nil
}

// correlate returns the Pearson correlation matrix of the numeric columns.
func correlate(t *table.Table) (Result, error) {
	var cols []int
	for i := range t.Columns {
		if isNumericColumn(t, i) {
			cols = append(cols, i)
		}
	}
	if len(cols) < 2 {
		return Result{}, fmt.Errorf("correlation needs at least two numeric columns, found %d", len(cols))
	}

	header := []string{"column"}
	for _, c := range cols {
		header = append(header, t.Columns[c])
	}
	out := table.New("correlation", header)
	for _, a := range cols {
		row := []any{t.Columns[a]}
		for _, b := range cols {
			r := pearson(t, a, b)
			if math.IsNaN(r) {
				row = append(row, nil)
			} else {
				row = append(row, r)
			}
		}
		out.Append(row)
	}
	return Result{Kind: KindTable, Value: out}, nil
}

func pearson(t *table.Table, a, b int) float64 {
	var xs, ys []float64
	for _, row := range t.Rows {
		x, okX := table.Number(row[a])
		y, okY := table.Number(row[b])
		if okX && okY {
			xs = append(xs, x)
			ys = append(ys, y)
		}
	}
	n := float64(len(xs))
	if n < 2 {
		return math.NaN()
	}
	mx, my := sum(xs)/n, sum(ys)/n
	var cov, vx, vy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return math.NaN()
	}
	return cov / math.Sqrt(vx*vy)
}

// namedColumn returns the column whose name appears in q, preferring the
// longest match. Returns -1 if none does.
func namedColumn(t *table.Table, q string) int {
	best, bestLen := -1, 0
	for i, c := range t.Columns {
		name := strings.ToLower(strings.TrimSpace(c))
		if name == "" || len(name) <= bestLen {
			continue
		}
		if containsWord(q, name) {
			best, bestLen = i, len(name)
		}
	}
	return best
}

func containsWord(q, name string) bool {
	idx := strings.Index(q, name)
	for idx >= 0 {
		before := idx == 0 || !isWordByte(q[idx-1])
		end := idx + len(name)
		after := end == len(q) || !isWordByte(q[end])
		if before && after {
			return true
		}
		next := strings.Index(q[idx+1:], name)
		if next < 0 {
			break
		}
		idx += next + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

// numericColumn picks the column named in q if it is numeric, else the first
// numeric column.
func numericColumn(t *table.Table, q string) (int, error) {
	if col := namedColumn(t, q); col >= 0 && isNumericColumn(t, col) {
		return col, nil
	}
	for i := range t.Columns {
		if isNumericColumn(t, i) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("table %q has no numeric column", t.Name)
}

// isNumericColumn reports whether every non-empty cell of column i is a
// number and at least one is.
func isNumericColumn(t *table.Table, i int) bool {
	seen := false
	for _, row := range t.Rows {
		v := row[i]
		if v == nil {
			continue
		}
		if _, ok := v.(bool); ok {
			return false
		}
		if _, ok := table.Number(v); !ok {
			return false
		}
		seen = true
	}
	return seen
}

func numbers(vals []any) []float64 {
	out := make([]float64, 0, len(vals))
	for _, v := range vals {
		if f, ok := table.Number(v); ok {
			out = append(out, f)
		}
	}
	return out
}

func sum(vals []float64) float64 {
	var s float64
	for _, v := range vals {
		s += v
	}
	return s
}

func median(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func minOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		m = math.Min(m, v)
	}
	return m
}

func maxOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		m = math.Max(m, v)
	}
	return m
}

// stddev is the sample standard deviation; zero for a single value.
func stddev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	mean := sum(vals) / float64(len(vals))
	var ss float64
	for _, v := range vals {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(len(vals)-1))
}

// stack concatenates tables under the union of their columns in first-seen
// order. Missing cells are nil.
func stack(tables []*table.Table) *table.Table {
	if len(tables) == 1 {
		return tables[0]
	}

	var columns []string
	index := make(map[string]int)
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		names = append(names, t.Name)
		for _, c := range t.Columns {
			if _, ok := index[c]; !ok {
				index[c] = len(columns)
				columns = append(columns, c)
			}
		}
	}

	out := table.New(strings.Join(names, "+"), columns)
	for _, t := range tables {
		for _, row := range t.Rows {
			cells := make([]any, len(columns))
			for j, c := range t.Columns {
				cells[index[c]] = row[j]
			}
			out.Rows = append(out.Rows, cells)
		}
	}
	return out
}
