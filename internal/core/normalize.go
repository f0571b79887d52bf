package core

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/sheetquery/internal/engine"
	"github.com/JonMunkholm/sheetquery/internal/table"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".svg":  true,
}

// Normalizer turns an untyped engine result into a Response.
//
// Rules, in order:
//  1. A tabular value (*table.Table, []map[string]any, or []any of objects) is a table.
//  2. An image path (Kind plot, or a string with an image extension) is a
//     plot if the file exists, else ErrMissingArtifact.
//  3. Anything else is a scalar: the raw value if it marshals to JSON,
//     otherwise its fmt string form.
type Normalizer struct {
	stat func(string) (os.FileInfo, error)
}

// NewNormalizer creates a Normalizer that checks artifacts on the local disk.
func NewNormalizer() *Normalizer {
	return &Normalizer{stat: os.Stat}
}

// Normalize never panics; the only error it returns is ErrMissingArtifact.
func (n *Normalizer) Normalize(res engine.Result) (*Response, error) {
	if t, ok := tabular(res.Value); ok {
		return NewTableResponse(sanitizeTable(t)), nil
	}

	if path, ok := imagePath(res); ok {
		info, err := n.stat(path)
		if err != nil || info.IsDir() {
			return nil, fmt.Errorf("%s: %w", path, ErrMissingArtifact)
		}
		return NewPlotResponse(path), nil
	}

	return scalar(res.Value), nil
}

func tabular(v any) (*table.Table, bool) {
	switch val := v.(type) {
	case *table.Table:
		if val == nil {
			return nil, false
		}
		return val, true
	case table.Table:
		return &val, true
	case []map[string]any:
		return table.FromRecords("result", nil, val), true
	case []any:
		if len(val) == 0 {
			return nil, false
		}
		records := make([]map[string]any, len(val))
		for i, item := range val {
			rec, ok := item.(map[string]any)
			if !ok {
				return nil, false
			}
			records[i] = rec
		}
		return table.FromRecords("result", nil, records), true
	}
	return nil, false
}

func imagePath(res engine.Result) (string, bool) {
	path, ok := res.Value.(string)
	if !ok || path == "" {
		return "", false
	}
	if res.Kind == engine.KindPlot {
		return path, true
	}
	if imageExtensions[strings.ToLower(filepath.Ext(path))] {
		return path, true
	}
	return "", false
}

func scalar(v any) *Response {
	if _, err := json.Marshal(v); err != nil {
		return NewScalarResponse(fmt.Sprint(v))
	}
	return NewScalarResponse(v)
}

// sanitizeTable replaces cells that cannot be encoded as JSON (NaN, Inf,
// unsupported types) so the table response always serializes.
func sanitizeTable(t *table.Table) *table.Table {
	out := table.New(t.Name, t.Columns)
	for _, row := range t.Rows {
		cells := make([]any, len(t.Columns))
		for i := range cells {
			if i < len(row) {
				cells[i] = jsonCell(row[i])
			}
		}
		out.Rows = append(out.Rows, cells)
	}
	return out
}

func jsonCell(v any) any {
	switch val := v.(type) {
	case nil, string, bool, int, int64, int32:
		return val
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil
		}
		return val
	}
	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprint(v)
	}
	return v
}
