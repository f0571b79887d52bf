package core

import (
	"fmt"

	"github.com/JonMunkholm/sheetquery/internal/table"
)

// ResponseType tags the active variant of a Response.
type ResponseType string

const (
	TypeTable  ResponseType = "table"
	TypePlot   ResponseType = "plot"
	TypeScalar ResponseType = "scalar"
)

// Response is the normalized result of a query. Exactly one variant is
// active and Type always names it:
//
//   - table: Value is []map[string]any, Columns holds the column order
//   - plot: Value is the path of a rendered image
//   - scalar: Value is any JSON-serializable value
type Response struct {
	Type    ResponseType `json:"type"`
	Value   any          `json:"value"`
	Columns []string     `json:"columns,omitempty"`
}

// NewTableResponse wraps t as row-oriented records.
func NewTableResponse(t *table.Table) *Response {
	return &Response{
		Type:    TypeTable,
		Value:   t.Records(),
		Columns: append([]string(nil), t.Columns...),
	}
}

// NewPlotResponse wraps an image path.
func NewPlotResponse(path string) *Response {
	return &Response{Type: TypePlot, Value: path}
}

// NewScalarResponse wraps a value that is already known to serialize.
func NewScalarResponse(v any) *Response {
	return &Response{Type: TypeScalar, Value: v}
}

// Records returns the rows of a table response.
func (r *Response) Records() ([]map[string]any, error) {
	if r.Type != TypeTable {
		return nil, fmt.Errorf("response is %s, not table", r.Type)
	}
	records, ok := r.Value.([]map[string]any)
	if !ok {
		return nil, fmt.Errorf("table response holds %T", r.Value)
	}
	return records, nil
}

// Table rebuilds the table of a table response.
func (r *Response) Table() (*table.Table, error) {
	records, err := r.Records()
	if err != nil {
		return nil, err
	}
	return table.FromRecords("result", r.Columns, records), nil
}

// PlotPath returns the image path of a plot response.
func (r *Response) PlotPath() (string, error) {
	if r.Type != TypePlot {
		return "", fmt.Errorf("response is %s, not plot", r.Type)
	}
	path, ok := r.Value.(string)
	if !ok {
		return "", fmt.Errorf("plot response holds %T", r.Value)
	}
	return path, nil
}
