// Package table holds the in-memory tabular form that uploaded files are
// materialized into, plus the CSV and XLSX readers and the XLSX writer.
//
// A Table is column-ordered: Columns fixes the order and every row in Rows
// has exactly len(Columns) cells. Cell values are one of nil, int64, float64,
// bool or string (see ParseValue).
package table

import (
	"fmt"
	"sort"
	"strings"
)

// Table is one named two-dimensional dataset.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]any
}

// New creates an empty table with the given header.
func New(name string, columns []string) *Table {
	return &Table{
		Name:    name,
		Columns: append([]string(nil), columns...),
	}
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Append adds a row, padding or truncating it to the header width.
func (t *Table) Append(row []any) {
	cells := make([]any, len(t.Columns))
	copy(cells, row)
	t.Rows = append(t.Rows, cells)
}

// Head returns a copy holding at most n rows.
func (t *Table) Head(n int) *Table {
	if n < 0 || n > len(t.Rows) {
		n = len(t.Rows)
	}
	out := New(t.Name, t.Columns)
	out.Rows = make([][]any, n)
	copy(out.Rows, t.Rows[:n])
	return out
}

// ColumnIndex finds a column by name, case-insensitively. Returns -1 if absent.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

// Column returns every value of column i.
func (t *Table) Column(i int) []any {
	vals := make([]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		vals = append(vals, row[i])
	}
	return vals
}

// Records converts the table into row-oriented records keyed by column name.
func (t *Table) Records() []map[string]any {
	records := make([]map[string]any, len(t.Rows))
	for i, row := range t.Rows {
		rec := make(map[string]any, len(t.Columns))
		for j, col := range t.Columns {
			rec[col] = row[j]
		}
		records[i] = rec
	}
	return records
}

// FromRecords rebuilds a table from row-oriented records. If columns is empty
// the column set is derived from the records in first-seen order, with keys
// of each record sorted so the result is deterministic.
func FromRecords(name string, columns []string, records []map[string]any) *Table {
	if len(columns) == 0 {
		columns = recordColumns(records)
	}
	t := New(name, columns)
	for _, rec := range records {
		row := make([]any, len(columns))
		for i, col := range columns {
			row[i] = rec[col]
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func recordColumns(records []map[string]any) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, rec := range records {
		keys := make([]string, 0, len(rec))
		for k := range rec {
			if !seen[k] {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			seen[k] = true
			cols = append(cols, k)
		}
	}
	return cols
}

// NormalizeHeader cleans a raw header row: blank names become Column_N and
// repeated names get a numeric suffix ("amount", "amount.1").
func NormalizeHeader(raw []string) []string {
	out := make([]string, len(raw))
	counts := make(map[string]int, len(raw))
	for i, h := range raw {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("Column_%d", i+1)
		}
		if n, dup := counts[h]; dup {
			counts[h] = n + 1
			h = fmt.Sprintf("%s.%d", h, n+1)
		} else {
			counts[h] = 0
		}
		out[i] = h
	}
	return out
}

// fromStrings builds a table from a header row and raw string rows.
func fromStrings(name string, header []string, rows [][]string) *Table {
	t := New(name, NormalizeHeader(header))
	for _, raw := range rows {
		if isEmptyRow(raw) {
			continue
		}
		row := make([]any, len(t.Columns))
		for i := range row {
			if i < len(raw) {
				row[i] = ParseValue(raw[i])
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
