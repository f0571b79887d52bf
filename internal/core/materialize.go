package core

import (
	"context"
	"fmt"
	"os"

	"github.com/JonMunkholm/sheetquery/internal/logging"
	"github.com/JonMunkholm/sheetquery/internal/table"
)

// PreviewRows is the number of sample rows returned per table.
const PreviewRows = 5

// FilePreview holds the sample rows of one file's selected tables.
type FilePreview struct {
	Filename string                      `json:"filename"`
	Sheets   map[string][]map[string]any `json:"sheets"`
	Columns  map[string][]string         `json:"columns,omitempty"`
	Errors   map[string]string           `json:"errors,omitempty"`
	Error    string                      `json:"error,omitempty"`
}

// NamedTable is a loaded table and its collection key.
type NamedTable struct {
	Key   string
	Table *table.Table
}

// Collection is an ordered set of loaded tables: upload order, then
// selection order.
type Collection []NamedTable

// Tables returns the tables in order, without keys.
func (c Collection) Tables() []*table.Table {
	out := make([]*table.Table, len(c))
	for i, nt := range c {
		out[i] = nt.Table
	}
	return out
}

// Keys returns the collection keys in order.
func (c Collection) Keys() []string {
	out := make([]string, len(c))
	for i, nt := range c {
		out[i] = nt.Key
	}
	return out
}

// put appends t under key, replacing an earlier entry with the same key in place.
func (c Collection) put(key string, t *table.Table) Collection {
	for i := range c {
		if c[i].Key == key {
			c[i].Table = t
			return c
		}
	}
	return append(c, NamedTable{Key: key, Table: t})
}

// CollectionKey is "<filename>_<table>", or the bare filename for the
// single implicit table of a CSV file.
func CollectionKey(filename, tableName string) string {
	if tableName == DefaultTable {
		return filename
	}
	return filename + "_" + tableName
}

// Materializer reads selected tables from stored files.
type Materializer struct{}

// NewMaterializer creates a Materializer.
func NewMaterializer() *Materializer {
	return &Materializer{}
}

// Preview reads the first PreviewRows rows of every selected table. Files
// with nothing selected are skipped. A failing sheet is reported in
// FilePreview.Errors and does not affect the others.
func (m *Materializer) Preview(ctx context.Context, files []FileRecord) []FilePreview {
	logger := logging.FromContext(ctx)
	previews := []FilePreview{}

	for _, f := range files {
		if len(f.Selected) == 0 {
			continue
		}

		p := FilePreview{
			Filename: f.Filename,
			Sheets:   make(map[string][]map[string]any),
			Columns:  make(map[string][]string),
		}

		if _, err := os.Stat(f.Path); err != nil {
			p.Error = fmt.Sprintf("failed to read file: %v", err)
			logger.Warn("preview file unreadable", "file", f.Filename, "error", err)
			previews = append(previews, p)
			continue
		}

		for _, name := range f.Selected {
			t, err := readTable(f, name, PreviewRows)
			if err != nil {
				if p.Errors == nil {
					p.Errors = make(map[string]string)
				}
				p.Errors[name] = fmt.Sprintf("failed to read sheet: %v", err)
				logger.Warn("preview sheet unreadable", "file", f.Filename, "sheet", name, "error", err)
				continue
			}
			p.Sheets[name] = t.Records()
			p.Columns[name] = t.Columns
		}
		previews = append(previews, p)
	}
	return previews
}

// Load fully reads every selected table. Tables that fail to load are
// logged and skipped, so the result may be empty.
func (m *Materializer) Load(ctx context.Context, files []FileRecord) Collection {
	logger := logging.FromContext(ctx)
	var c Collection

	for _, f := range files {
		for _, name := range f.Selected {
			t, err := readTable(f, name, 0)
			if err != nil {
				logger.Warn("failed to load table, skipping",
					"file", f.Filename,
					"sheet", name,
					"error", err,
				)
				continue
			}
			key := CollectionKey(f.Filename, name)
			t.Name = key
			c = c.put(key, t)
		}
	}
	return c
}

// readTable reads one table of f. limit <= 0 reads every row.
func readTable(f FileRecord, name string, limit int) (*table.Table, error) {
	switch f.Format {
	case FormatXLSX:
		return table.ReadSheet(f.Path, name, limit)
	case FormatCSV:
		if name != DefaultTable {
			return nil, fmt.Errorf("csv file has no table %q", name)
		}
		return table.ReadCSVFile(f.Path, f.Filename, limit)
	default:
		return nil, fmt.Errorf("unsupported format %q", f.Format)
	}
}
