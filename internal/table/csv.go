package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrEmptyFile is returned when a file has no header row.
var ErrEmptyFile = errors.New("file has no header row")

// ReadCSV parses CSV from r into a table. The first record is the header.
// limit caps the number of data rows read; limit <= 0 reads everything.
func ReadCSV(r io.Reader, name string, limit int) (*Table, error) {
	reader := csv.NewReader(WrapForStreaming(r))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	var rows [][]string
	for limit <= 0 || len(rows) < limit {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(rows)+2, err)
		}
		if isEmptyRow(record) {
			continue
		}
		rows = append(rows, record)
	}

	return fromStrings(name, header, rows), nil
}

// ReadCSVFile opens path and parses it with ReadCSV.
func ReadCSVFile(path, name string, limit int) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	return ReadCSV(f, name, limit)
}
