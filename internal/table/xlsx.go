package table

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/xuri/excelize/v2"
)

// DefaultSheet is the sheet name used when writing a workbook.
const DefaultSheet = "Sheet1"

// SheetNames lists the sheets of the workbook at path in workbook order.
func SheetNames(path string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	return f.GetSheetList(), nil
}

// ReadSheet loads one sheet of the workbook at path. The first non-empty row
// is the header and blank data rows are skipped. limit caps the number of
// data rows; limit <= 0 reads all.
func ReadSheet(path, sheet string, limit int) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	return readSheet(f, sheet, limit, false)
}

// readSheet walks the sheet row by row. Cell values come from the stored
// (raw) value and the cell type, so text cells stay text and numbers keep
// full float64 precision. keepBlank retains all-blank data rows, including
// trailing ones that only the sheet dimension records.
func readSheet(f *excelize.File, sheet string, limit int, keepBlank bool) (*Table, error) {
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("sheet %q not found", sheet)
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	defer rows.Close()

	var t *Table
	headerRow, rowNum := 0, 0
	for rows.Next() {
		rowNum++
		raw, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		if t == nil {
			if isEmptyRow(raw) {
				continue
			}
			t = New(sheet, NormalizeHeader(raw))
			headerRow = rowNum
			continue
		}
		if isEmptyRow(raw) && !keepBlank {
			continue
		}
		row := make([]any, len(t.Columns))
		for col := range row {
			if col >= len(raw) || raw[col] == "" {
				continue
			}
			v, err := cellValue(f, sheet, col+1, rowNum, raw[col])
			if err != nil {
				return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
			}
			row[col] = v
		}
		t.Rows = append(t.Rows, row)
		if limit > 0 && t.Len() >= limit {
			return t, nil
		}
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if t == nil {
		return nil, ErrEmptyFile
	}

	if keepBlank {
		last, err := lastDimensionRow(f, sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		for n := headerRow + t.Len(); n < last; n++ {
			if limit > 0 && t.Len() >= limit {
				break
			}
			t.Rows = append(t.Rows, make([]any, len(t.Columns)))
		}
	}
	return t, nil
}

// cellValue converts the stored value of one non-empty cell.
func cellValue(f *excelize.File, sheet string, col, row int, raw string) (any, error) {
	ref, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return nil, err
	}
	typ, err := f.GetCellType(sheet, ref)
	if err != nil {
		return nil, err
	}

	switch typ {
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString,
		excelize.CellTypeFormula, excelize.CellTypeError:
		return raw, nil
	case excelize.CellTypeBool:
		return raw == "1" || strings.EqualFold(raw, "true"), nil
	}

	// Numeric cells: a number format that renders as something other than
	// a number (dates, currency, percentages) keeps its displayed text.
	shown, err := f.GetCellValue(sheet, ref)
	if err != nil {
		return nil, err
	}
	switch ParseValue(shown).(type) {
	case int64, float64, nil:
		return ParseValue(raw), nil
	}
	return shown, nil
}

// lastDimensionRow returns the final row number of the sheet's recorded
// dimension, or 0 when none is recorded.
func lastDimensionRow(f *excelize.File, sheet string) (int, error) {
	dim, err := f.GetSheetDimension(sheet)
	if err != nil || dim == "" {
		return 0, err
	}
	end := dim
	if i := strings.IndexByte(dim, ':'); i >= 0 {
		end = dim[i+1:]
	}
	_, row, err := excelize.CellNameToCoordinates(end)
	if err != nil {
		return 0, nil
	}
	return row, nil
}

// WriteXLSX writes t to w as a single-sheet workbook: a header row followed
// by the data rows in column order. No index column is added. Cells are
// written with their own type so that DecodeXLSX returns the same values;
// nil cells are left empty.
func WriteXLSX(w io.Writer, t *Table) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", DefaultSheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	for col, name := range t.Columns {
		if err := writeCell(f, col+1, 1, name); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	for i, row := range t.Rows {
		for col, v := range row {
			if err := writeCell(f, col+1, i+2, v); err != nil {
				return fmt.Errorf("write row %d: %w", i+1, err)
			}
		}
	}

	if len(t.Columns) > 0 {
		end, err := excelize.CoordinatesToCellName(len(t.Columns), t.Len()+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetDimension(DefaultSheet, "A1:"+end); err != nil {
			return fmt.Errorf("set dimension: %w", err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeCell(f *excelize.File, col, row int, v any) error {
	if v == nil {
		return nil
	}
	ref, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		return f.SetCellStr(DefaultSheet, ref, val)
	case int64:
		return f.SetCellInt(DefaultSheet, ref, val)
	case int:
		return f.SetCellInt(DefaultSheet, ref, int64(val))
	case bool:
		return f.SetCellBool(DefaultSheet, ref, val)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil
		}
		// Shortest exact form, except that whole numbers carry a ".0" so
		// they do not read back as integers.
		precision := -1
		if val == math.Trunc(val) {
			precision = 1
		}
		return f.SetCellFloat(DefaultSheet, ref, val, precision, 64)
	default:
		return f.SetCellValue(DefaultSheet, ref, val)
	}
}

// EncodeXLSX renders t into an in-memory workbook.
func EncodeXLSX(t *Table) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeXLSX reads the first sheet of an in-memory workbook, keeping blank
// data rows so that it inverts EncodeXLSX.
func DecodeXLSX(data []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}
	return readSheet(f, sheets[0], 0, true)
}
