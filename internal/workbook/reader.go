// =============================================================================
// Excel Workflow - Workbook Reader
// =============================================================================
//
// This module wraps excelize for reading source and processed workbooks into
// plain string tables.
//
// TABLE EXTRACTION:
//   - The first non-empty row of a sheet is the header row
//   - Rows above the header are ignored (title rows, notes)
//   - Cells are read raw (no number formats applied), so dates arrive as
//     Excel serial numbers and are normalised later by the sheet transforms
//   - Cells are trimmed, rows are padded to a common width
//   - Rows with no non-blank cell are dropped
//
// =============================================================================

package workbook

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ginjaninja78/excelflow/internal/types"
	"github.com/xuri/excelize/v2"
)

var (
	// ErrUnreadable is returned when a file cannot be opened as a workbook.
	ErrUnreadable = errors.New("workbook unreadable")

	// ErrSheetNotFound is returned when a named sheet does not exist.
	ErrSheetNotFound = errors.New("sheet not found")
)

// =============================================================================
// WORKBOOK
// =============================================================================

// Workbook is an open, read-only spreadsheet file.
type Workbook struct {
	// Path is the file the workbook was opened from.
	Path string

	file *excelize.File

	// sheets maps trimmed sheet names to the names stored in the file.
	sheets map[string]string
	order  []string
}

// Open opens the workbook at path. Any failure, including a corrupt or
// truncated file, is reported as ErrUnreadable.
func Open(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, filepath.Base(path), err)
	}

	wb := &Workbook{Path: path, file: f, sheets: make(map[string]string)}
	for _, name := range f.GetSheetList() {
		key := strings.TrimSpace(name)
		if _, dup := wb.sheets[key]; dup {
			continue
		}
		wb.sheets[key] = name
		wb.order = append(wb.order, key)
	}
	if len(wb.order) == 0 {
		f.Close()
		return nil, fmt.Errorf("%w: %s: no sheets", ErrUnreadable, filepath.Base(path))
	}
	return wb, nil
}

// Close releases the underlying file.
func (w *Workbook) Close() error {
	return w.file.Close()
}

// SheetNames returns the sheet names in workbook order, trimmed.
func (w *Workbook) SheetNames() []string {
	return append([]string(nil), w.order...)
}

// HasSheet reports whether the workbook contains the named sheet.
// Surrounding whitespace in stored sheet names is ignored.
func (w *Workbook) HasSheet(name string) bool {
	_, ok := w.sheets[strings.TrimSpace(name)]
	return ok
}

// ReadTable reads the named sheet into a table called name.
func (w *Workbook) ReadTable(name string) (*types.Table, error) {
	actual, ok := w.sheets[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSheetNotFound, name)
	}

	rows, err := w.file.GetRows(actual, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read rows of sheet '%s': %w", name, err)
	}

	return FromRows(strings.TrimSpace(name), rows), nil
}

// =============================================================================
// ROW HANDLING
// =============================================================================

// FromRows converts raw sheet rows into a table. The first non-empty row
// becomes the header; the table width is the widest of the header and data
// rows, and short rows are padded with empty cells.
func FromRows(name string, rows [][]string) *types.Table {
	start := -1
	for i, row := range rows {
		if !isRowEmpty(row) {
			start = i
			break
		}
	}
	if start < 0 {
		return types.NewTable(name, nil)
	}

	width := 0
	for _, row := range rows[start:] {
		if !isRowEmpty(row) && len(row) > width {
			width = len(row)
		}
	}

	header := make([]string, width)
	for i, cell := range rows[start] {
		header[i] = strings.TrimSpace(cell)
	}

	t := types.NewTable(name, header)
	for _, row := range rows[start+1:] {
		if isRowEmpty(row) {
			continue
		}
		out := make([]string, width)
		for i, cell := range row {
			out[i] = strings.TrimSpace(cell)
		}
		t.Rows = append(t.Rows, out)
	}
	return t
}

// isRowEmpty checks if a row contains only empty cells.
func isRowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
