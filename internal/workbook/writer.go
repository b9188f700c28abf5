// =============================================================================
// Excel Workflow - Workbook Writer
// =============================================================================
//
// This module writes one or more tables into a new multi-sheet workbook.
//
// WRITE STRATEGY:
//   - Sheets are written in the order given, with a bold header row
//   - Rows are streamed with excelize's StreamWriter
//   - Numeric-looking cells that survive a round trip unchanged are stored
//     as numbers; everything else (IDs with leading zeros, dates) as text
//   - The workbook is written to a hidden temp file next to the target and
//     renamed into place, so readers never observe a half-written file
//
// =============================================================================

package workbook

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ginjaninja78/excelflow/internal/types"
	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"
	"github.com/xuri/excelize/v2"
)

const (
	// maxSheetNameLength is Excel's limit on sheet name length in characters.
	maxSheetNameLength = 31

	minColumnWidth = 8
	maxColumnWidth = 60
)

var (
	integerPattern = regexp.MustCompile(`^-?(0|[1-9][0-9]{0,14})$`)
	decimalPattern = regexp.MustCompile(`^-?(0|[1-9][0-9]*)\.[0-9]*[1-9]$`)

	invalidSheetChars = strings.NewReplacer(
		"[", "(", "]", ")", ":", "_", "*", "_", "?", "_", "/", "_", "\\", "_",
	)
)

// =============================================================================
// WRITE FUNCTIONS
// =============================================================================

// Write saves tables as sheets of a new workbook at path.
//
// PARAMETERS:
//   - path: The target .xlsx file. Its directory must exist.
//   - tables: The sheets to write, in order. Sheet names must be unique.
//
// RETURNS:
//   - An error if the workbook cannot be built or saved. On error the target
//     path is left untouched.
func Write(path string, tables []*types.Table) error {
	if len(tables) == 0 {
		return errors.New("no sheets to write")
	}

	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#DDEBF7"}},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	used := make(map[string]bool, len(tables))
	for i, t := range tables {
		name := SafeSheetName(t.Name)
		if used[name] {
			return fmt.Errorf("duplicate sheet name '%s'", name)
		}
		used[name] = true

		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return fmt.Errorf("failed to name sheet '%s': %w", name, err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to add sheet '%s': %w", name, err)
		}

		if err := writeTable(f, name, t, headerStyle); err != nil {
			return fmt.Errorf("failed to write sheet '%s': %w", name, err)
		}
	}
	f.SetActiveSheet(0)

	return saveAtomic(f, path)
}

// writeTable streams the header and rows of t into the named sheet.
func writeTable(f *excelize.File, sheet string, t *types.Table, headerStyle int) error {
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}

	for col, width := range columnWidths(t) {
		if err := sw.SetColWidth(col+1, col+1, width); err != nil {
			return err
		}
	}

	header := make([]interface{}, len(t.Header))
	for i, h := range t.Header {
		header[i] = h
	}
	if err := sw.SetRow("A1", header, excelize.RowOpts{StyleID: headerStyle}); err != nil {
		return err
	}

	for r, row := range t.Rows {
		values := make([]interface{}, len(t.Header))
		for c := range t.Header {
			values[c] = cellValue(types.Cell(row, c))
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, values); err != nil {
			return err
		}
	}

	return sw.Flush()
}

// saveAtomic writes the workbook to a temp file in the target directory and
// renames it over path.
func saveAtomic(f *excelize.File, path string) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()))

	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := f.WriteTo(out); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync workbook: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close workbook: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move workbook into place: %w", err)
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// SafeSheetName replaces characters Excel forbids in sheet names and
// truncates the name to 31 characters.
func SafeSheetName(name string) string {
	name = strings.TrimSpace(invalidSheetChars.Replace(name))
	if name == "" {
		name = "Sheet"
	}
	r := []rune(name)
	if len(r) > maxSheetNameLength {
		r = r[:maxSheetNameLength]
	}
	return string(r)
}

// cellValue returns an int64 or float64 for plain numbers that format back
// to exactly the same text, and the string itself otherwise.
func cellValue(s string) interface{} {
	switch {
	case s == "":
		return nil
	case integerPattern.MatchString(s):
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return v
		}
	case len(s) <= 16 && decimalPattern.MatchString(s):
		if v, err := strconv.ParseFloat(s, 64); err == nil && strconv.FormatFloat(v, 'f', -1, 64) == s {
			return v
		}
	}
	return s
}

// columnWidths sizes each column to its widest cell (display width, so CJK
// characters count double), bounded to a readable range.
func columnWidths(t *types.Table) []float64 {
	widths := make([]float64, len(t.Header))
	for c, h := range t.Header {
		w := runewidth.StringWidth(h)
		for _, row := range t.Rows {
			if cw := runewidth.StringWidth(types.Cell(row, c)); cw > w {
				w = cw
			}
		}
		w += 2
		if w < minColumnWidth {
			w = minColumnWidth
		}
		if w > maxColumnWidth {
			w = maxColumnWidth
		}
		widths[c] = float64(w)
	}
	return widths
}
