// =============================================================================
// Excel Workflow - Shared Types
// =============================================================================
//
// This package contains the types shared by the three pipeline phases and the
// report writers. It imports nothing from the rest of the module so that
// every other package can depend on it without import cycles. Types defined
// here are used by:
//   - workbook   (Table)
//   - converter  (SheetOutcome, FileResult)
//   - batch      (BatchReport)
//   - merger     (MergeReport)
//   - report     (all of the above)
//
// =============================================================================

package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// TABLE
// =============================================================================

// Table is a named rectangular block of string cells with a header row.
// Every row in Rows has exactly len(Header) cells once it has been through
// Normalize or was built with AppendRecord/AppendRow.
type Table struct {
	// Name is the sheet name the table was read from or will be written to.
	Name string

	// Header holds the column names in sheet order.
	Header []string

	// Rows holds the data rows, excluding the header.
	Rows [][]string
}

// NewTable creates an empty table with a copy of the given header.
func NewTable(name string, header []string) *Table {
	h := make([]string, len(header))
	copy(h, header)
	return &Table{Name: name, Header: h}
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ColumnIndex returns the index of the column with exactly this name, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// EnsureColumn returns the index of the named column, appending it (with
// empty cells in every existing row) when it is not present yet.
func (t *Table) EnsureColumn(name string) int {
	if idx := t.ColumnIndex(name); idx >= 0 {
		return idx
	}
	t.Header = append(t.Header, name)
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], "")
	}
	return len(t.Header) - 1
}

// Cell returns row[col], or "" when col is out of range.
func Cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

// AppendRow appends a row, padding or truncating it to the header width.
func (t *Table) AppendRow(row []string) {
	out := make([]string, len(t.Header))
	copy(out, row)
	t.Rows = append(t.Rows, out)
}

// AppendRecord appends a row built from a column-name -> value map.
// Keys that are not in the header are ignored.
func (t *Table) AppendRecord(values map[string]string) {
	row := make([]string, len(t.Header))
	for i, h := range t.Header {
		row[i] = values[h]
	}
	t.Rows = append(t.Rows, row)
}

// Record returns row i as a column-name -> value map.
func (t *Table) Record(i int) map[string]string {
	rec := make(map[string]string, len(t.Header))
	for c, h := range t.Header {
		rec[h] = Cell(t.Rows[i], c)
	}
	return rec
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	c := NewTable(t.Name, t.Header)
	c.Rows = make([][]string, len(t.Rows))
	for i, r := range t.Rows {
		c.Rows[i] = append([]string(nil), r...)
	}
	return c
}

// Concat stacks tables into a new table called name. The header is the union
// of all input headers in first-seen order; cells are aligned by column name.
func Concat(name string, tables ...*Table) *Table {
	out := &Table{Name: name}
	seen := make(map[string]int)
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, h := range t.Header {
			if _, ok := seen[h]; !ok {
				seen[h] = len(out.Header)
				out.Header = append(out.Header, h)
			}
		}
	}
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, r := range t.Rows {
			row := make([]string, len(out.Header))
			for c, h := range t.Header {
				row[seen[h]] = Cell(r, c)
			}
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

// =============================================================================
// PHASE 1 RESULTS
// =============================================================================

// SheetStatus is the outcome of producing one output sheet.
type SheetStatus string

const (
	SheetSucceeded SheetStatus = "success"
	SheetMissing   SheetStatus = "missing"
	SheetFailed    SheetStatus = "failed"
)

// SheetOutcome records what happened to one target sheet of one workbook.
type SheetOutcome struct {
	// Key is the registry key of the target (e.g. "oxygen", "visits").
	Key string

	// Name is the sheet name written to the output workbook.
	Name string

	Status SheetStatus

	// Rows is the number of data rows written. Zero unless Status is success.
	Rows int

	// Warnings counts validation warnings for the written sheet.
	Warnings int

	// Missing lists the source sheets that were absent from the workbook.
	Missing []string

	// Err is the failure cause when Status is failed.
	Err error
}

// Note returns a short human-readable explanation for reports.
func (o SheetOutcome) Note() string {
	switch o.Status {
	case SheetMissing:
		return "missing source sheet: " + strings.Join(o.Missing, ", ")
	case SheetFailed:
		if o.Err != nil {
			return o.Err.Error()
		}
		return "failed"
	default:
		if o.Warnings > 0 {
			return fmt.Sprintf("%d validation warning(s)", o.Warnings)
		}
		return ""
	}
}

// FileStatus is the overall outcome of processing one workbook.
type FileStatus string

const (
	// FileSucceeded means every target sheet succeeded.
	FileSucceeded FileStatus = "success"
	// FilePartial means some but not all target sheets succeeded.
	FilePartial FileStatus = "partial"
	// FileFailed means the workbook was read but no target sheet succeeded.
	FileFailed FileStatus = "failed"
	// FileErrored means the workbook could not be read or written at all.
	FileErrored FileStatus = "error"
)

// FileResult is the Phase 1 outcome for a single source workbook.
type FileResult struct {
	// FileName is the base name of the source workbook.
	FileName string

	// SourcePath is the path the workbook was read from.
	SourcePath string

	// OutputPath is the processed workbook path. Empty when nothing was written.
	OutputPath string

	// Sheets holds one outcome per selected target, in registry order.
	Sheets []SheetOutcome

	// Err is set when the file as a whole could not be processed.
	Err error

	// Duration is the wall time spent on the file.
	Duration time.Duration
}

// Status derives the file status from the per-sheet outcomes.
func (r *FileResult) Status() FileStatus {
	if r.Err != nil {
		return FileErrored
	}
	ok := r.Count(SheetSucceeded)
	switch {
	case len(r.Sheets) > 0 && ok == len(r.Sheets):
		return FileSucceeded
	case ok == 0:
		return FileFailed
	default:
		return FilePartial
	}
}

// Count returns the number of sheets with the given status.
func (r *FileResult) Count(status SheetStatus) int {
	n := 0
	for _, s := range r.Sheets {
		if s.Status == status {
			n++
		}
	}
	return n
}

// Outcome returns the outcome for the target key, if present.
func (r *FileResult) Outcome(key string) (SheetOutcome, bool) {
	for _, s := range r.Sheets {
		if s.Key == key {
			return s, true
		}
	}
	return SheetOutcome{}, false
}

// =============================================================================
// PHASE 2 REPORT
// =============================================================================

// BatchReport aggregates Phase 1 results for every discovered input file.
type BatchReport struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	InputDir   string
	OutputDir  string

	// Sheets lists the target sheet names that were processed, in order.
	Sheets []string

	// Files holds one result per discovered workbook, sorted by file name.
	Files []*FileResult
}

// BatchTotals are the summary counters of a batch run.
type BatchTotals struct {
	Files     int
	Processed int
	Succeeded int
	Partial   int
	Failed    int
	Errored   int
}

// SortFiles orders Files by file name, then by source path.
func (b *BatchReport) SortFiles() {
	sort.SliceStable(b.Files, func(i, j int) bool {
		if b.Files[i].FileName != b.Files[j].FileName {
			return b.Files[i].FileName < b.Files[j].FileName
		}
		return b.Files[i].SourcePath < b.Files[j].SourcePath
	})
}

// Totals counts files by status.
func (b *BatchReport) Totals() BatchTotals {
	t := BatchTotals{Files: len(b.Files)}
	for _, f := range b.Files {
		switch f.Status() {
		case FileSucceeded:
			t.Succeeded++
		case FilePartial:
			t.Partial++
		case FileFailed:
			t.Failed++
		case FileErrored:
			t.Errored++
		}
		if f.Err == nil {
			t.Processed++
		}
	}
	return t
}

// SuccessRate is the percentage of files whose every sheet succeeded.
func (b *BatchReport) SuccessRate() float64 {
	if len(b.Files) == 0 {
		return 0
	}
	return float64(b.Totals().Succeeded) / float64(len(b.Files)) * 100
}

// =============================================================================
// PHASE 3 REPORT
// =============================================================================

// MergeStatus is the overall outcome of a merge run.
type MergeStatus string

const (
	MergeSucceeded MergeStatus = "success"
	MergePartial   MergeStatus = "partial"
	MergeErrored   MergeStatus = "error"
)

// SourceSheet is the contribution of one sheet of one processed workbook.
type SourceSheet struct {
	Sheet string
	Rows  int
	Err   error
}

// MergeSource describes one processed workbook considered by the merge.
type MergeSource struct {
	FileName string
	Path     string

	// Skipped is true when the workbook could not be opened; Err says why.
	Skipped bool
	Err     error

	// Sheets lists the known sheets found in the workbook, in registry order.
	Sheets []SourceSheet
}

// MergedSheetStatus is the outcome of one merged output sheet.
type MergedSheetStatus string

const (
	SheetMerged MergedSheetStatus = "merged"
	SheetEmpty  MergedSheetStatus = "empty"
)

// MergedSheet summarises one sheet of the final workbook.
type MergedSheet struct {
	Key         string
	Name        string
	Status      MergedSheetStatus
	SourceFiles int
	InputRows   int
	OutputRows  int
	Duplicates  int
}

// MergeReport aggregates the Phase 3 outcome.
type MergeReport struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	InputDir    string
	OutputPath  string
	DedupPolicy string
	Sources     []*MergeSource
	Sheets      []*MergedSheet
}

// SkippedSources counts workbooks that could not be read.
func (m *MergeReport) SkippedSources() int {
	n := 0
	for _, s := range m.Sources {
		if s.Skipped {
			n++
		}
	}
	return n
}

// SheetErrors counts individual sheets that could not be read from readable workbooks.
func (m *MergeReport) SheetErrors() int {
	n := 0
	for _, s := range m.Sources {
		for _, sh := range s.Sheets {
			if sh.Err != nil {
				n++
			}
		}
	}
	return n
}

// Status is error when nothing could be read, partial when anything was
// skipped, success otherwise.
func (m *MergeReport) Status() MergeStatus {
	skipped := m.SkippedSources()
	switch {
	case len(m.Sources) == 0 || skipped == len(m.Sources):
		return MergeErrored
	case skipped > 0 || m.SheetErrors() > 0:
		return MergePartial
	default:
		return MergeSucceeded
	}
}

// Message is the one-line summary written to the report and the log.
func (m *MergeReport) Message() string {
	merged := 0
	for _, s := range m.Sheets {
		if s.Status == SheetMerged {
			merged++
		}
	}
	return fmt.Sprintf("merged %d of %d sheets from %d file(s), %d skipped",
		merged, len(m.Sheets), len(m.Sources)-m.SkippedSources(), m.SkippedSources())
}
