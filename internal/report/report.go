// Package report renders the batch and merge reports as workbooks.
//
// Batch report sheets:
//   - Summary: run metadata and totals, one field per row
//   - Files:   one row per source workbook
//   - Details: one row per source workbook and target sheet
//
// Merge report sheets:
//   - Summary: run metadata, status and totals
//   - Sources: one row per processed workbook and sheet it contributed
//   - Sheets:  one row per sheet of the final workbook
package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ginjaninja78/excelflow/internal/types"
	"github.com/ginjaninja78/excelflow/internal/workbook"
)

const timeLayout = "2006-01-02 15:04:05"

var fieldHeader = []string{"Field", "Value"}

// =============================================================================
// BATCH REPORT
// =============================================================================

// WriteBatch writes the batch report workbook to path.
func WriteBatch(path string, r *types.BatchReport) error {
	if err := workbook.Write(path, BatchTables(r)); err != nil {
		return fmt.Errorf("failed to write batch report: %w", err)
	}
	return nil
}

// BatchTables builds the sheets of the batch report.
func BatchTables(r *types.BatchReport) []*types.Table {
	totals := r.Totals()

	summary := types.NewTable("Summary", fieldHeader)
	addField(summary, "Run ID", r.RunID)
	addField(summary, "Started", formatTime(r.StartedAt))
	addField(summary, "Finished", formatTime(r.FinishedAt))
	addField(summary, "Duration (s)", seconds(r.FinishedAt.Sub(r.StartedAt)))
	addField(summary, "Input directory", r.InputDir)
	addField(summary, "Output directory", r.OutputDir)
	addField(summary, "Sheets", strings.Join(r.Sheets, ", "))
	addField(summary, "Total files", strconv.Itoa(totals.Files))
	addField(summary, "Processed", strconv.Itoa(totals.Processed))
	addField(summary, "Succeeded", strconv.Itoa(totals.Succeeded))
	addField(summary, "Partial", strconv.Itoa(totals.Partial))
	addField(summary, "Failed", strconv.Itoa(totals.Failed))
	addField(summary, "Errors", strconv.Itoa(totals.Errored))
	addField(summary, "Success rate", fmt.Sprintf("%.2f%%", r.SuccessRate()))

	files := types.NewTable("Files", []string{
		"File", "Status", "Succeeded sheets", "Missing sheets", "Failed sheets", "Rows", "Output", "Duration (s)", "Error",
	})
	details := types.NewTable("Details", []string{"File", "Sheet", "Status", "Rows", "Warnings", "Note"})

	for _, f := range r.Files {
		rows := 0
		for _, s := range f.Sheets {
			rows += s.Rows
		}
		files.AppendRecord(map[string]string{
			"File":             f.FileName,
			"Status":           string(f.Status()),
			"Succeeded sheets": strconv.Itoa(f.Count(types.SheetSucceeded)),
			"Missing sheets":   strconv.Itoa(f.Count(types.SheetMissing)),
			"Failed sheets":    strconv.Itoa(f.Count(types.SheetFailed)),
			"Rows":             strconv.Itoa(rows),
			"Output":           f.OutputPath,
			"Duration (s)":     seconds(f.Duration),
			"Error":            errString(f.Err),
		})

		if f.Err != nil && len(f.Sheets) == 0 {
			for _, sheet := range r.Sheets {
				details.AppendRow([]string{f.FileName, sheet, string(types.FileErrored), "0", "0", errString(f.Err)})
			}
			continue
		}
		for _, s := range f.Sheets {
			details.AppendRow([]string{
				f.FileName, s.Name, string(s.Status), strconv.Itoa(s.Rows), strconv.Itoa(s.Warnings), s.Note(),
			})
		}
	}

	return []*types.Table{summary, files, details}
}

// =============================================================================
// MERGE REPORT
// =============================================================================

// WriteMerge writes the merge report workbook to path.
func WriteMerge(path string, r *types.MergeReport) error {
	if err := workbook.Write(path, MergeTables(r)); err != nil {
		return fmt.Errorf("failed to write merge report: %w", err)
	}
	return nil
}

// MergeTables builds the sheets of the merge report.
func MergeTables(r *types.MergeReport) []*types.Table {
	var merged, empty, outRows, dupes int
	for _, s := range r.Sheets {
		if s.Status == types.SheetMerged {
			merged++
		} else {
			empty++
		}
		outRows += s.OutputRows
		dupes += s.Duplicates
	}

	summary := types.NewTable("Summary", fieldHeader)
	addField(summary, "Run ID", r.RunID)
	addField(summary, "Started", formatTime(r.StartedAt))
	addField(summary, "Finished", formatTime(r.FinishedAt))
	addField(summary, "Status", string(r.Status()))
	addField(summary, "Message", r.Message())
	addField(summary, "Input directory", r.InputDir)
	addField(summary, "Output file", r.OutputPath)
	addField(summary, "Dedup policy", r.DedupPolicy)
	addField(summary, "Source files", strconv.Itoa(len(r.Sources)))
	addField(summary, "Files read", strconv.Itoa(len(r.Sources)-r.SkippedSources()))
	addField(summary, "Files skipped", strconv.Itoa(r.SkippedSources()))
	addField(summary, "Sheets merged", strconv.Itoa(merged))
	addField(summary, "Sheets empty", strconv.Itoa(empty))
	addField(summary, "Total rows", strconv.Itoa(outRows))
	addField(summary, "Duplicates removed", strconv.Itoa(dupes))

	sources := types.NewTable("Sources", []string{"File", "Sheet", "Rows", "Status", "Note"})
	for _, src := range r.Sources {
		if src.Skipped {
			sources.AppendRow([]string{src.FileName, "", "0", "skipped", errString(src.Err)})
			continue
		}
		if len(src.Sheets) == 0 {
			sources.AppendRow([]string{src.FileName, "", "0", "no known sheets", ""})
			continue
		}
		for _, sh := range src.Sheets {
			status := "read"
			if sh.Err != nil {
				status = "error"
			}
			sources.AppendRow([]string{src.FileName, sh.Sheet, strconv.Itoa(sh.Rows), status, errString(sh.Err)})
		}
	}

	sheets := types.NewTable("Sheets", []string{"Sheet", "Status", "Source files", "Input rows", "Output rows", "Duplicates removed"})
	for _, s := range r.Sheets {
		sheets.AppendRow([]string{
			s.Name,
			string(s.Status),
			strconv.Itoa(s.SourceFiles),
			strconv.Itoa(s.InputRows),
			strconv.Itoa(s.OutputRows),
			strconv.Itoa(s.Duplicates),
		})
	}

	return []*types.Table{summary, sources, sheets}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func addField(t *types.Table, name, value string) {
	t.AppendRow([]string{name, value})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeLayout)
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 2, 64)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
