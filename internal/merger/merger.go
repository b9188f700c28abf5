// =============================================================================
// Excel Workflow - Merger
// =============================================================================
//
// This module merges the processed workbooks of the batch phase into one
// final workbook (Phase 3) and writes the merge report.
//
// MERGE RULES:
//   - Inputs are the *<processed_suffix>.xlsx files of the output directory,
//     in file name order. Unreadable files are skipped and reported.
//   - Every known sheet is written to the final workbook, in registry
//     order. Rows from all inputs are stacked; the header is the union of
//     the input headers in first-seen order.
//   - With provenance enabled, 数据来源 is set to the processed file name
//     and 数据更新时间 to the run start time on every row.
//   - Duplicates are handled by the configured dedup policy (dedup.go).
//   - A sheet no input contributes rows to is still written, header only,
//     and reported as empty.
//
// =============================================================================

package merger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ginjaninja78/excelflow/internal/config"
	"github.com/ginjaninja78/excelflow/internal/logging"
	"github.com/ginjaninja78/excelflow/internal/report"
	"github.com/ginjaninja78/excelflow/internal/sheets"
	"github.com/ginjaninja78/excelflow/internal/types"
	"github.com/ginjaninja78/excelflow/internal/workbook"
	"github.com/ginjaninja78/excelflow/pkg/utils"
)

// ErrNoProcessedFiles is returned when the output directory holds no
// processed workbooks.
var ErrNoProcessedFiles = errors.New("no processed files found")

const timestampLayout = "2006-01-02 15:04:05"

// Merger runs Phase 3.
type Merger struct {
	cfg      *config.Config
	registry *sheets.Registry
	logger   *slog.Logger
}

// New creates a merger.
func New(cfg *config.Config, registry *sheets.Registry, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Merger{cfg: cfg, registry: registry, logger: logger}
}

// part is the contribution of one processed workbook to one sheet.
type part struct {
	file  string
	table *types.Table
}

// Run merges the processed workbooks of cfg.OutputDir into cfg.FinalPath()
// and writes the merge report next to it.
//
// RETURNS:
//   - The merge report. It is nil only when the merge could not start.
//   - An error for fatal conditions: missing directory, no processed files,
//     an unknown sheet selection, or a final workbook or report that cannot
//     be written.
func (m *Merger) Run(ctx context.Context) (*types.MergeReport, error) {
	log := m.logger.With("phase", 3)

	targets, err := m.registry.Select(m.cfg.Sheets)
	if err != nil {
		return nil, err
	}

	pattern := "*" + m.cfg.ProcessedSuffix + ".xlsx"
	paths, err := utils.DiscoverWorkbooks(m.cfg.OutputDir, pattern, m.cfg.BatchReportName)
	if err != nil {
		return nil, fmt.Errorf("failed to scan processed directory: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s matching %s", ErrNoProcessedFiles, m.cfg.OutputDir, pattern)
	}
	if err := os.MkdirAll(m.cfg.FinalDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create final directory: %w", err)
	}

	rep := &types.MergeReport{
		RunID:       logging.RunID(ctx),
		StartedAt:   time.Now(),
		InputDir:    m.cfg.OutputDir,
		OutputPath:  m.cfg.FinalPath(),
		DedupPolicy: m.cfg.Merge.DedupPolicy,
	}

	log.InfoContext(ctx, "merge started", "files", len(paths), "sheets", len(targets), "policy", rep.DedupPolicy)

	// =========================================================================
	// READ PROCESSED WORKBOOKS
	// =========================================================================

	parts := make(map[string][]part, len(targets))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return rep, fmt.Errorf("merge interrupted: %w", err)
		}
		src := m.readSource(ctx, log, path, targets, parts)
		rep.Sources = append(rep.Sources, src)
	}

	// =========================================================================
	// MERGE SHEETS
	// =========================================================================

	stamp := rep.StartedAt.Format(timestampLayout)
	tables := make([]*types.Table, 0, len(targets))
	for _, def := range targets {
		table, summary := m.mergeSheet(def, parts[def.Key], stamp)
		tables = append(tables, table)
		rep.Sheets = append(rep.Sheets, summary)

		if summary.Status == types.SheetEmpty {
			log.WarnContext(ctx, "no rows for sheet, writing header only", "sheet", def.Name)
			continue
		}
		log.InfoContext(ctx, "merged sheet", "sheet", def.Name, "files", summary.SourceFiles,
			"rows", summary.OutputRows, "duplicates", summary.Duplicates)
	}

	if err := workbook.Write(rep.OutputPath, tables); err != nil {
		log.ErrorContext(ctx, "failed to write final workbook", "error", err)
		return rep, fmt.Errorf("failed to write final workbook: %w", err)
	}
	rep.FinishedAt = time.Now()

	// =========================================================================
	// WRITE REPORT
	// =========================================================================

	reportPath := m.cfg.MergeReportPath()
	if err := report.WriteMerge(reportPath, rep); err != nil {
		log.ErrorContext(ctx, "failed to write merge report", "error", err)
		return rep, err
	}

	level := slog.LevelInfo
	if rep.Status() == types.MergeErrored {
		level = slog.LevelError
	}
	log.Log(ctx, level, "merge finished",
		"status", rep.Status(),
		"summary", rep.Message(),
		"output", rep.OutputPath,
		"report", reportPath,
		"duration", rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))

	return rep, nil
}

// readSource reads the target sheets of one processed workbook into parts.
func (m *Merger) readSource(ctx context.Context, log *slog.Logger, path string, targets []*sheets.Definition, parts map[string][]part) *types.MergeSource {
	src := &types.MergeSource{FileName: filepath.Base(path), Path: path}
	log = log.With("file", src.FileName)

	wb, err := workbook.Open(path)
	if err != nil {
		src.Skipped = true
		src.Err = err
		log.WarnContext(ctx, "skipping unreadable file", "error", err)
		return src
	}
	defer wb.Close()

	for _, def := range targets {
		if !wb.HasSheet(def.Name) {
			continue
		}
		table, err := wb.ReadTable(def.Name)
		if err != nil {
			src.Sheets = append(src.Sheets, types.SourceSheet{Sheet: def.Name, Err: err})
			log.WarnContext(ctx, "skipping unreadable sheet", "sheet", def.Name, "error", err)
			continue
		}
		src.Sheets = append(src.Sheets, types.SourceSheet{Sheet: def.Name, Rows: table.Len()})
		parts[def.Key] = append(parts[def.Key], part{file: src.FileName, table: table})
	}

	log.DebugContext(ctx, "read processed file", "sheets", len(src.Sheets))
	return src
}

// mergeSheet stacks the parts of one sheet and applies provenance and dedup.
func (m *Merger) mergeSheet(def *sheets.Definition, parts []part, stamp string) (*types.Table, *types.MergedSheet) {
	summary := &types.MergedSheet{Key: def.Key, Name: def.Name, SourceFiles: len(parts)}

	tables := make([]*types.Table, 0, len(parts))
	for _, p := range parts {
		t := p.table
		if m.cfg.Merge.Provenance() {
			t = t.Clone()
			fill(t, sheets.SourceColumn, p.file)
			fill(t, sheets.UpdatedColumn, stamp)
		}
		summary.InputRows += t.Len()
		tables = append(tables, t)
	}

	merged := types.Concat(def.Name, tables...)
	if len(parts) == 0 {
		merged = types.NewTable(def.Name, def.Columns)
		if m.cfg.Merge.Provenance() {
			merged.EnsureColumn(sheets.SourceColumn)
			merged.EnsureColumn(sheets.UpdatedColumn)
		}
	}

	summary.Duplicates = Dedupe(merged, m.cfg.Merge.DedupPolicy)
	summary.OutputRows = merged.Len()
	summary.Status = types.SheetMerged
	if merged.Len() == 0 {
		summary.Status = types.SheetEmpty
	}
	return merged, summary
}

// fill sets column name to value on every row, adding the column if needed.
func fill(t *types.Table, name, value string) {
	col := t.EnsureColumn(name)
	for _, row := range t.Rows {
		row[col] = value
	}
}
