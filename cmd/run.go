// =============================================================================
// Excel Workflow - Pipeline Runner
// =============================================================================
//
// This file wires the configuration, loggers and directory locks to the
// three phases and prints a summary table after each phase.
//
// LOCKING:
//   Phase 1 and Phase 2 lock the output directory; Phase 3 locks the final
//   directory. A second run against the same directory fails immediately
//   instead of interleaving writes.
//
// LOG FILES:
//   Phase 1 and Phase 2 append to <log_dir>/batch_process.log, Phase 3 to
//   <log_dir>/merge_results.log. Both share the run ID of this invocation.
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/google/uuid"

	"github.com/ginjaninja78/excelflow/internal/batch"
	"github.com/ginjaninja78/excelflow/internal/config"
	"github.com/ginjaninja78/excelflow/internal/converter"
	"github.com/ginjaninja78/excelflow/internal/logging"
	"github.com/ginjaninja78/excelflow/internal/merger"
	"github.com/ginjaninja78/excelflow/internal/sheets"
	"github.com/ginjaninja78/excelflow/internal/types"
	"github.com/ginjaninja78/excelflow/pkg/utils"
)

// runPipeline runs one phase, or Phase 2 followed by Phase 3 when phase is 0.
//
// PARAMETERS:
//   - ctx: Cancelled on SIGINT/SIGTERM
//   - cfg: The validated configuration
//   - phase: 0, 1, 2 or 3
//   - out: Where the summary tables are printed
//
// RETURNS:
//   - An error only for setup-level failures. Per-sheet and per-file
//     problems are reported in the report workbooks and the log.
func runPipeline(ctx context.Context, cfg *config.Config, phase int, out io.Writer) error {
	ctx = logging.WithRunID(ctx, uuid.NewString())

	// Only the directories the selected phases write to are created. Phase 3
	// reads the output directory and must not create it.
	fm := utils.NewFileManager(cfg.InputDir, cfg.OutputDir, cfg.FinalDir, cfg.LogDir)
	switch phase {
	case 1, 2:
		fm.FinalDir = ""
	case 3:
		fm.OutputDir = ""
	}
	if err := fm.EnsureDirectories(); err != nil {
		return err
	}

	registry := sheets.DefaultRegistry()

	switch phase {
	case 1:
		return runSingle(ctx, cfg, registry, out)
	case 2:
		return runBatch(ctx, cfg, registry, out)
	case 3:
		return runMerge(ctx, cfg, registry, out)
	}

	if err := runBatch(ctx, cfg, registry, out); err != nil {
		return err
	}
	return runMerge(ctx, cfg, registry, out)
}

// =============================================================================
// PHASE 1
// =============================================================================

func runSingle(ctx context.Context, cfg *config.Config, registry *sheets.Registry, out io.Writer) error {
	source := cfg.InputDir
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("%w: input workbook: %w", config.ErrInvalidConfig, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: --phase 1 needs --input to name a workbook file, %s is a directory", config.ErrInvalidConfig, source)
	}

	logger, closer, err := openLogger(cfg, cfg.BatchLogPath())
	if err != nil {
		return err
	}
	defer closer.Close()

	lock, err := utils.LockDir(cfg.OutputDir)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	log := logger.With("phase", 1)
	conv, err := converter.New(cfg, registry, log)
	if err != nil {
		return err
	}

	log.InfoContext(ctx, "processing single workbook", "file", source, "output_dir", cfg.OutputDir)
	result := conv.Run(ctx, source, cfg.OutputDir)

	printFileResult(out, result)
	if result.Err != nil {
		return fmt.Errorf("failed to process %s: %w", result.FileName, result.Err)
	}
	return nil
}

func printFileResult(out io.Writer, r *types.FileResult) {
	rows := make([][]string, 0, len(r.Sheets))
	for _, s := range r.Sheets {
		rows = append(rows, []string{s.Name, string(s.Status), strconv.Itoa(s.Rows), s.Note()})
	}
	fmt.Fprintln(out, renderTable(out,
		[]string{"Sheet", "Status", "Rows", "Note"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))

	fmt.Fprintf(out, "%s: %s", r.FileName, r.Status())
	if r.OutputPath != "" {
		fmt.Fprintf(out, " -> %s", r.OutputPath)
	}
	fmt.Fprintln(out)
}

// =============================================================================
// PHASE 2
// =============================================================================

func runBatch(ctx context.Context, cfg *config.Config, registry *sheets.Registry, out io.Writer) error {
	logger, closer, err := openLogger(cfg, cfg.BatchLogPath())
	if err != nil {
		return err
	}
	defer closer.Close()

	lock, err := utils.LockDir(cfg.OutputDir)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	conv, err := converter.New(cfg, registry, logger.With("phase", 2))
	if err != nil {
		return err
	}

	rep, err := batch.New(cfg, conv, logger).Run(ctx)
	if rep != nil {
		printBatchReport(out, cfg, rep)
	}
	return err
}

func printBatchReport(out io.Writer, cfg *config.Config, rep *types.BatchReport) {
	rows := make([][]string, 0, len(rep.Files))
	for _, f := range rep.Files {
		note := ""
		if f.Err != nil {
			note = f.Err.Error()
		}
		rows = append(rows, []string{
			f.FileName,
			string(f.Status()),
			strconv.Itoa(f.Count(types.SheetSucceeded)),
			strconv.Itoa(f.Count(types.SheetMissing)),
			strconv.Itoa(f.Count(types.SheetFailed)),
			note,
		})
	}
	fmt.Fprintln(out, renderTable(out,
		[]string{"File", "Status", "OK", "Missing", "Failed", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft}))

	t := rep.Totals()
	fmt.Fprintf(out, "Batch: %d file(s), %d succeeded, %d partial, %d failed, %d error (%.2f%%)\n",
		t.Files, t.Succeeded, t.Partial, t.Failed, t.Errored, rep.SuccessRate())
	fmt.Fprintf(out, "Report: %s\n", cfg.BatchReportPath())
}

// =============================================================================
// PHASE 3
// =============================================================================

func runMerge(ctx context.Context, cfg *config.Config, registry *sheets.Registry, out io.Writer) error {
	logger, closer, err := openLogger(cfg, cfg.MergeLogPath())
	if err != nil {
		return err
	}
	defer closer.Close()

	lock, err := utils.LockDir(cfg.FinalDir)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	rep, err := merger.New(cfg, registry, logger).Run(ctx)
	if rep != nil && rep.FinishedAt.After(rep.StartedAt) {
		printMergeReport(out, cfg, rep)
	}
	return err
}

func printMergeReport(out io.Writer, cfg *config.Config, rep *types.MergeReport) {
	rows := make([][]string, 0, len(rep.Sheets))
	for _, s := range rep.Sheets {
		rows = append(rows, []string{
			s.Name,
			string(s.Status),
			strconv.Itoa(s.SourceFiles),
			strconv.Itoa(s.OutputRows),
			strconv.Itoa(s.Duplicates),
		})
	}
	fmt.Fprintln(out, renderTable(out,
		[]string{"Sheet", "Status", "Files", "Rows", "Duplicates"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight}))

	fmt.Fprintf(out, "Merge: %s (%s)\n", rep.Status(), rep.Message())
	fmt.Fprintf(out, "Final: %s\n", rep.OutputPath)
	fmt.Fprintf(out, "Report: %s\n", cfg.MergeReportPath())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// openLogger opens the append-only log file at path, mirrored to stderr.
func openLogger(cfg *config.Config, path string) (*slog.Logger, io.Closer, error) {
	return logging.New(logging.Options{Level: cfg.LogLevel, FilePath: path})
}
