// =============================================================================
// Excel Workflow - Batch Processor
// =============================================================================
//
// This module runs the single-file processor over every workbook in the
// input directory (Phase 2) and writes the batch report.
//
// WORKERS:
//   Up to max_concurrency files are processed at once. Each worker owns its
//   file from open to write and stores its result in the slot of that file,
//   so no locking is needed. The report is sorted by file name once all
//   workers are done.
//
// ERRORS:
//   - Missing input directory or no matching files: fatal, nothing is written
//   - Per-file and per-sheet problems: recorded in the report, never fatal
//   - Cancellation: files not yet started are recorded with the context
//     error; the report is still written and the error is returned
//
// =============================================================================

package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ginjaninja78/excelflow/internal/config"
	"github.com/ginjaninja78/excelflow/internal/logging"
	"github.com/ginjaninja78/excelflow/internal/report"
	"github.com/ginjaninja78/excelflow/internal/types"
	"github.com/ginjaninja78/excelflow/pkg/utils"
)

// ErrNoInputFiles is returned when the input directory holds no workbooks.
var ErrNoInputFiles = errors.New("no input files found")

// FileProcessor processes one source workbook. It is satisfied by
// *converter.Converter.
type FileProcessor interface {
	Run(ctx context.Context, sourcePath, outputDir string) *types.FileResult
	Targets() []string
}

// Processor runs Phase 2.
type Processor struct {
	cfg    *config.Config
	files  FileProcessor
	logger *slog.Logger
}

// New creates a batch processor.
func New(cfg *config.Config, files FileProcessor, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Processor{cfg: cfg, files: files, logger: logger}
}

// Run processes every workbook in cfg.InputDir into cfg.OutputDir and
// writes the batch report.
//
// RETURNS:
//   - The report. It is nil only when the run could not start.
//   - An error for fatal conditions: missing input directory, no input
//     files, a report that cannot be written, or cancellation.
func (p *Processor) Run(ctx context.Context) (*types.BatchReport, error) {
	log := p.logger.With("phase", 2)

	paths, err := utils.DiscoverWorkbooks(p.cfg.InputDir, p.cfg.InputPattern, p.cfg.BatchReportName)
	if err != nil {
		return nil, fmt.Errorf("failed to scan input directory: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s matching %s", ErrNoInputFiles, p.cfg.InputDir, p.cfg.InputPattern)
	}

	if err := os.MkdirAll(p.cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	rep := &types.BatchReport{
		RunID:     logging.RunID(ctx),
		StartedAt: time.Now(),
		InputDir:  p.cfg.InputDir,
		OutputDir: p.cfg.OutputDir,
		Sheets:    p.files.Targets(),
		Files:     make([]*types.FileResult, len(paths)),
	}

	log.InfoContext(ctx, "batch started",
		"files", len(paths), "workers", p.cfg.MaxConcurrency, "input", p.cfg.InputDir, "output", p.cfg.OutputDir)

	// =========================================================================
	// PROCESS FILES
	// =========================================================================

	var g errgroup.Group
	g.SetLimit(p.cfg.MaxConcurrency)
	for i, path := range paths {
		g.Go(func() error {
			result := p.files.Run(ctx, path, p.cfg.OutputDir)
			rep.Files[i] = result
			logFile(ctx, log, result)
			return nil
		})
	}
	_ = g.Wait()

	rep.FinishedAt = time.Now()
	rep.SortFiles()

	// =========================================================================
	// WRITE REPORT
	// =========================================================================

	reportPath := filepath.Join(p.cfg.OutputDir, p.cfg.BatchReportName)
	if err := report.WriteBatch(reportPath, rep); err != nil {
		log.ErrorContext(ctx, "failed to write batch report", "error", err)
		return rep, err
	}

	totals := rep.Totals()
	log.InfoContext(ctx, "batch finished",
		"files", totals.Files,
		"succeeded", totals.Succeeded,
		"partial", totals.Partial,
		"failed", totals.Failed,
		"errors", totals.Errored,
		"success_rate", fmt.Sprintf("%.2f%%", rep.SuccessRate()),
		"report", reportPath,
		"duration", rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))

	if err := ctx.Err(); err != nil {
		return rep, fmt.Errorf("batch interrupted: %w", err)
	}
	return rep, nil
}

func logFile(ctx context.Context, log *slog.Logger, r *types.FileResult) {
	if r.Err != nil {
		log.ErrorContext(ctx, "file skipped", "file", r.FileName, "error", r.Err)
		return
	}
	log.InfoContext(ctx, "file done", "file", r.FileName, "status", r.Status(),
		"duration", r.Duration.Round(time.Millisecond))
}
