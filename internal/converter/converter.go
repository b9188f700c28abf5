// =============================================================================
// Excel Workflow - Converter Module
// =============================================================================
//
// This module processes a single source workbook (Phase 1). It is also the
// unit of work of the batch phase, which runs one Converter call per file.
//
// CONVERSION PIPELINE (per target sheet, in registry order):
//   1. Load the source sheets the target needs (read once, normalised, cached)
//   2. Run the target's built-in transform
//   3. Apply the configured transformation rules for the target
//   4. Validate the result
//   5. Collect it for the output workbook
//
// Then, if at least one target succeeded, the output workbook is written
// atomically to <output>/<stem><processed_suffix>.xlsx.
//
// ERROR HANDLING:
//   - Unreadable workbook: the file result carries the error, nothing is
//     written, the caller moves on to the next file
//   - Missing source sheet: the target is recorded as missing
//   - Read, transform, rule or validation failure (or a panic in a
//     transform): the target is recorded as failed with a *SheetError
//   Other targets are unaffected in every case.
//
// CONCURRENCY:
//   A Converter holds no per-file state, so one instance can serve many
//   goroutines at once.
//
// =============================================================================

package converter

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
	"github.com/ginjaninja78/excelflow/internal/sheets"
	"github.com/ginjaninja78/excelflow/internal/types"
	"github.com/ginjaninja78/excelflow/internal/validation"
	"github.com/ginjaninja78/excelflow/internal/workbook"
	"github.com/ginjaninja78/excelflow/pkg/utils"
)

// ErrValidation marks a sheet rejected by validation.
var ErrValidation = errors.New("validation failed")

// Stages reported in SheetError.
const (
	StageRead      = "read"
	StageTransform = "transform"
	StageRules     = "rules"
	StageValidate  = "validate"
)

// SheetError describes why one target sheet failed.
type SheetError struct {
	// Sheet is the output sheet name.
	Sheet string

	// Stage is one of the Stage constants.
	Stage string

	Err error
}

func (e *SheetError) Error() string {
	return fmt.Sprintf("sheet '%s' failed at %s: %v", e.Sheet, e.Stage, e.Err)
}

func (e *SheetError) Unwrap() error {
	return e.Err
}

// =============================================================================
// CONVERTER STRUCTURE
// =============================================================================

// Converter turns source workbooks into processed workbooks.
type Converter struct {
	registry *sheets.Registry

	// targets are the selected definitions, in registry order.
	targets []*sheets.Definition

	// transformers holds the compiled rules per sheet key.
	transformers map[string]*Transformer

	validator *validation.Validator
	suffix    string
	logger    *slog.Logger
}

// =============================================================================
// CONSTRUCTOR
// =============================================================================

// New creates a Converter for the sheets selected in cfg.
//
// PARAMETERS:
//   - cfg: The validated configuration. Sheets selects the targets (empty
//     means all); TransformationRules are compiled here.
//   - registry: The known sheets.
//   - logger: Receives per-file and per-sheet records. Nil discards them.
//
// RETURNS:
//   - The converter.
//   - An error wrapping sheets.ErrUnknownSheet for an unknown selection, or
//     config.ErrInvalidConfig for rules naming an unknown sheet or holding a
//     bad regular expression.
func New(cfg *config.Config, registry *sheets.Registry, logger *slog.Logger) (*Converter, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	targets, err := registry.Select(cfg.Sheets)
	if err != nil {
		return nil, err
	}

	transformers := make(map[string]*Transformer, len(cfg.TransformationRules))
	for ref, rules := range cfg.TransformationRules {
		def, ok := registry.Lookup(ref)
		if !ok {
			return nil, fmt.Errorf("%w: transformation_rules: %w: %q", config.ErrInvalidConfig, sheets.ErrUnknownSheet, ref)
		}
		t, err := NewTransformer(rules)
		if err != nil {
			return nil, fmt.Errorf("%w: transformation_rules.%s: %v", config.ErrInvalidConfig, ref, err)
		}
		if prev, ok := transformers[def.Key]; ok {
			t.rules = append(append([]config.TransformationRule(nil), prev.rules...), t.rules...)
			for k, v := range prev.patterns {
				t.patterns[k] = v
			}
		}
		transformers[def.Key] = t
	}

	validator := validation.NewValidator()
	if cfg.StrictValidation {
		opts := validation.DefaultValidationOptions()
		opts.TreatWarningsAsErrors = true
		validator = validation.NewValidatorWithOptions(opts)
	}

	return &Converter{
		registry:     registry,
		targets:      targets,
		transformers: transformers,
		validator:    validator,
		suffix:       cfg.ProcessedSuffix,
		logger:       logger,
	}, nil
}

// Targets returns the selected sheet names in output order.
func (c *Converter) Targets() []string {
	names := make([]string, len(c.targets))
	for i, d := range c.targets {
		names[i] = d.Name
	}
	return names
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

// Run processes one source workbook and writes its processed workbook into
// outputDir.
//
// RETURNS:
//   - The file result. It is never nil; file-level failures are in its Err
//     field and sheet-level failures in its Sheets.
//
// A cancelled context stops the file before it is opened. Once a file has
// been opened it is processed to the end.
func (c *Converter) Run(ctx context.Context, sourcePath, outputDir string) *types.FileResult {
	start := time.Now()
	result := &types.FileResult{FileName: filepath.Base(sourcePath), SourcePath: sourcePath}
	defer func() { result.Duration = time.Since(start) }()

	log := c.logger.With("file", result.FileName)

	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}

	// =========================================================================
	// STEP 1: OPEN THE WORKBOOK
	// =========================================================================

	wb, err := workbook.Open(sourcePath)
	if err != nil {
		result.Err = err
		log.ErrorContext(ctx, "failed to open workbook", "error", err)
		return result
	}
	defer wb.Close()

	log.DebugContext(ctx, "opened workbook", "sheets", wb.SheetNames())

	// =========================================================================
	// STEP 2: PROCESS EACH TARGET SHEET
	// =========================================================================

	src := &sourceSheets{wb: wb, registry: c.registry, tables: make(map[string]*types.Table)}
	var tables []*types.Table
	for _, def := range c.targets {
		outcome, table := c.processSheet(ctx, log, src, def)
		result.Sheets = append(result.Sheets, outcome)
		if table != nil {
			tables = append(tables, table)
		}
	}

	if len(tables) == 0 {
		log.WarnContext(ctx, "no sheet succeeded, output not written",
			"missing", result.Count(types.SheetMissing), "failed", result.Count(types.SheetFailed))
		return result
	}

	// =========================================================================
	// STEP 3: WRITE THE OUTPUT WORKBOOK
	// =========================================================================

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		result.Err = fmt.Errorf("failed to create output directory: %w", err)
		log.ErrorContext(ctx, "failed to write output", "error", result.Err)
		return result
	}

	outputPath := filepath.Join(outputDir, utils.ProcessedFileName(sourcePath, c.suffix))
	if err := workbook.Write(outputPath, tables); err != nil {
		result.Err = fmt.Errorf("failed to write output: %w", err)
		log.ErrorContext(ctx, "failed to write output", "error", err)
		return result
	}
	result.OutputPath = outputPath

	log.InfoContext(ctx, "processed workbook",
		"status", result.Status(),
		"succeeded", result.Count(types.SheetSucceeded),
		"missing", result.Count(types.SheetMissing),
		"failed", result.Count(types.SheetFailed),
		"output", outputPath,
		"duration", time.Since(start).Round(time.Millisecond))

	return result
}

// processSheet produces one target sheet. The returned table is nil unless
// the outcome is success.
func (c *Converter) processSheet(ctx context.Context, log *slog.Logger, src *sourceSheets, def *sheets.Definition) (types.SheetOutcome, *types.Table) {
	outcome := types.SheetOutcome{Key: def.Key, Name: def.Name}
	log = log.With("sheet", def.Name)

	fail := func(stage string, err error) (types.SheetOutcome, *types.Table) {
		outcome.Status = types.SheetFailed
		outcome.Err = &SheetError{Sheet: def.Name, Stage: stage, Err: err}
		log.ErrorContext(ctx, "sheet failed", "stage", stage, "error", err)
		return outcome, nil
	}

	inputs, missing, err := src.load(ctx, log, def.Sources)
	if err != nil {
		return fail(StageRead, err)
	}
	if len(missing) > 0 {
		outcome.Status = types.SheetMissing
		outcome.Missing = missing
		log.WarnContext(ctx, "missing source sheet, skipped", "missing", missing)
		return outcome, nil
	}

	table, err := runTransform(def, inputs)
	if err != nil {
		return fail(StageTransform, err)
	}
	table.Name = def.Name

	if t := c.transformers[def.Key]; !t.Empty() {
		skipped, err := t.ApplyTable(table)
		if len(skipped) > 0 {
			log.WarnContext(ctx, "transformation rule fields not in sheet", "fields", skipped)
		}
		if err != nil {
			return fail(StageRules, err)
		}
	}

	res := c.validator.ValidateTable(def, table)
	if !res.IsValid {
		log.DebugContext(ctx, "validation report", "report", validation.FormatErrors(res.Errors))
		first := res.FirstError()
		if first == nil {
			return fail(StageValidate, fmt.Errorf("%w: %d warning(s)", ErrValidation, res.WarningCount))
		}
		return fail(StageValidate, fmt.Errorf("%w: %s", ErrValidation, first.Message))
	}

	for _, issue := range res.Errors {
		log.DebugContext(ctx, "validation issue", "issue", issue.Error())
	}

	outcome.Status = types.SheetSucceeded
	outcome.Rows = table.Len()
	outcome.Warnings = res.WarningCount
	log.DebugContext(ctx, "sheet processed", "rows", outcome.Rows, "warnings", outcome.Warnings)
	return outcome, table
}

// runTransform calls the definition's transform, turning a panic into an error.
func runTransform(def *sheets.Definition, in sheets.Inputs) (table *types.Table, err error) {
	defer func() {
		if r := recover(); r != nil {
			table, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	table, err = def.Transform(in)
	if err == nil && table == nil {
		err = errors.New("transform returned no table")
	}
	return table, err
}

// =============================================================================
// SOURCE SHEETS
// =============================================================================

// sourceSheets reads and normalises each category sheet of one workbook at
// most once.
type sourceSheets struct {
	wb       *workbook.Workbook
	registry *sheets.Registry

	// tables holds normalised sheets by category key; a nil entry means the
	// sheet is absent.
	tables map[string]*types.Table
}

// load returns the normalised inputs for the given category keys and the
// names of the source sheets that are absent.
func (s *sourceSheets) load(ctx context.Context, log *slog.Logger, keys []string) (sheets.Inputs, []string, error) {
	inputs := make(sheets.Inputs, len(keys))
	var missing []string

	for _, key := range keys {
		name := s.registry.SourceName(key)

		table, seen := s.tables[key]
		if !seen {
			if s.wb.HasSheet(name) {
				raw, err := s.wb.ReadTable(name)
				if err != nil {
					return nil, nil, err
				}
				var bad int
				table, bad = sheets.Normalize(raw)
				if bad > 0 {
					log.DebugContext(ctx, "unparseable date cells kept as-is", "source", name, "cells", bad)
				}
			}
			s.tables[key] = table
		}

		if table == nil {
			missing = append(missing, name)
			continue
		}
		inputs[key] = table
	}
	return inputs, missing, nil
}
