// =============================================================================
// Excel Workflow - Validation Engine
// =============================================================================
//
// This module checks every output sheet before it is written. Issues are
// collected, not returned one at a time, and each carries a severity:
//   - "error"   : the sheet is structurally broken and is marked failed
//   - "warning" : the sheet is written; the issue is counted and logged
//
// CHECKS:
//   Header-level:
//     - Duplicate column names (error)
//     - Placeholder names for blank headers, e.g. 列3 (warning)
//     - Expected category columns that are absent (warning)
//   Row-level:
//     - Rows wider than the header (error)
//     - Date cells that could not be normalised (warning)
//     - Empty patient ID (warning)
//     - Age cells with no leading number (warning)
//
// =============================================================================

package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ginjaninja78/excelflow/internal/sheets"
	"github.com/ginjaninja78/excelflow/internal/types"
)

// Severity levels.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

const (
	patientIDColumn = "患者ID"
	ageColumn       = "年龄"
)

var placeholderColumn = regexp.MustCompile(`^列\d+$`)

// =============================================================================
// VALIDATION ERROR TYPES
// =============================================================================

// ValidationError represents a single validation issue.
type ValidationError struct {
	// Severity is SeverityError or SeverityWarning.
	Severity string

	// Sheet is the output sheet name.
	Sheet string

	// Field is the column the issue was found in. Empty for sheet-level issues.
	Field string

	// Value is the offending cell value, if any.
	Value string

	// Rule is the check that was violated.
	Rule string

	// Message is a human-readable error message.
	Message string

	// RowNumber is the 1-based data row (the header is row 0).
	RowNumber int
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	loc := e.Sheet
	if e.RowNumber > 0 {
		loc = fmt.Sprintf("%s row %d", loc, e.RowNumber)
	}
	if e.Field != "" {
		loc = fmt.Sprintf("%s, field '%s'", loc, e.Field)
	}
	msg := fmt.Sprintf("[%s] %s: %s", strings.ToUpper(e.Severity), loc, e.Message)
	if e.Value != "" {
		msg += fmt.Sprintf(" (value: '%s')", e.Value)
	}
	return msg
}

// =============================================================================
// VALIDATION RESULT
// =============================================================================

// ValidationResult contains the results of validating one sheet.
type ValidationResult struct {
	// IsValid is true if there are no errors of severity "error".
	IsValid bool

	// Errors contains the reported issues, warnings included, up to the
	// configured limit.
	Errors []*ValidationError

	// ErrorCount is the number of errors, including unreported ones.
	ErrorCount int

	// WarningCount is the number of warnings, including unreported ones.
	WarningCount int

	// RowsValidated is the number of data rows checked.
	RowsValidated int
}

// FirstError returns the first issue of severity "error", or nil.
func (r *ValidationResult) FirstError() *ValidationError {
	for _, e := range r.Errors {
		if e.Severity == SeverityError {
			return e
		}
	}
	return nil
}

// =============================================================================
// VALIDATOR
// =============================================================================

// ValidationOptions contains options for validation.
type ValidationOptions struct {
	// TreatWarningsAsErrors makes any warning invalidate the sheet.
	// Default: false
	TreatWarningsAsErrors bool

	// MaxReported caps the number of issues kept in ValidationResult.Errors.
	// Counts are always complete. Zero means unlimited.
	// Default: 50
	MaxReported int
}

// DefaultValidationOptions returns the default validation options.
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{MaxReported: 50}
}

// Validator checks output sheets.
type Validator struct {
	options ValidationOptions
}

// NewValidator creates a Validator with the default options.
func NewValidator() *Validator {
	return &Validator{options: DefaultValidationOptions()}
}

// NewValidatorWithOptions creates a Validator with custom options.
func NewValidatorWithOptions(options ValidationOptions) *Validator {
	return &Validator{options: options}
}

// =============================================================================
// MAIN VALIDATION FUNCTION
// =============================================================================

// ValidateTable validates one output sheet.
//
// PARAMETERS:
//   - def: The definition the sheet was produced from. Its Columns are the
//     expected category columns (categories only).
//   - t: The table about to be written.
//
// RETURNS:
//   - The validation result. IsValid is false when the sheet must not be
//     written.
func (v *Validator) ValidateTable(def *sheets.Definition, t *types.Table) *ValidationResult {
	result := &ValidationResult{IsValid: true, RowsValidated: t.Len()}
	add := func(e *ValidationError) {
		e.Sheet = t.Name
		if e.Severity == SeverityError {
			result.ErrorCount++
			result.IsValid = false
		} else {
			result.WarningCount++
			if v.options.TreatWarningsAsErrors {
				result.IsValid = false
			}
		}
		if v.options.MaxReported == 0 || len(result.Errors) < v.options.MaxReported {
			result.Errors = append(result.Errors, e)
		}
	}

	validateHeader(def, t, add)
	validateRows(t, add)
	return result
}

// validateHeader checks column names.
func validateHeader(def *sheets.Definition, t *types.Table, add func(*ValidationError)) {
	seen := make(map[string]bool, len(t.Header))
	for _, h := range t.Header {
		if seen[h] {
			add(&ValidationError{
				Severity: SeverityError,
				Field:    h,
				Rule:     "unique_header",
				Message:  fmt.Sprintf("Column '%s' appears more than once", h),
			})
		}
		seen[h] = true

		if h == "" || placeholderColumn.MatchString(h) {
			add(&ValidationError{
				Severity: SeverityWarning,
				Field:    h,
				Rule:     "named_header",
				Message:  "Column has no header in the source sheet",
			})
		}
	}

	if def == nil || def.Kind != sheets.KindCategory {
		return
	}
	for _, col := range def.Columns {
		if !seen[col] {
			add(&ValidationError{
				Severity: SeverityWarning,
				Field:    col,
				Rule:     "expected_column",
				Message:  fmt.Sprintf("Expected column '%s' is missing", col),
			})
		}
	}
}

// validateRows checks cell values.
func validateRows(t *types.Table, add func(*ValidationError)) {
	var dateCols []int
	for i, h := range t.Header {
		if sheets.IsDateColumn(h) {
			dateCols = append(dateCols, i)
		}
	}
	idCol := t.ColumnIndex(patientIDColumn)
	ageCol := t.ColumnIndex(ageColumn)

	for r, row := range t.Rows {
		rowNumber := r + 1

		if len(row) > len(t.Header) {
			add(&ValidationError{
				Severity:  SeverityError,
				Rule:      "row_width",
				Message:   fmt.Sprintf("Row has %d cells but the header has %d columns", len(row), len(t.Header)),
				RowNumber: rowNumber,
			})
			continue
		}

		for _, c := range dateCols {
			if value := types.Cell(row, c); value != "" && !sheets.IsNormalizedDate(value) {
				add(&ValidationError{
					Severity:  SeverityWarning,
					Field:     t.Header[c],
					Value:     value,
					Rule:      "date",
					Message:   "Value is not a recognised date",
					RowNumber: rowNumber,
				})
			}
		}

		if idCol >= 0 && types.Cell(row, idCol) == "" {
			add(&ValidationError{
				Severity:  SeverityWarning,
				Field:     patientIDColumn,
				Rule:      "required",
				Message:   "Patient ID is empty",
				RowNumber: rowNumber,
			})
		}

		if ageCol >= 0 {
			if value := types.Cell(row, ageCol); value != "" {
				if _, ok := sheets.ParseAge(value); !ok {
					add(&ValidationError{
						Severity:  SeverityWarning,
						Field:     ageColumn,
						Value:     value,
						Rule:      "numeric",
						Message:   "Age is not a number",
						RowNumber: rowNumber,
					})
				}
			}
		}
	}
}

// =============================================================================
// ERROR FORMATTING
// =============================================================================

// FormatErrors formats validation errors for display or logging.
//
// PARAMETERS:
//   - errors: The validation errors to format.
//
// RETURNS:
//   - A formatted string containing all errors.
func FormatErrors(errors []*ValidationError) string {
	if len(errors) == 0 {
		return "No validation errors."
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Validation completed with %d issue(s):\n", len(errors)))
	for i, err := range errors {
		builder.WriteString(fmt.Sprintf("%d. %s\n", i+1, err.Error()))
	}
	return builder.String()
}
