// =============================================================================
// Excel Workflow - Configuration Module
// =============================================================================
//
// This module loads the workflow configuration. Every setting has a default,
// so the tool runs without a config file at all.
//
// PRECEDENCE (lowest to highest):
//   1. Built-in defaults (Default)
//   2. YAML config file (config.yaml or --config)
//   3. Environment variables prefixed EXCELFLOW_ (e.g. EXCELFLOW_INPUT_DIR,
//      EXCELFLOW_MERGE_DEDUP_POLICY)
//   4. Command-line flags (applied by the cmd package)
//
// The result is validated with struct tags before use. An invalid
// configuration is a fatal error for the run.
//
// =============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "EXCELFLOW"

// ErrInvalidConfig wraps every configuration loading or validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Dedup policies for the merge phase.
const (
	DedupKeepAll   = "keep_all"
	DedupFirstByID = "first_by_id"
	DedupExact     = "drop_exact"
)

// =============================================================================
// MAIN CONFIGURATION STRUCTURE
// =============================================================================

// Config holds the workflow configuration.
type Config struct {
	// =========================================================================
	// DIRECTORY SETTINGS
	// =========================================================================

	// InputDir holds the source workbooks for the batch phase.
	// Default: "input"
	InputDir string `yaml:"input_dir" envconfig:"INPUT_DIR" validate:"required"`

	// OutputDir receives one processed workbook per source workbook plus the
	// batch report. The merge phase reads from here.
	// Default: "output"
	OutputDir string `yaml:"output_dir" envconfig:"OUTPUT_DIR" validate:"required"`

	// FinalDir receives the merged workbook and the merge report.
	// Default: "final"
	FinalDir string `yaml:"final_dir" envconfig:"FINAL_DIR" validate:"required"`

	// =========================================================================
	// LOGGING SETTINGS
	// =========================================================================

	// LogDir holds the two append-only log files.
	// Default: "logs"
	LogDir string `yaml:"log_dir" envconfig:"LOG_DIR" validate:"required"`

	// BatchLogFile is the log written by the single-file and batch phases.
	// Default: "batch_process.log"
	BatchLogFile string `yaml:"batch_log_file" envconfig:"BATCH_LOG_FILE" validate:"required"`

	// MergeLogFile is the log written by the merge phase.
	// Default: "merge_results.log"
	MergeLogFile string `yaml:"merge_log_file" envconfig:"MERGE_LOG_FILE" validate:"required"`

	// LogLevel controls the verbosity of logging.
	// Valid values: "debug", "info", "warn", "error"
	// Default: "info"
	LogLevel string `yaml:"log_level" envconfig:"LOG_LEVEL" validate:"oneof=debug info warn error"`

	// =========================================================================
	// FILE NAMING
	// =========================================================================

	// InputPattern is the glob used to discover source workbooks.
	// Default: "*.xlsx"
	InputPattern string `yaml:"input_pattern" envconfig:"INPUT_PATTERN" validate:"required"`

	// ProcessedSuffix is appended to the source file stem for the processed
	// workbook, e.g. "site_a.xlsx" -> "site_a_processed.xlsx".
	// Default: "_processed"
	ProcessedSuffix string `yaml:"processed_suffix" envconfig:"PROCESSED_SUFFIX" validate:"required"`

	// FinalFileName is the merged workbook written into FinalDir.
	// Default: "merged_results.xlsx"
	FinalFileName string `yaml:"final_file_name" envconfig:"FINAL_FILE_NAME" validate:"required,endswith=.xlsx"`

	// BatchReportName is the batch report written into OutputDir.
	// Default: "batch_process_report.xlsx"
	BatchReportName string `yaml:"batch_report_name" envconfig:"BATCH_REPORT_NAME" validate:"required,endswith=.xlsx"`

	// MergeReportName is the merge report written into FinalDir.
	// Default: "merge_report.xlsx"
	MergeReportName string `yaml:"merge_report_name" envconfig:"MERGE_REPORT_NAME" validate:"required,endswith=.xlsx"`

	// =========================================================================
	// PROCESSING SETTINGS
	// =========================================================================

	// MaxConcurrency is the maximum number of workbooks processed at once in
	// the batch phase. Set to 1 for sequential processing.
	// Default: 1
	MaxConcurrency int `yaml:"max_concurrency" envconfig:"MAX_CONCURRENCY" validate:"min=1,max=64"`

	// StrictValidation fails a sheet on validation warnings as well as
	// errors (e.g. an empty 患者ID or an unparseable 年龄).
	// Default: false
	StrictValidation bool `yaml:"strict_validation" envconfig:"STRICT_VALIDATION"`

	// Sheets restricts processing to these sheets (key, name or listing
	// number). Empty means every known sheet.
	Sheets []string `yaml:"sheets" envconfig:"SHEETS"`

	// Merge holds the merge phase settings.
	Merge MergeConfig `yaml:"merge" envconfig:"MERGE"`

	// TransformationRules maps a sheet key to field-level rules applied to
	// that output sheet after its built-in transform.
	TransformationRules map[string][]TransformationRule `yaml:"transformation_rules" ignored:"true" validate:"dive,dive"`
}

// MergeConfig holds the settings of the merge phase.
type MergeConfig struct {
	// DedupPolicy decides what happens when the same record appears in more
	// than one processed workbook:
	//   - "keep_all"    : keep every row (merged count = sum of inputs)
	//   - "first_by_id" : keep the first row per value of the first id-like
	//                     column (falls back to drop_exact without one)
	//   - "drop_exact"  : drop rows identical on every data column
	// Default: "keep_all"
	DedupPolicy string `yaml:"dedup_policy" envconfig:"DEDUP_POLICY" validate:"oneof=keep_all first_by_id drop_exact"`

	// AddProvenance sets the 数据来源 (source file) and 数据更新时间 (run
	// time) columns on every merged row.
	// Default: true
	AddProvenance *bool `yaml:"add_provenance" envconfig:"ADD_PROVENANCE"`
}

// Provenance reports whether provenance columns are enabled.
func (m MergeConfig) Provenance() bool {
	return m.AddProvenance == nil || *m.AddProvenance
}

// =============================================================================
// TRANSFORMATION RULE STRUCTURE
// =============================================================================

// TransformationRule defines transformations to apply to one column.
type TransformationRule struct {
	// Field is the output column name, e.g. "患者ID".
	Field string `yaml:"field" validate:"required"`

	// Actions are applied in order.
	Actions []TransformationAction `yaml:"actions" validate:"required,min=1,dive"`
}

// TransformationAction defines a single transformation action.
type TransformationAction struct {
	// Type is the type of transformation to apply. See converter.ApplyTransformation.
	Type string `yaml:"type" validate:"required,oneof=prepend_string append_string trim trim_left trim_right uppercase lowercase replace regex_replace substring pad_zeros_to_length ensure_length format_number remove_leading_zeros format_date lookup lookup_with_default if_empty_use_default if_empty_use_field extract_digits extract_letters remove_special_chars normalize_whitespace"`

	// Value is the parameter for the transformation. Its meaning depends on
	// the type (prefix, target length, "in|out" date layouts, default value).
	Value string `yaml:"value"`

	// Find is the substring or pattern for replace and regex_replace.
	Find string `yaml:"find,omitempty"`

	// LookupTable maps input values to output values for lookup types.
	LookupTable map[string]string `yaml:"lookup_table,omitempty"`
}

// =============================================================================
// CONFIGURATION LOADING FUNCTIONS
// =============================================================================

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		InputDir:        "input",
		OutputDir:       "output",
		FinalDir:        "final",
		LogDir:          "logs",
		BatchLogFile:    "batch_process.log",
		MergeLogFile:    "merge_results.log",
		LogLevel:        "info",
		InputPattern:    "*.xlsx",
		ProcessedSuffix: "_processed",
		FinalFileName:   "merged_results.xlsx",
		BatchReportName: "batch_process_report.xlsx",
		MergeReportName: "merge_report.xlsx",
		MaxConcurrency:  1,
		Merge:           MergeConfig{DedupPolicy: DedupKeepAll},
	}
}

// Load builds the configuration from defaults, the YAML file at configPath
// (skipped when configPath is empty) and EXCELFLOW_* environment variables.
//
// PARAMETERS:
//   - configPath: The path to the YAML configuration file, or "".
//
// RETURNS:
//   - The configuration. It is not validated yet, so that command-line
//     overrides can be applied first; call Validate afterwards.
//   - An error wrapping ErrInvalidConfig if the file cannot be read or
//     parsed, or an environment variable has the wrong type.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read config file: %v", ErrInvalidConfig, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: failed to parse config file %s: %v", ErrInvalidConfig, configPath, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to load config from env: %v", ErrInvalidConfig, err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults restores defaults for values a config file explicitly blanked.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.InputPattern == "" {
		cfg.InputPattern = def.InputPattern
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.Merge.DedupPolicy == "" {
		cfg.Merge.DedupPolicy = def.Merge.DedupPolicy
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	err := v.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, formatFieldError(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

func formatFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	case "min", "max":
		return fmt.Sprintf("%s must be %s %s, got %v", field, map[string]string{"min": ">=", "max": "<="}[fe.Tag()], fe.Param(), fe.Value())
	case "endswith":
		return fmt.Sprintf("%s must end with %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// =============================================================================
// DERIVED PATHS
// =============================================================================

// BatchLogPath is the full path of the batch log file.
func (c *Config) BatchLogPath() string {
	return filepath.Join(c.LogDir, c.BatchLogFile)
}

// MergeLogPath is the full path of the merge log file.
func (c *Config) MergeLogPath() string {
	return filepath.Join(c.LogDir, c.MergeLogFile)
}

// FinalPath is the full path of the merged workbook.
func (c *Config) FinalPath() string {
	return filepath.Join(c.FinalDir, c.FinalFileName)
}

// MergeReportPath is the full path of the merge report.
func (c *Config) MergeReportPath() string {
	return filepath.Join(c.FinalDir, c.MergeReportName)
}

// BatchReportPath is the full path of the batch report.
func (c *Config) BatchReportPath() string {
	return filepath.Join(c.OutputDir, c.BatchReportName)
}
