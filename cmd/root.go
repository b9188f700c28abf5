// =============================================================================
// Excel Workflow - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. Called without a
// subcommand, the root command runs the pipeline.
//
// COBRA CLI STRUCTURE:
//   rootCmd (excelflow)          run the pipeline
//   ├── sheetsCmd (excelflow sheets)   list the known sheets
//   └── versionCmd (excelflow version) show build information
//
// PHASES:
//   --phase 1   process one workbook (--input names the file)
//   --phase 2   process every workbook of the input directory
//   --phase 3   merge the processed workbooks into the final workbook
//   (none)      phase 2, then phase 3
//
// CONFIGURATION:
//   Flags override EXCELFLOW_* environment variables, which override the
//   config file, which overrides the built-in defaults.
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/excelflow/internal/config"
	"github.com/ginjaninja78/excelflow/pkg/utils"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the configuration file.
// This can be overridden using the --config flag.
var cfgFile string

// verbose forces debug logging when set to true.
var verbose bool

// runFlags holds the pipeline flags of the root command.
type runFlags struct {
	phase   int
	sheets  []string
	input   string
	output  string
	final   string
	workers int
}

var flags runFlags

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "excelflow",
	Short: "Excel batch workflow - extract, batch and merge clinical workbooks",
	Long: `excelflow runs a three-phase Excel workflow:

  Phase 1  Read one source workbook, normalise its category sheets, derive
           the listing sheets and write <name>_processed.xlsx.
  Phase 2  Run phase 1 for every workbook in the input directory and write
           batch_process_report.xlsx.
  Phase 3  Merge every processed workbook into final/merged_results.xlsx
           and write merge_report.xlsx.

Missing sheets, failing sheets and unreadable files are logged and reported;
only configuration problems (bad paths, no input files, invalid settings)
stop the run.

Example Usage:
  excelflow                                  # phase 2 then phase 3
  excelflow --phase 1 --input input/a.xlsx   # a single workbook
  excelflow --phase 2 --sheet 5 --sheet 氧疗信息
  excelflow --phase 3 --output output --final final`,

	SilenceUsage:  true,
	SilenceErrors: true,

	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return runPipeline(cmd.Context(), cfg, flags.phase, cmd.OutOrStdout())
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute runs the root command. It is called by main.main(). SIGINT and
// SIGTERM cancel the run: files in progress finish, queued files are not
// started.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// =============================================================================
// CONFIGURATION LOADING
// =============================================================================

// loadConfig loads the config file, applies the flags that were set, and
// validates the result. A missing default config file is not an error; a
// missing file named with --config is.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := cfgFile
	if !cmd.Flags().Changed("config") && !utils.FileExists(path) {
		path = ""
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	fs := cmd.Flags()
	if fs.Changed("input") {
		cfg.InputDir = flags.input
	}
	if fs.Changed("output") {
		cfg.OutputDir = flags.output
	}
	if fs.Changed("final") {
		cfg.FinalDir = flags.final
	}
	if fs.Changed("workers") {
		cfg.MaxConcurrency = flags.workers
	}
	if fs.Changed("sheet") {
		cfg.Sheets = flags.sheets
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	if flags.phase < 0 || flags.phase > 3 {
		return nil, fmt.Errorf("%w: --phase must be 1, 2 or 3, got %d", config.ErrInvalidConfig, flags.phase)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	// ==========================================================================
	// PERSISTENT FLAGS
	// ==========================================================================

	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"config.yaml",
		"Path to the configuration file (optional when the default is absent)",
	)

	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Enable debug logging",
	)

	// ==========================================================================
	// PIPELINE FLAGS
	// ==========================================================================

	f := rootCmd.Flags()
	f.IntVar(&flags.phase, "phase", 0, "Run only this phase (1, 2 or 3); all phases when omitted")
	f.StringSliceVar(&flags.sheets, "sheet", nil, "Sheet to process: key, listing number or sheet name (repeatable)")
	f.StringVar(&flags.input, "input", "", "Input directory, or the workbook file with --phase 1 (default input)")
	f.StringVar(&flags.output, "output", "", "Directory for processed workbooks and the batch report (default output)")
	f.StringVar(&flags.final, "final", "", "Directory for the merged workbook and the merge report (default final)")
	f.IntVar(&flags.workers, "workers", 1, "Number of workbooks processed in parallel in phase 2")
}
