// =============================================================================
// Excel Workflow - Main Entry Point
// =============================================================================
//
// excelflow extracts the category sheets of clinical source workbooks,
// derives the listing sheets, processes whole directories of workbooks and
// merges the results into one final workbook.
//
// USAGE:
//   excelflow                   - Batch process the input directory, then merge
//   excelflow --phase 1|2|3     - Run a single phase
//   excelflow sheets            - List the known sheets
//   excelflow version           - Display the application version
//
// ARCHITECTURE:
//   - cmd/           : CLI command definitions (Cobra)
//   - internal/      : Sheet definitions, phases, reports, config and logging
//   - pkg/           : File discovery, naming and directory locking
//
// =============================================================================

package main

import (
	"github.com/ginjaninja78/excelflow/cmd"
)

func main() {
	cmd.Execute()
}
