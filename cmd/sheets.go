// =============================================================================
// Excel Workflow - Sheets Command
// =============================================================================
//
// This file defines the 'sheets' command, which lists the known sheets.
//
// COMMAND USAGE:
//   excelflow sheets
//
// =============================================================================

package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/excelflow/internal/sheets"
)

// =============================================================================
// SHEETS COMMAND DEFINITION
// =============================================================================

// sheetsCmd lists every sheet the pipeline knows, in processing order.
var sheetsCmd = &cobra.Command{
	Use:   "sheets",
	Short: "List the known sheets and the source sheets they need",
	Long: `List every sheet the pipeline processes, in output order.

The Key, the listing number (#) and the sheet name are all accepted by
--sheet and by the sheets: list of the config file.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, renderTable(out,
			[]string{"#", "Key", "Sheet", "Kind", "Sources"},
			sheetRows(sheets.DefaultRegistry()),
			[]columnAlignment{alignRight}))
	},
}

func sheetRows(registry *sheets.Registry) [][]string {
	defs := registry.All()
	rows := make([][]string, 0, len(defs))
	for _, def := range defs {
		number := ""
		if def.Number > 0 {
			number = strconv.Itoa(def.Number)
		}
		sources := make([]string, 0, len(def.Sources))
		for _, key := range def.Sources {
			sources = append(sources, registry.SourceName(key))
		}
		rows = append(rows, []string{number, def.Key, def.Name, def.Kind.String(), strings.Join(sources, ", ")})
	}
	return rows
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	rootCmd.AddCommand(sheetsCmd)
}
