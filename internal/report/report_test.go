package report

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/excelflow/internal/types"
	"github.com/ginjaninja78/excelflow/internal/workbook"
)

func field(t *testing.T, tbl *types.Table, name string) string {
	t.Helper()
	for i := range tbl.Rows {
		if rec := tbl.Record(i); rec["Field"] == name {
			return rec["Value"]
		}
	}
	t.Fatalf("field %q not in %s", name, tbl.Name)
	return ""
}

func batchReport() *types.BatchReport {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return &types.BatchReport{
		RunID:      "run-1",
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		InputDir:   "input",
		OutputDir:  "output",
		Sheets:     []string{"门急诊信息", "氧疗信息"},
		Files: []*types.FileResult{
			{
				FileName:   "a.xlsx",
				OutputPath: "output/a_processed.xlsx",
				Sheets: []types.SheetOutcome{
					{Key: "outpatient", Name: "门急诊信息", Status: types.SheetSucceeded, Rows: 3, Warnings: 1},
					{Key: "oxygen", Name: "氧疗信息", Status: types.SheetMissing, Missing: []string{"氧疗信息"}},
				},
			},
			{FileName: "b.xlsx", Err: errors.New("unreadable")},
		},
	}
}

func TestBatchTables(t *testing.T) {
	tables := BatchTables(batchReport())
	require.Len(t, tables, 3)
	summary, files, details := tables[0], tables[1], tables[2]

	assert.Equal(t, "run-1", field(t, summary, "Run ID"))
	assert.Equal(t, "2024-03-01 09:00:00", field(t, summary, "Started"))
	assert.Equal(t, "1.50", field(t, summary, "Duration (s)"))
	assert.Equal(t, "2", field(t, summary, "Total files"))
	assert.Equal(t, "1", field(t, summary, "Partial"))
	assert.Equal(t, "1", field(t, summary, "Errors"))
	assert.Equal(t, "0.00%", field(t, summary, "Success rate"))

	require.Equal(t, 2, files.Len())
	a := files.Record(0)
	assert.Equal(t, "partial", a["Status"])
	assert.Equal(t, "1", a["Missing sheets"])
	assert.Equal(t, "3", a["Rows"])
	assert.Equal(t, "unreadable", files.Record(1)["Error"])

	require.Equal(t, 4, details.Len(), "one row per file and sheet")
	assert.Equal(t, "1 validation warning(s)", details.Record(0)["Note"])
	assert.Equal(t, "missing source sheet: 氧疗信息", details.Record(1)["Note"])
	assert.Equal(t, "error", details.Record(3)["Status"])
	assert.Equal(t, "氧疗信息", details.Record(3)["Sheet"])
}

func TestWriteBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch_process_report.xlsx")
	require.NoError(t, WriteBatch(path, batchReport()))

	wb, err := workbook.Open(path)
	require.NoError(t, err)
	defer wb.Close()
	assert.Equal(t, []string{"Summary", "Files", "Details"}, wb.SheetNames())
}

func TestMergeTables(t *testing.T) {
	r := &types.MergeReport{
		RunID:       "run-2",
		InputDir:    "output",
		OutputPath:  "final/merged_results.xlsx",
		DedupPolicy: "keep_all",
		Sources: []*types.MergeSource{
			{FileName: "a_processed.xlsx", Sheets: []types.SourceSheet{{Sheet: "门急诊信息", Rows: 3}, {Sheet: "检查信息", Err: errors.New("bad sheet")}}},
			{FileName: "b_processed.xlsx", Skipped: true, Err: errors.New("not a workbook")},
		},
		Sheets: []*types.MergedSheet{
			{Key: "outpatient", Name: "门急诊信息", Status: types.SheetMerged, SourceFiles: 1, InputRows: 3, OutputRows: 3},
			{Key: "oxygen", Name: "氧疗信息", Status: types.SheetEmpty},
		},
	}

	tables := MergeTables(r)
	require.Len(t, tables, 3)
	summary, sources, sheets := tables[0], tables[1], tables[2]

	assert.Equal(t, "partial", field(t, summary, "Status"))
	assert.Equal(t, "1", field(t, summary, "Files skipped"))
	assert.Equal(t, "1", field(t, summary, "Sheets empty"))
	assert.Equal(t, "3", field(t, summary, "Total rows"))
	assert.Equal(t, "merged 1 of 2 sheets from 1 file(s), 1 skipped", field(t, summary, "Message"))

	require.Equal(t, 3, sources.Len())
	assert.Equal(t, "error", sources.Record(1)["Status"])
	assert.Equal(t, "skipped", sources.Record(2)["Status"])
	assert.Equal(t, "not a workbook", sources.Record(2)["Note"])

	require.Equal(t, 2, sheets.Len())
	assert.Equal(t, "empty", sheets.Record(1)["Status"])

	path := filepath.Join(t.TempDir(), "merge_report.xlsx")
	require.NoError(t, WriteMerge(path, r))
	assert.FileExists(t, path)
}
