package converter

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/excelflow/internal/config"
	"github.com/ginjaninja78/excelflow/internal/logging"
	"github.com/ginjaninja78/excelflow/internal/sheets"
	"github.com/ginjaninja78/excelflow/internal/types"
	"github.com/ginjaninja78/excelflow/internal/workbook"
)

type sheetData struct {
	name string
	rows [][]string
}

func writeWorkbook(t *testing.T, path string, data ...sheetData) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, s := range data {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", s.name))
		} else {
			_, err := f.NewSheet(s.name)
			require.NoError(t, err)
		}
		for r, row := range s.rows {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			values := make([]interface{}, len(row))
			for c, v := range row {
				values[c] = v
			}
			require.NoError(t, f.SetSheetRow(s.name, cell, &values))
		}
	}
	require.NoError(t, f.SaveAs(path))
}

// sourceWorkbook has every category except oxygen therapy.
func sourceWorkbook(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	writeWorkbook(t, path,
		sheetData{"门急诊信息", [][]string{
			{},
			{"患者ID", "姓名", "性别", "年龄", "就诊日期", "就诊科室", "诊断", "诊断编码"},
			{"p1", "张三", "男", "70", "2023/1/5", "发热门诊", "新型冠状病毒感染", "U07.1"},
			{"p2", "李四", "女", "", "2023-01-06", "内科", "上呼吸道感染", "J06.9"},
			{"p1", "张三", "男", "70", "2023-02-01", "内科", "", ""},
		}},
		sheetData{"住院信息", [][]string{
			{"患者ID", "姓名", "性别", "年龄", "入院日期", "出院日期", "就诊科室", "诊断", "诊断编码"},
			{"p1", "张三", "男", "70", "2023-01-10", "2023-01-20", "呼吸科", "COVID-19 肺炎", "U07.1"},
			{"p3", "王五", "男", "8", "2023-03-01", "2023-03-05", "儿科", "肺炎", "J18.9"},
		}},
		sheetData{"药物医嘱信息", [][]string{
			{"患者ID", "药物名称", "用药日期", "剂量", "频次"},
			{"p1", "奈玛特韦片/利托那韦片", "2023-01-11", "300mg", "bid"},
			{"p3", "阿莫西林", "2023-03-02", "250mg", "tid"},
			{"p2", "Oseltamivir", "2023-01-06", "75mg", "bid"},
		}},
		sheetData{"检查信息", [][]string{
			{"患者ID", "检查名称", "检查日期", "检查结果"},
			{"p1", "新冠病毒核酸检测", "2023-01-05", "阳性"},
			{"p2", "新冠抗原", "2023-01-06", "未检出"},
			{"p3", "血常规", "2023-03-01", "正常"},
		}},
		sheetData{"统计数据", [][]string{
			{"指标", "数值"},
			{"门诊量", "3"},
		}},
	)
	return path
}

func newConverter(t *testing.T, cfg *config.Config) *Converter {
	t.Helper()
	c, err := New(cfg, sheets.DefaultRegistry(), nil)
	require.NoError(t, err)
	return c
}

func TestRunProcessesWorkbook(t *testing.T) {
	dir := t.TempDir()
	src := sourceWorkbook(t, dir, "site_a.xlsx")
	outDir := filepath.Join(dir, "output")

	result := newConverter(t, config.Default()).Run(context.Background(), src, outDir)
	require.NoError(t, result.Err)

	assert.Equal(t, "site_a.xlsx", result.FileName)
	assert.Equal(t, filepath.Join(outDir, "site_a_processed.xlsx"), result.OutputPath)
	assert.Equal(t, types.FilePartial, result.Status())
	require.Len(t, result.Sheets, 13)

	wantRows := map[string]int{
		sheets.Outpatient: 3, sheets.Inpatient: 2, sheets.Medication: 3, sheets.Examination: 3,
		sheets.Statistics: 1, sheets.Visits: 5, sheets.Diagnoses: 4, sheets.CovidCases: 4,
		sheets.Antivirals: 2, sheets.CovidTests: 2, sheets.Population: 5, sheets.Patients: 3,
	}
	for key, rows := range wantRows {
		outcome, ok := result.Outcome(key)
		require.True(t, ok, key)
		assert.Equal(t, types.SheetSucceeded, outcome.Status, key)
		assert.Equal(t, rows, outcome.Rows, key)
	}

	oxygen, ok := result.Outcome(sheets.Oxygen)
	require.True(t, ok)
	assert.Equal(t, types.SheetMissing, oxygen.Status)
	assert.Equal(t, []string{"氧疗信息"}, oxygen.Missing)
	assert.Equal(t, 12, result.Count(types.SheetSucceeded))

	wb, err := workbook.Open(result.OutputPath)
	require.NoError(t, err)
	defer wb.Close()

	names := wb.SheetNames()
	require.Len(t, names, 12)
	assert.Equal(t, "门急诊信息", names[0])
	assert.Equal(t, "LisA1_唯一患者", names[11])
	assert.False(t, wb.HasSheet("氧疗信息"))

	out, err := wb.ReadTable("门急诊信息")
	require.NoError(t, err)
	assert.Equal(t, "2023-01-05", out.Record(0)["就诊日期"], "dates are normalised")
	assert.Equal(t, "70", out.Record(0)["年龄"])
}

func TestRunIsRepeatable(t *testing.T) {
	dir := t.TempDir()
	src := sourceWorkbook(t, dir, "site_a.xlsx")
	c := newConverter(t, config.Default())

	read := func() map[string]*types.Table {
		result := c.Run(context.Background(), src, dir)
		require.NoError(t, result.Err)
		wb, err := workbook.Open(result.OutputPath)
		require.NoError(t, err)
		defer wb.Close()

		tables := make(map[string]*types.Table)
		for _, name := range wb.SheetNames() {
			tbl, err := wb.ReadTable(name)
			require.NoError(t, err)
			tables[name] = tbl
		}
		return tables
	}

	assert.Equal(t, read(), read())
}

func TestRunSelectedSheetMissing(t *testing.T) {
	dir := t.TempDir()
	src := sourceWorkbook(t, dir, "site_a.xlsx")

	cfg := config.Default()
	cfg.Sheets = []string{"oxygen"}
	result := newConverter(t, cfg).Run(context.Background(), src, dir)

	require.NoError(t, result.Err)
	require.Len(t, result.Sheets, 1)
	assert.Equal(t, types.FileFailed, result.Status())
	assert.Empty(t, result.OutputPath)
	assert.NoFileExists(t, filepath.Join(dir, "site_a_processed.xlsx"))
}

func TestRunSelectionByNumber(t *testing.T) {
	dir := t.TempDir()
	src := sourceWorkbook(t, dir, "site_a.xlsx")

	cfg := config.Default()
	cfg.Sheets = []string{"5", "检查信息"}
	c := newConverter(t, cfg)
	assert.Equal(t, []string{"检查信息", "Lis05_新冠检测"}, c.Targets())

	result := c.Run(context.Background(), src, dir)
	assert.Equal(t, types.FileSucceeded, result.Status())
}

func TestRunUnreadableWorkbook(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("not a zip file"), 0644))

	result := newConverter(t, config.Default()).Run(context.Background(), path, dir)
	assert.ErrorIs(t, result.Err, workbook.ErrUnreadable)
	assert.Equal(t, types.FileErrored, result.Status())
	assert.Empty(t, result.Sheets)
	assert.Empty(t, result.OutputPath)
}

func TestRunCancelledContext(t *testing.T) {
	dir := t.TempDir()
	src := sourceWorkbook(t, dir, "site_a.xlsx")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := newConverter(t, config.Default()).Run(ctx, src, dir)
	assert.ErrorIs(t, result.Err, context.Canceled)
}

func TestRunTransformationRules(t *testing.T) {
	dir := t.TempDir()
	src := sourceWorkbook(t, dir, "site_a.xlsx")

	cfg := config.Default()
	cfg.Sheets = []string{sheets.Outpatient, sheets.Medication}
	cfg.TransformationRules = map[string][]config.TransformationRule{
		"outpatient": {
			{Field: "患者ID", Actions: []config.TransformationAction{{Type: "uppercase"}, {Type: "pad_zeros_to_length", Value: "4"}}},
			{Field: "不存在的列", Actions: []config.TransformationAction{{Type: "trim"}}},
		},
		"药物医嘱信息": {
			{Field: "频次", Actions: []config.TransformationAction{{Type: "lookup", LookupTable: map[string]string{"bid": "每日两次"}}}},
		},
	}

	result := newConverter(t, cfg).Run(context.Background(), src, dir)
	require.Equal(t, types.FileSucceeded, result.Status())

	wb, err := workbook.Open(result.OutputPath)
	require.NoError(t, err)
	defer wb.Close()

	out, err := wb.ReadTable("门急诊信息")
	require.NoError(t, err)
	assert.Equal(t, "00P1", out.Record(0)["患者ID"])

	med, err := wb.ReadTable("药物医嘱信息")
	require.NoError(t, err)
	assert.Equal(t, "每日两次", med.Record(0)["频次"])
	assert.Equal(t, "tid", med.Record(1)["频次"])
}

func TestRunRuleFailureMarksSheetFailed(t *testing.T) {
	dir := t.TempDir()
	src := sourceWorkbook(t, dir, "site_a.xlsx")

	cfg := config.Default()
	cfg.Sheets = []string{sheets.Outpatient, sheets.Inpatient}
	cfg.TransformationRules = map[string][]config.TransformationRule{
		"outpatient": {{Field: "姓名", Actions: []config.TransformationAction{{Type: "substring", Value: "one"}}}},
	}

	result := newConverter(t, cfg).Run(context.Background(), src, dir)
	assert.Equal(t, types.FilePartial, result.Status())

	outcome, _ := result.Outcome(sheets.Outpatient)
	assert.Equal(t, types.SheetFailed, outcome.Status)

	var sheetErr *SheetError
	require.True(t, errors.As(outcome.Err, &sheetErr))
	assert.Equal(t, StageRules, sheetErr.Stage)
	assert.Equal(t, "门急诊信息", sheetErr.Sheet)
}

func TestRunRecoversFromPanicsAndRejectsInvalidSheets(t *testing.T) {
	passthrough := func(in sheets.Inputs) (*types.Table, error) { return in[sheets.Outpatient].Clone(), nil }
	registry, err := sheets.NewRegistry(
		&sheets.Definition{Key: sheets.Outpatient, Name: "门急诊信息", Kind: sheets.KindCategory, Sources: []string{sheets.Outpatient}, Transform: passthrough},
		&sheets.Definition{Key: "boom", Number: 1, Name: "Boom", Kind: sheets.KindListing, Sources: []string{sheets.Outpatient},
			Transform: func(sheets.Inputs) (*types.Table, error) { panic("index out of range") }},
		&sheets.Definition{Key: "dupes", Number: 2, Name: "Dupes", Kind: sheets.KindListing, Sources: []string{sheets.Outpatient},
			Transform: func(sheets.Inputs) (*types.Table, error) {
				return types.NewTable("Dupes", []string{"患者ID", "患者ID"}), nil
			}},
	)
	require.NoError(t, err)

	c, err := New(config.Default(), registry, nil)
	require.NoError(t, err)

	dir := t.TempDir()
	result := c.Run(context.Background(), sourceWorkbook(t, dir, "site_a.xlsx"), dir)
	require.NoError(t, result.Err)
	assert.Equal(t, types.FilePartial, result.Status())

	boom, _ := result.Outcome("boom")
	assert.Equal(t, types.SheetFailed, boom.Status)
	assert.Contains(t, boom.Err.Error(), "panic: index out of range")

	dupes, _ := result.Outcome("dupes")
	assert.Equal(t, types.SheetFailed, dupes.Status)
	assert.ErrorIs(t, dupes.Err, ErrValidation)

	var sheetErr *SheetError
	require.True(t, errors.As(dupes.Err, &sheetErr))
	assert.Equal(t, StageValidate, sheetErr.Stage)
}

func TestRunStrictValidation(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "narrow.xlsx")
	writeWorkbook(t, src, sheetData{"门急诊信息", [][]string{
		{"患者ID", "姓名", "就诊日期"},
		{"p1", "张三", "2023-01-05"},
	}})

	cfg := config.Default()
	cfg.Sheets = []string{sheets.Outpatient}

	result := newConverter(t, cfg).Run(context.Background(), src, filepath.Join(dir, "lenient"))
	require.NoError(t, result.Err)
	outcome, _ := result.Outcome(sheets.Outpatient)
	assert.Equal(t, types.SheetSucceeded, outcome.Status)
	assert.Positive(t, outcome.Warnings, "missing expected columns are warnings")

	var logs bytes.Buffer
	logger, closer, err := logging.New(logging.Options{Level: "debug", Console: &logs})
	require.NoError(t, err)
	defer closer.Close()

	cfg.StrictValidation = true
	c, err := New(cfg, sheets.DefaultRegistry(), logger)
	require.NoError(t, err)

	result = c.Run(context.Background(), src, filepath.Join(dir, "strict"))
	require.NoError(t, result.Err)
	outcome, _ = result.Outcome(sheets.Outpatient)
	assert.Equal(t, types.SheetFailed, outcome.Status)
	assert.ErrorIs(t, outcome.Err, ErrValidation)
	assert.Empty(t, result.OutputPath, "nothing succeeded, nothing written")
	assert.Contains(t, logs.String(), "Validation completed with")
	assert.Contains(t, logs.String(), "Expected column")
}

func TestNewRejectsBadConfiguration(t *testing.T) {
	registry := sheets.DefaultRegistry()

	cfg := config.Default()
	cfg.Sheets = []string{"no-such-sheet"}
	_, err := New(cfg, registry, nil)
	assert.ErrorIs(t, err, sheets.ErrUnknownSheet)

	cfg = config.Default()
	cfg.TransformationRules = map[string][]config.TransformationRule{
		"no-such-sheet": {{Field: "a", Actions: []config.TransformationAction{{Type: "trim"}}}},
	}
	_, err = New(cfg, registry, nil)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.ErrorIs(t, err, sheets.ErrUnknownSheet)

	cfg = config.Default()
	cfg.TransformationRules = map[string][]config.TransformationRule{
		"oxygen": {{Field: "a", Actions: []config.TransformationAction{{Type: "regex_replace", Find: "(["}}}},
	}
	_, err = New(cfg, registry, nil)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
