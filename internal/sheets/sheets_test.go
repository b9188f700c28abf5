package sheets

import (
	"testing"

	"github.com/ginjaninja78/excelflow/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanColumnName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{" 患者ID ", "患者ID"},
		{"年龄（周岁）", "年龄周岁"},
		{"患者ＩＤ", "患者ID"},
		{"诊断  (文字)", "诊断 文字"},
		{"CT值*", "CT值"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanColumnName(tt.in), tt.in)
	}
}

func TestCleanHeader(t *testing.T) {
	got := CleanHeader([]string{"患者ID", "", "姓名", "患者ID", "**"})
	assert.Equal(t, []string{"患者ID", "列2", "姓名", "患者ID_2", "列5"}, got)

	tests := []struct {
		in   []string
		want []string
	}{
		{[]string{"诊断", "诊断", "诊断_2"}, []string{"诊断", "诊断_2", "诊断_2_2"}},
		{[]string{"诊断_2", "诊断", "诊断"}, []string{"诊断_2", "诊断", "诊断_3"}},
		{[]string{"列2", ""}, []string{"列2", "列2_2"}},
		{[]string{"a", "a", "a", "a_3"}, []string{"a", "a_2", "a_3", "a_3_2"}},
	}
	for _, tt := range tests {
		got := CleanHeader(tt.in)
		assert.Equal(t, tt.want, got)

		seen := make(map[string]bool, len(got))
		for _, name := range got {
			assert.False(t, seen[name], "duplicate %q in %v", name, got)
			seen[name] = true
		}
	}
}

func TestFindColumn(t *testing.T) {
	header := []string{"门诊诊断编码", "主要诊断", "诊断", "患者id"}

	assert.Equal(t, 2, FindColumn(header, "诊断"), "exact match wins")
	assert.Equal(t, 3, FindColumn(header, "患者ID"), "case-insensitive")
	assert.Equal(t, 0, FindColumn(header, "编码"))
	assert.Equal(t, -1, FindColumn(header, "性别"))

	c := column{keywords: []string{"诊断名称"}, exclude: []string{"编码"}}
	assert.Equal(t, -1, c.find(header))
	c = column{keywords: []string{"诊断"}, exclude: []string{"编码"}}
	assert.Equal(t, 2, c.find(header))
	c = column{keywords: []string{"主要"}, exact: true}
	assert.Equal(t, -1, c.find(header))
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2023-01-05", "2023-01-05", true},
		{"2023/1/5", "2023-01-05", true},
		{"2023-01-05 00:00:00", "2023-01-05", true},
		{"2023-01-05 08:30:00", "2023-01-05 08:30:00", true},
		{"2023年1月5日", "2023-01-05", true},
		{"20230105", "2023-01-05", true},
		{"44931", "2023-01-05", true},
		{"44931.5", "2023-01-05 12:00:00", true},
		{"", "", true},
		{"unknown", "unknown", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeDate(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestNormalize(t *testing.T) {
	raw := types.NewTable("门急诊信息", []string{" 患者ID", "就诊日期", "备注（时间）"})
	raw.AppendRow([]string{"p1", "2023/1/5", "n/a"})

	got, bad := Normalize(raw)
	assert.Equal(t, []string{"患者ID", "就诊日期", "备注时间"}, got.Header)
	assert.Equal(t, []string{"p1", "2023-01-05", "n/a"}, got.Rows[0])
	assert.Equal(t, 1, bad)
	assert.Equal(t, "2023/1/5", raw.Rows[0][1], "source table is not modified")
}

func TestAgeHelpers(t *testing.T) {
	age, ok := ParseAge("65岁")
	assert.True(t, ok)
	assert.Equal(t, 65, age)

	age, ok = ParseAge("3个月")
	assert.True(t, ok)
	assert.Equal(t, 0, age)

	_, ok = ParseAge("不详")
	assert.False(t, ok)

	assert.Equal(t, "婴幼儿(0-2岁)", AgeGroup(2, true))
	assert.Equal(t, "青年(18-34岁)", AgeGroup(18, true))
	assert.Equal(t, "高龄老人(80岁以上)", AgeGroup(80, true))
	assert.Equal(t, "未知", AgeGroup(0, false))

	assert.Equal(t, "老年人", PopulationCategory(65, true, ""))
	assert.Equal(t, "成年人", PopulationCategory(64, true, "女"))
	assert.Equal(t, "儿童青少年", PopulationCategory(17, true, ""))
	assert.Equal(t, "女性", PopulationCategory(0, false, "女"))
	assert.Equal(t, "未分类", PopulationCategory(0, false, ""))
}

func TestClassifyResult(t *testing.T) {
	assert.Equal(t, "阴性", ClassifyResult("未检出"))
	assert.Equal(t, "阴性", ClassifyResult("Negative"))
	assert.Equal(t, "阳性", ClassifyResult("阳性(+)"))
	assert.Equal(t, "阳性", ClassifyResult("检出"))
	assert.Equal(t, "未知", ClassifyResult("待复查"))

	assert.Equal(t, "核酸检测", InferTestMethod("新冠病毒核酸检测"))
	assert.Equal(t, "抗原检测", InferTestMethod("新冠抗原"))
	assert.Equal(t, "抗体检测", InferTestMethod("新冠IgM抗体"))
	assert.Equal(t, "", InferTestMethod("新冠"))
}

// =============================================================================
// REGISTRY
// =============================================================================

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	all := r.All()
	require.Len(t, all, 13)

	assert.Equal(t, Outpatient, all[0].Key)
	assert.Equal(t, Statistics, all[5].Key)
	assert.Equal(t, Visits, all[6].Key)
	assert.Equal(t, Patients, all[12].Key)

	for _, d := range all {
		for _, src := range d.Sources {
			dep, ok := r.Get(src)
			require.True(t, ok, src)
			assert.Equal(t, KindCategory, dep.Kind)
		}
	}
}

func TestRegistryLookup(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		ref  string
		want string
		ok   bool
	}{
		{"oxygen", Oxygen, true},
		{"OXYGEN", Oxygen, true},
		{"氧疗信息", Oxygen, true},
		{"4", Antivirals, true},
		{" Lis05_新冠检测 ", CovidTests, true},
		{"8", "", false},
		{"nope", "", false},
	}
	for _, tt := range tests {
		d, ok := r.Lookup(tt.ref)
		assert.Equal(t, tt.ok, ok, tt.ref)
		if tt.ok {
			assert.Equal(t, tt.want, d.Key, tt.ref)
		}
	}
}

func TestRegistrySelect(t *testing.T) {
	r := DefaultRegistry()

	got, err := r.Select([]string{"patients", "oxygen", "7", "门急诊信息"})
	require.NoError(t, err)
	keys := make([]string, len(got))
	for i, d := range got {
		keys[i] = d.Key
	}
	assert.Equal(t, []string{Outpatient, Oxygen, Patients}, keys)

	all, err := r.Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, 13)

	_, err = r.Select([]string{"oxygen", "bogus"})
	assert.ErrorIs(t, err, ErrUnknownSheet)
}

func TestNewRegistryRejectsBadDefinitions(t *testing.T) {
	noop := func(Inputs) (*types.Table, error) { return nil, nil }

	_, err := NewRegistry(
		&Definition{Key: "a", Name: "A", Transform: noop},
		&Definition{Key: "a", Name: "B", Transform: noop},
	)
	assert.Error(t, err)

	_, err = NewRegistry(&Definition{Key: "a", Name: "A", Kind: KindListing, Sources: []string{"x"}, Transform: noop})
	assert.Error(t, err)
}

// =============================================================================
// LISTINGS
// =============================================================================

func fixtureInputs() Inputs {
	out := types.NewTable("门急诊信息", []string{"患者ID", "姓名", "性别", "年龄", "就诊日期", "就诊科室", "诊断", "诊断编码"})
	out.AppendRow([]string{"p1", "张三", "男", "70", "2023-01-05", "发热门诊", "新型冠状病毒感染", "U07.1"})
	out.AppendRow([]string{"p2", "李四", "女", "", "2023-01-06", "内科", "上呼吸道感染", "J06.9"})
	out.AppendRow([]string{"p1", "张三", "男", "70", "2023-02-01", "内科", "", ""})

	in := types.NewTable("住院信息", []string{"患者ID", "姓名", "性别", "年龄", "入院日期", "出院日期", "就诊科室", "诊断", "诊断编码"})
	in.AppendRow([]string{"p1", "张三", "男", "70", "2023-01-10", "2023-01-20", "呼吸科", "COVID-19 肺炎", "U07.1"})
	in.AppendRow([]string{"p3", "王五", "男", "8", "2023-03-01", "2023-03-05", "儿科", "肺炎", "J18.9"})

	med := types.NewTable("药物医嘱信息", []string{"患者ID", "药物名称", "用药日期", "剂量", "频次", "给药途径"})
	med.AppendRow([]string{"p1", "奈玛特韦片/利托那韦片", "2023-01-11", "300mg", "bid", "口服"})
	med.AppendRow([]string{"p3", "阿莫西林", "2023-03-02", "250mg", "tid", "口服"})
	med.AppendRow([]string{"p2", "Oseltamivir", "2023-01-06", "75mg", "bid", "口服"})

	exam := types.NewTable("检查信息", []string{"患者ID", "检查名称", "检查日期", "检查结果", "检查部门"})
	exam.AppendRow([]string{"p1", "新冠病毒核酸检测", "2023-01-05", "阳性", "检验科"})
	exam.AppendRow([]string{"p2", "新冠抗原", "2023-01-06", "未检出", "检验科"})
	exam.AppendRow([]string{"p3", "血常规", "2023-03-01", "正常", "检验科"})

	return Inputs{Outpatient: out, Inpatient: in, Medication: med, Examination: exam}
}

func build(t *testing.T, key string) *types.Table {
	t.Helper()
	d, ok := DefaultRegistry().Get(key)
	require.True(t, ok)
	tbl, err := d.Transform(fixtureInputs())
	require.NoError(t, err)
	assert.Equal(t, d.Name, tbl.Name)
	assert.Equal(t, d.Columns, tbl.Header)
	return tbl
}

func TestCategoryTransformCopies(t *testing.T) {
	in := fixtureInputs()
	d, _ := DefaultRegistry().Get(Medication)
	got, err := d.Transform(in)
	require.NoError(t, err)
	assert.Equal(t, in[Medication].Rows, got.Rows)

	got.Rows[0][0] = "changed"
	assert.Equal(t, "p1", in[Medication].Rows[0][0])
}

func TestBuildVisits(t *testing.T) {
	tbl := build(t, Visits)
	require.Equal(t, 5, tbl.Len())

	rec := tbl.Record(3)
	assert.Equal(t, "住院", rec["来源"])
	assert.Equal(t, "p1", rec["患者编号"])
	assert.Equal(t, "2023-01-10", rec["就诊日期"])
	assert.Equal(t, "2023-01-20", rec["就诊结束日期"])
	assert.Equal(t, "COVID-19 肺炎", rec["诊断（文字）"])
	assert.Equal(t, "70", rec["年龄（周岁）"])

	assert.Equal(t, "门急诊", tbl.Record(0)["来源"])
}

func TestBuildDiagnoses(t *testing.T) {
	tbl := build(t, Diagnoses)
	require.Equal(t, 4, tbl.Len(), "visit without a diagnosis is skipped")
	rec := tbl.Record(0)
	assert.Equal(t, "新型冠状病毒感染", rec["诊断"])
	assert.Equal(t, "U07.1", rec["诊断编码"])
	assert.Equal(t, "发热门诊", rec["诊断科室"])
	assert.Equal(t, "门急诊信息", rec[SourceColumn])
}

func TestBuildCovidCases(t *testing.T) {
	tbl := build(t, CovidCases)
	require.Equal(t, 4, tbl.Len())

	statuses := make([]string, tbl.Len())
	for i := range tbl.Rows {
		statuses[i] = tbl.Record(i)["感染状态"]
	}
	assert.Equal(t, []string{"确诊", "确诊", "确诊", "排除"}, statuses)

	exam := tbl.Record(2)
	assert.Equal(t, "检查", exam["就诊类型"])
	assert.Equal(t, "核酸检测", exam["检测方法"])
	assert.Equal(t, "阳性", exam["检测结果"])
}

func TestBuildAntivirals(t *testing.T) {
	tbl := build(t, Antivirals)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, "抗病毒药物", tbl.Record(0)["药物类型"])
	assert.Equal(t, "口服", tbl.Record(0)["用药途径"])
	assert.Equal(t, "Oseltamivir", tbl.Record(1)["药物名称"])
}

func TestBuildCovidTests(t *testing.T) {
	tbl := build(t, CovidTests)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, "阳性", tbl.Record(0)["结果类型"])
	assert.Equal(t, "阴性", tbl.Record(1)["结果类型"])
	assert.Equal(t, "抗原检测", tbl.Record(1)["检查方法"])
}

func TestBuildPopulation(t *testing.T) {
	tbl := build(t, Population)
	require.Equal(t, 5, tbl.Len())

	assert.Equal(t, "老年(60-79岁)", tbl.Record(0)["年龄段"])
	assert.Equal(t, "老年人", tbl.Record(0)["人群类别"])
	assert.Equal(t, "女性", tbl.Record(1)["人群类别"])
	assert.Equal(t, "年龄缺失", tbl.Record(1)["备注"])
	assert.Equal(t, "儿童青少年", tbl.Record(4)["人群类别"])
}

func TestBuildPatients(t *testing.T) {
	tbl := build(t, Patients)
	require.Equal(t, 3, tbl.Len())

	p1 := tbl.Record(0)
	assert.Equal(t, "p1", p1["患者ID"])
	assert.Equal(t, "3", p1["就诊次数"])
	assert.Equal(t, "2023-01-05", p1["首次就诊日期"])
	assert.Equal(t, "2023-02-01", p1["最近就诊日期"])
	assert.Equal(t, "门急诊信息", p1[SourceColumn])

	assert.Equal(t, "p2", tbl.Record(1)["患者ID"])
	assert.Equal(t, "p3", tbl.Record(2)["患者ID"])
	assert.Equal(t, "住院信息", tbl.Record(2)[SourceColumn])
}

func TestListingsTolerateMissingColumns(t *testing.T) {
	in := Inputs{
		Outpatient:  types.NewTable("门急诊信息", []string{"其他"}),
		Inpatient:   types.NewTable("住院信息", nil),
		Medication:  types.NewTable("药物医嘱信息", []string{"患者ID"}),
		Examination: types.NewTable("检查信息", []string{"患者ID"}),
	}
	in[Outpatient].AppendRow([]string{"x"})

	for _, d := range DefaultRegistry().All() {
		if d.Kind != KindListing {
			continue
		}
		tbl, err := d.Transform(in)
		require.NoError(t, err, d.Key)
		assert.Equal(t, d.Columns, tbl.Header, d.Key)
	}
}
