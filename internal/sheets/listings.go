// =============================================================================
// Excel Workflow - Derived Listings
// =============================================================================
//
// This module builds the seven derived listing sheets from the normalised
// source categories.
//
// LISTINGS:
//   1. Lis01_就诊合并   outpatient + inpatient visits in one fixed layout
//   2. Lis02_诊断       one row per visit with a diagnosis
//   3. Lis03_新冠感染   COVID diagnoses and COVID test results
//   4. Lis04_抗病毒药物 antiviral medication orders
//   5. Lis05_新冠检测   COVID tests with classified results
//   6. Lis06_人群划分   age band and population category per visit
//   7. LisA1_唯一患者   one row per patient, latest record wins
//
// COLUMN DISCOVERY:
//   Source columns are located by keyword (see column.find): an exact header
//   match wins, then the first header containing a keyword. Output columns
//   with no matching source column stay empty.
//
// =============================================================================

package sheets

import (
	"regexp"
	"strconv"

	"github.com/ginjaninja78/excelflow/internal/types"
)

// Provenance columns, filled by the merge.
const (
	SourceColumn  = "数据来源"
	UpdatedColumn = "数据更新时间"
)

// Listing keys.
const (
	Visits     = "visits"
	Diagnoses  = "diagnoses"
	CovidCases = "covid_cases"
	Antivirals = "antivirals"
	CovidTests = "covid_tests"
	Population = "population"
	Patients   = "patients"
)

const (
	visitOutpatient = "门急诊"
	visitInpatient  = "住院"
	visitExam       = "检查"
)

// =============================================================================
// KEYWORDS
// =============================================================================

var (
	covidKeywords     = []string{"新冠", "冠状病毒", "COVID", "SARS-CoV-2", "新型冠状"}
	covidTestKeywords = append(append([]string(nil), covidKeywords...), "核酸", "PCR", "抗原")

	antiviralKeywords = []string{
		"利巴韦林", "阿比多尔", "奥司他韦", "扎那米韦", "帕拉米韦", "法匹拉韦", "瑞德西韦",
		"洛匹那韦", "利托那韦", "达芦那韦", "克立芝", "克力芝", "奈玛特韦", "阿兹夫定",
		"莫诺拉韦", "抗病毒",
		"Ribavirin", "Arbidol", "Umifenovir", "Oseltamivir", "Zanamivir", "Peramivir",
		"Favipiravir", "Remdesivir", "Lopinavir", "Ritonavir", "Darunavir", "Nirmatrelvir",
		"Paxlovid", "Azvudine", "Molnupiravir",
	}

	negativeResult = regexp.MustCompile(`(?i)阴性|未检出|negative|not detected`)
	positiveResult = regexp.MustCompile(`(?i)阳性|检出|positive|detected`)
)

// ClassifyResult maps a free-text test result to 阳性, 阴性 or 未知.
// Negative phrases are checked first because "未检出" contains "检出".
func ClassifyResult(v string) string {
	switch {
	case negativeResult.MatchString(v):
		return "阴性"
	case positiveResult.MatchString(v):
		return "阳性"
	default:
		return "未知"
	}
}

// InferTestMethod guesses the test method from the test name.
func InferTestMethod(name string) string {
	switch {
	case containsAny(name, []string{"核酸", "PCR"}):
		return "核酸检测"
	case containsAny(name, []string{"抗原"}):
		return "抗原检测"
	case containsAny(name, []string{"抗体", "IgM", "IgG"}):
		return "抗体检测"
	default:
		return ""
	}
}

// =============================================================================
// SHARED COLUMN SPECS
// =============================================================================

var (
	unbound = column{exact: true}

	patientIDColumn = column{keywords: []string{"患者ID", "病人ID", "患者编号", "患者唯一编码", "唯一标识", "就诊ID"}}
	nameColumn      = column{keywords: []string{"姓名", "患者姓名", "病人姓名"}, exclude: []string{"医生", "护士"}}
	ageColumn       = column{keywords: []string{"年龄", "年龄周岁"}, exclude: []string{"段"}}
	genderColumn    = column{keywords: []string{"性别"}}

	diagnosisColumn = column{
		keywords: []string{"诊断", "诊断名称", "诊断文字", "出院诊断", "疾病名称", "病名"},
		exclude:  []string{"编码", "代码", "ICD", "类型", "类别", "医生", "科室", "状态", "日期", "死亡"},
	}
	diagnosisCodeColumn = column{keywords: []string{"诊断编码", "诊断ICD编码", "疾病编码", "ICD"}}

	examNameColumn   = column{keywords: []string{"检查名称", "检验名称", "项目名称", "检查项目", "检验项目"}}
	examMethodColumn = column{keywords: []string{"检查方法", "检测方法", "检验方法"}}
	examResultColumn = column{keywords: []string{"检查结果", "检验结果", "检测结果", "结果"}, exclude: []string{"日期", "时间", "类型"}}
	examDateColumn   = column{keywords: []string{"检查日期", "检验日期", "检测日期", "报告日期", "采样日期", "送检日期"}}
)

// visitDateColumn locates the visit date of an outpatient or inpatient sheet.
func visitDateColumn(key string) column {
	if key == Inpatient {
		return column{keywords: []string{"入院日期", "就诊日期", "住院开始日期", "开始日期"}}
	}
	return column{keywords: []string{"就诊日期", "门诊日期", "开始日期"}}
}

func visitLabel(key string) string {
	if key == Inpatient {
		return visitInpatient
	}
	return visitOutpatient
}

// =============================================================================
// DEFINITIONS
// =============================================================================

var visitColumns = []string{
	"医院编码", "医院名称", "患者编号", "患者唯一编码", "来源", "年龄（周岁）", "性别", "就诊科室",
	"就诊类别", "就诊日期", "就诊结束日期", "诊断（ICD编码）", "诊断（文字）", "主诉",
	"现病史（临床症状）", "既往新冠阳性次数", "上次感染日期", "疫苗接种次数", "末次接种日期",
	"是否收入院", "入院日期", "出院日期", "是否收入ICU", "入ICU日期", "出ICU日期", "是否死亡",
	"死亡诊断", "死亡日期",
}

var diagnosisColumns = []string{
	"患者ID", "姓名", "就诊类型", "就诊日期", "诊断", "诊断编码", "诊断类型", "诊断医生",
	"诊断科室", "诊断状态", SourceColumn, UpdatedColumn,
}

var covidCaseColumns = []string{
	"患者ID", "姓名", "就诊类型", "就诊日期", "诊断", "感染状态", "检测方法", "检测结果",
	"检测日期", "症状", "严重程度", "治疗方案", SourceColumn, UpdatedColumn,
}

var antiviralColumns = []string{
	"患者ID", "姓名", "药物名称", "药物类型", "用药日期", "剂量", "单位", "频次", "用药途径",
	"用药天数", "医嘱医生", "医嘱科室", SourceColumn, UpdatedColumn,
}

var covidTestColumns = []string{
	"患者ID", "姓名", "检查名称", "检查方法", "检查日期", "检查结果", "结果类型", "CT值",
	"检查部门", "采样部位", "备注", SourceColumn, UpdatedColumn,
}

var populationColumns = []string{
	"患者ID", "姓名", "年龄", "性别", "地区", "年龄段", "人群类别", "特殊人群标记", "备注",
	SourceColumn, UpdatedColumn,
}

var patientColumns = []string{
	"患者ID", "姓名", "年龄", "性别", "出生日期", "联系方式", "家庭住址", "首次就诊日期",
	"最近就诊日期", "就诊次数", SourceColumn, UpdatedColumn,
}

func listingDefinitions() []*Definition {
	visitSources := []string{Outpatient, Inpatient}
	return []*Definition{
		{Key: Visits, Number: 1, Name: "Lis01_就诊合并", Kind: KindListing, Sources: visitSources, Columns: visitColumns, Transform: buildVisits},
		{Key: Diagnoses, Number: 2, Name: "Lis02_诊断", Kind: KindListing, Sources: visitSources, Columns: diagnosisColumns, Transform: buildDiagnoses},
		{Key: CovidCases, Number: 3, Name: "Lis03_新冠感染", Kind: KindListing, Sources: []string{Outpatient, Inpatient, Examination}, Columns: covidCaseColumns, Transform: buildCovidCases},
		{Key: Antivirals, Number: 4, Name: "Lis04_抗病毒药物", Kind: KindListing, Sources: []string{Medication}, Columns: antiviralColumns, Transform: buildAntivirals},
		{Key: CovidTests, Number: 5, Name: "Lis05_新冠检测", Kind: KindListing, Sources: []string{Examination}, Columns: covidTestColumns, Transform: buildCovidTests},
		{Key: Population, Number: 6, Name: "Lis06_人群划分", Kind: KindListing, Sources: visitSources, Columns: populationColumns, Transform: buildPopulation},
		{Key: Patients, Number: 7, Name: "LisA1_唯一患者", Kind: KindListing, Sources: visitSources, Columns: patientColumns, Transform: buildPatients},
	}
}

// =============================================================================
// 1. VISITS
// =============================================================================

func buildVisits(in Inputs) (*types.Table, error) {
	out := types.NewTable("Lis01_就诊合并", visitColumns)
	sourceCol := out.ColumnIndex("来源")

	for _, key := range []string{Outpatient, Inpatient} {
		src := in[key]
		specs := map[string]column{
			"患者编号":      {keywords: []string{"患者编号", "患者ID"}, exact: true},
			"年龄（周岁）":    {keywords: []string{"年龄（周岁）", "年龄"}, exact: true},
			"诊断（ICD编码）":  {keywords: []string{"诊断（ICD编码）", "诊断编码"}, exact: true},
			"诊断（文字）":    {keywords: []string{"诊断（文字）", "诊断"}, exact: true},
			"现病史（临床症状）": {keywords: []string{"现病史（临床症状）", "现病史", "临床症状"}, exact: true},
			"来源":        unbound,
		}
		if key == Inpatient {
			specs["就诊日期"] = column{keywords: []string{"入院日期", "就诊日期"}, exact: true}
			specs["就诊结束日期"] = column{keywords: []string{"出院日期", "就诊结束日期"}, exact: true}
		}

		b := bindExact(src, visitColumns, specs)
		for _, row := range src.Rows {
			r := b.project(row)
			r[sourceCol] = visitLabel(key)
			out.Rows = append(out.Rows, r)
		}
	}
	return out, nil
}

// =============================================================================
// 2. DIAGNOSES
// =============================================================================

func buildDiagnoses(in Inputs) (*types.Table, error) {
	out := types.NewTable("Lis02_诊断", diagnosisColumns)

	for _, key := range []string{Outpatient, Inpatient} {
		src := in[key]
		specs := map[string]column{
			"患者ID":       patientIDColumn,
			"姓名":         nameColumn,
			"就诊类型":       unbound,
			"就诊日期":       visitDateColumn(key),
			"诊断":         diagnosisColumn,
			"诊断编码":       diagnosisCodeColumn,
			"诊断类型":       {keywords: []string{"诊断类型", "诊断类别"}},
			"诊断医生":       {keywords: []string{"诊断医生", "接诊医生", "主治医生", "医生"}},
			"诊断科室":       {keywords: []string{"诊断科室", "就诊科室", "科室"}},
			"诊断状态":       {keywords: []string{"诊断状态"}},
			SourceColumn:  unbound,
			UpdatedColumn: unbound,
		}
		b := bind(src, diagnosisColumns, specs)
		if b.at(out, "患者ID") < 0 || b.at(out, "诊断") < 0 {
			continue
		}

		for _, row := range src.Rows {
			r := b.project(row)
			if get(out, r, "诊断") == "" {
				continue
			}
			set(out, r, "就诊类型", visitLabel(key))
			set(out, r, SourceColumn, src.Name)
			out.Rows = append(out.Rows, r)
		}
	}
	return out, nil
}

// =============================================================================
// 3. COVID CASES
// =============================================================================

func buildCovidCases(in Inputs) (*types.Table, error) {
	out := types.NewTable("Lis03_新冠感染", covidCaseColumns)

	for _, key := range []string{Outpatient, Inpatient} {
		src := in[key]
		specs := map[string]column{
			"患者ID":       patientIDColumn,
			"姓名":         nameColumn,
			"就诊类型":       unbound,
			"就诊日期":       visitDateColumn(key),
			"诊断":         diagnosisColumn,
			"感染状态":       unbound,
			"检测方法":       unbound,
			"检测结果":       unbound,
			"检测日期":       unbound,
			"症状":         {keywords: []string{"症状", "主诉", "临床症状", "现病史"}},
			"严重程度":       {keywords: []string{"严重程度", "病情", "临床分型"}},
			"治疗方案":       {keywords: []string{"治疗方案", "治疗措施", "治疗"}},
			SourceColumn:  unbound,
			UpdatedColumn: unbound,
		}
		b := bind(src, covidCaseColumns, specs)
		if b.at(out, "诊断") < 0 {
			continue
		}

		for _, row := range src.Rows {
			r := b.project(row)
			if !containsAny(get(out, r, "诊断"), covidKeywords) {
				continue
			}
			set(out, r, "就诊类型", visitLabel(key))
			set(out, r, "感染状态", "确诊")
			set(out, r, SourceColumn, src.Name)
			out.Rows = append(out.Rows, r)
		}
	}

	src := in[Examination]
	nameIdx := examNameColumn.find(src.Header)
	if nameIdx >= 0 {
		specs := map[string]column{
			"患者ID":       patientIDColumn,
			"姓名":         nameColumn,
			"就诊类型":       unbound,
			"就诊日期":       examDateColumn,
			"诊断":         unbound,
			"感染状态":       unbound,
			"检测方法":       examMethodColumn,
			"检测结果":       examResultColumn,
			"检测日期":       examDateColumn,
			"症状":         unbound,
			"严重程度":       unbound,
			"治疗方案":       unbound,
			SourceColumn:  unbound,
			UpdatedColumn: unbound,
		}
		b := bind(src, covidCaseColumns, specs)
		for _, row := range src.Rows {
			testName := types.Cell(row, nameIdx)
			if !containsAny(testName, covidTestKeywords) {
				continue
			}
			r := b.project(row)
			set(out, r, "就诊类型", visitExam)
			if get(out, r, "检测方法") == "" {
				set(out, r, "检测方法", InferTestMethod(testName))
			}
			set(out, r, "感染状态", infectionStatus(ClassifyResult(get(out, r, "检测结果"))))
			set(out, r, SourceColumn, src.Name)
			out.Rows = append(out.Rows, r)
		}
	}
	return out, nil
}

func infectionStatus(result string) string {
	switch result {
	case "阳性":
		return "确诊"
	case "阴性":
		return "排除"
	default:
		return "未知"
	}
}

// =============================================================================
// 4. ANTIVIRALS
// =============================================================================

func buildAntivirals(in Inputs) (*types.Table, error) {
	out := types.NewTable("Lis04_抗病毒药物", antiviralColumns)
	src := in[Medication]

	specs := map[string]column{
		"患者ID":       patientIDColumn,
		"姓名":         nameColumn,
		"药物名称":       {keywords: []string{"药物名称", "药品名称", "药名", "通用名", "医嘱名称", "医嘱内容"}},
		"药物类型":       unbound,
		"用药日期":       {keywords: []string{"用药日期", "医嘱日期", "开始日期", "开始时间", "医嘱时间"}},
		"剂量":         {keywords: []string{"剂量", "单次剂量"}, exclude: []string{"单位"}},
		"单位":         {keywords: []string{"单位", "剂量单位"}},
		"频次":         {keywords: []string{"频次", "频率", "用药频次"}},
		"用药途径":       {keywords: []string{"用药途径", "给药途径", "途径", "用法"}},
		"用药天数":       {keywords: []string{"用药天数", "天数", "疗程"}},
		"医嘱医生":       {keywords: []string{"医嘱医生", "开单医生", "开嘱医生", "医生"}},
		"医嘱科室":       {keywords: []string{"医嘱科室", "开单科室", "科室"}},
		SourceColumn:  unbound,
		UpdatedColumn: unbound,
	}
	b := bind(src, antiviralColumns, specs)
	if b.at(out, "药物名称") < 0 {
		return out, nil
	}

	for _, row := range src.Rows {
		r := b.project(row)
		if !containsAny(get(out, r, "药物名称"), antiviralKeywords) {
			continue
		}
		set(out, r, "药物类型", "抗病毒药物")
		set(out, r, SourceColumn, src.Name)
		out.Rows = append(out.Rows, r)
	}
	return out, nil
}

// =============================================================================
// 5. COVID TESTS
// =============================================================================

func buildCovidTests(in Inputs) (*types.Table, error) {
	out := types.NewTable("Lis05_新冠检测", covidTestColumns)
	src := in[Examination]

	specs := map[string]column{
		"患者ID":       patientIDColumn,
		"姓名":         nameColumn,
		"检查名称":       examNameColumn,
		"检查方法":       examMethodColumn,
		"检查日期":       examDateColumn,
		"检查结果":       examResultColumn,
		"结果类型":       unbound,
		"CT值":        {keywords: []string{"CT值", "Ct值", "循环阈值"}},
		"检查部门":       {keywords: []string{"检查部门", "检查科室", "送检科室", "执行科室"}},
		"采样部位":       {keywords: []string{"采样部位", "标本类型", "标本"}},
		"备注":         {keywords: []string{"备注", "说明"}},
		SourceColumn:  unbound,
		UpdatedColumn: unbound,
	}
	b := bind(src, covidTestColumns, specs)
	if b.at(out, "检查名称") < 0 {
		return out, nil
	}

	for _, row := range src.Rows {
		r := b.project(row)
		name := get(out, r, "检查名称")
		if !containsAny(name, covidTestKeywords) {
			continue
		}
		if get(out, r, "检查方法") == "" {
			set(out, r, "检查方法", InferTestMethod(name))
		}
		set(out, r, "结果类型", ClassifyResult(get(out, r, "检查结果")))
		set(out, r, SourceColumn, src.Name)
		out.Rows = append(out.Rows, r)
	}
	return out, nil
}

// =============================================================================
// 6. POPULATION
// =============================================================================

func buildPopulation(in Inputs) (*types.Table, error) {
	out := types.NewTable("Lis06_人群划分", populationColumns)

	for _, key := range []string{Outpatient, Inpatient} {
		src := in[key]
		specs := map[string]column{
			"患者ID":       patientIDColumn,
			"姓名":         nameColumn,
			"年龄":         ageColumn,
			"性别":         genderColumn,
			"地区":         {keywords: []string{"地区", "区域", "所在地区", "现住址", "家庭住址", "住址", "地址"}},
			"年龄段":        unbound,
			"人群类别":       unbound,
			"特殊人群标记":     {keywords: []string{"特殊人群标记", "特殊人群"}},
			"备注":         unbound,
			SourceColumn:  unbound,
			UpdatedColumn: unbound,
		}
		b := bind(src, populationColumns, specs)

		for _, row := range src.Rows {
			r := b.project(row)
			age, known := ParseAge(get(out, r, "年龄"))
			set(out, r, "年龄段", AgeGroup(age, known))
			set(out, r, "人群类别", PopulationCategory(age, known, get(out, r, "性别")))
			if !known {
				set(out, r, "备注", "年龄缺失")
			}
			set(out, r, SourceColumn, src.Name)
			out.Rows = append(out.Rows, r)
		}
	}
	return out, nil
}

// =============================================================================
// 7. UNIQUE PATIENTS
// =============================================================================

type patientVisits struct {
	latest []string
	first  string
	last   string
	count  int
}

func buildPatients(in Inputs) (*types.Table, error) {
	out := types.NewTable("LisA1_唯一患者", patientColumns)

	var order []string
	patients := make(map[string]*patientVisits)

	for _, key := range []string{Outpatient, Inpatient} {
		src := in[key]
		specs := map[string]column{
			"患者ID":       patientIDColumn,
			"姓名":         nameColumn,
			"年龄":         ageColumn,
			"性别":         genderColumn,
			"出生日期":       {keywords: []string{"出生日期", "生日"}},
			"联系方式":       {keywords: []string{"联系方式", "联系电话", "电话", "手机"}},
			"家庭住址":       {keywords: []string{"家庭住址", "现住址", "住址", "地址"}},
			"首次就诊日期":     unbound,
			"最近就诊日期":     unbound,
			"就诊次数":       unbound,
			SourceColumn:  unbound,
			UpdatedColumn: unbound,
		}
		b := bind(src, patientColumns, specs)
		if b.at(out, "患者ID") < 0 {
			continue
		}
		dateIdx := visitDateColumn(key).find(src.Header)

		for _, row := range src.Rows {
			r := b.project(row)
			id := get(out, r, "患者ID")
			if id == "" {
				continue
			}
			set(out, r, SourceColumn, src.Name)
			date := types.Cell(row, dateIdx)

			p, ok := patients[id]
			if !ok {
				p = &patientVisits{}
				patients[id] = p
				order = append(order, id)
			}
			p.count++
			if date != "" && (p.first == "" || date < p.first) {
				p.first = date
			}
			if p.latest == nil || date >= p.last {
				p.latest = r
				if date != "" {
					p.last = date
				}
			}
		}
	}

	for _, id := range order {
		p := patients[id]
		r := p.latest
		set(out, r, "首次就诊日期", p.first)
		set(out, r, "最近就诊日期", p.last)
		set(out, r, "就诊次数", strconv.Itoa(p.count))
		out.Rows = append(out.Rows, r)
	}
	return out, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// bindExact is bind with exact-name matching for columns without keywords.
func bindExact(src *types.Table, header []string, specs map[string]column) binding {
	b := make(binding, len(header))
	for i, name := range header {
		spec, ok := specs[name]
		if !ok {
			spec = column{keywords: []string{name}, exact: true}
		}
		b[i] = spec.find(src.Header)
	}
	return b
}

// at returns the source index bound to an output column.
func (b binding) at(out *types.Table, name string) int {
	i := out.ColumnIndex(name)
	if i < 0 {
		return -1
	}
	return b[i]
}

// get returns the projected cell of an output column.
func get(out *types.Table, row []string, name string) string {
	return types.Cell(row, out.ColumnIndex(name))
}

// set assigns an output column of a projected row.
func set(out *types.Table, row []string, name, v string) {
	if i := out.ColumnIndex(name); i >= 0 && i < len(row) {
		row[i] = v
	}
}
