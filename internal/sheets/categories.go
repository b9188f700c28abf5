package sheets

import (
	"github.com/ginjaninja78/excelflow/internal/types"
)

// Category keys.
const (
	Outpatient  = "outpatient"
	Inpatient   = "inpatient"
	Medication  = "medication"
	Oxygen      = "oxygen"
	Examination = "examination"
	Statistics  = "statistics"
)

func categoryDefinitions() []*Definition {
	return []*Definition{
		category(Outpatient, "门急诊信息", "患者ID", "姓名", "性别", "年龄", "就诊日期", "就诊科室", "诊断", "诊断编码"),
		category(Inpatient, "住院信息", "患者ID", "姓名", "性别", "年龄", "入院日期", "出院日期", "就诊科室", "诊断", "诊断编码"),
		category(Medication, "药物医嘱信息", "患者ID", "药物名称", "用药日期", "剂量", "频次"),
		category(Oxygen, "氧疗信息", "患者ID", "氧疗方式", "开始日期", "结束日期"),
		category(Examination, "检查信息", "患者ID", "检查名称", "检查日期", "检查结果"),
		category(Statistics, "统计数据"),
	}
}

// category defines a source sheet that is passed through after normalisation.
func category(key, name string, expected ...string) *Definition {
	return &Definition{
		Key:     key,
		Name:    name,
		Kind:    KindCategory,
		Sources: []string{key},
		Columns: expected,
		Transform: func(in Inputs) (*types.Table, error) {
			out := in[key].Clone()
			out.Name = name
			return out, nil
		},
	}
}

// Normalize prepares a raw source sheet for the transforms: header names are
// cleaned and made unique, and date columns are rewritten to a single
// layout. It returns the normalised copy and the number of date cells that
// could not be parsed.
func Normalize(raw *types.Table) (*types.Table, int) {
	t := raw.Clone()
	t.Header = CleanHeader(t.Header)
	bad := NormalizeDates(t)
	return t, bad
}
