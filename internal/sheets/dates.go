package sheets

import (
	"strconv"
	"strings"
	"time"

	"github.com/ginjaninja78/excelflow/internal/types"
	"github.com/xuri/excelize/v2"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"

	// maxExcelSerial is 9999-12-31, the last date Excel can represent.
	maxExcelSerial = 2958465
)

var dateLayouts = []string{
	dateTimeLayout,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	dateLayout,
	"2006-1-2 15:04:05",
	"2006-1-2",
	"2006/01/02 15:04:05",
	"2006/1/2 15:04:05",
	"2006/1/2 15:04",
	"2006/1/2",
	"2006.1.2",
	"2006年1月2日 15:04:05",
	"2006年1月2日",
	"20060102",
}

// IsDateColumn reports whether a column holds dates or timestamps, judged
// by its name.
func IsDateColumn(name string) bool {
	return strings.Contains(name, "日期") || strings.Contains(name, "时间")
}

// NormalizeDate rewrites a date or timestamp as YYYY-MM-DD when the time of
// day is midnight and as YYYY-MM-DD HH:MM:SS otherwise. Excel serial numbers
// are accepted. The second return value is false when the value could not
// be parsed, in which case it is returned unchanged.
func NormalizeDate(value string) (string, bool) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", true
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return formatDate(t), true
		}
	}

	if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 1 && f <= maxExcelSerial {
		if t, err := excelize.ExcelDateToTime(f, false); err == nil {
			return formatDate(t.Round(time.Second)), true
		}
	}

	return value, false
}

// IsNormalizedDate reports whether v is empty or already in one of the two
// output layouts.
func IsNormalizedDate(v string) bool {
	if v == "" {
		return true
	}
	if _, err := time.Parse(dateLayout, v); err == nil {
		return true
	}
	_, err := time.Parse(dateTimeLayout, v)
	return err == nil
}

func formatDate(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return t.Format(dateLayout)
	}
	return t.Format(dateTimeLayout)
}

// NormalizeDates rewrites every date column of t in place and returns the
// number of cells that could not be parsed.
func NormalizeDates(t *types.Table) int {
	bad := 0
	for c, h := range t.Header {
		if !IsDateColumn(h) {
			continue
		}
		for _, row := range t.Rows {
			if c >= len(row) {
				continue
			}
			v, ok := NormalizeDate(row[c])
			if !ok {
				bad++
			}
			row[c] = v
		}
	}
	return bad
}
