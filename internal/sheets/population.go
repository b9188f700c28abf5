package sheets

import (
	"regexp"
	"strconv"
	"strings"
)

var leadingNumber = regexp.MustCompile(`^\d+(\.\d+)?`)

// ParseAge extracts an age in whole years from values such as "65",
// "65.0", "65岁", "3个月" or "12天". Ages given in months or days count as 0.
func ParseAge(v string) (int, bool) {
	v = strings.TrimSpace(v)
	m := leadingNumber.FindString(v)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil || f < 0 || f > 150 {
		return 0, false
	}
	rest := v[len(m):]
	if strings.Contains(rest, "月") || strings.Contains(rest, "天") || strings.Contains(rest, "周") {
		return 0, true
	}
	return int(f), true
}

// AgeGroup returns the age band label used by the population listing.
func AgeGroup(age int, known bool) string {
	switch {
	case !known:
		return "未知"
	case age < 3:
		return "婴幼儿(0-2岁)"
	case age < 6:
		return "学龄前(3-5岁)"
	case age < 12:
		return "儿童(6-11岁)"
	case age < 18:
		return "青少年(12-17岁)"
	case age < 35:
		return "青年(18-34岁)"
	case age < 60:
		return "中年(35-59岁)"
	case age < 80:
		return "老年(60-79岁)"
	default:
		return "高龄老人(80岁以上)"
	}
}

// PopulationCategory classifies by age when it is known and falls back to
// gender otherwise.
func PopulationCategory(age int, known bool, gender string) string {
	if known {
		switch {
		case age >= 65:
			return "老年人"
		case age >= 18:
			return "成年人"
		default:
			return "儿童青少年"
		}
	}
	switch g := strings.ToLower(strings.TrimSpace(gender)); {
	case g == "男" || g == "男性" || g == "m" || g == "male":
		return "男性"
	case g == "女" || g == "女性" || g == "f" || g == "female":
		return "女性"
	default:
		return "未分类"
	}
}
