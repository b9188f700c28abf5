package sheets

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/ginjaninja78/excelflow/internal/types"
	"golang.org/x/text/width"
)

// CleanColumnName folds full-width characters to their narrow forms,
// collapses runs of whitespace, and strips everything that is not a letter,
// digit, underscore or space. "年龄（周岁）" becomes "年龄周岁" and
// "患者ＩＤ" becomes "患者ID".
func CleanColumnName(name string) string {
	name = width.Fold.String(name)
	name = strings.Join(strings.Fields(name), " ")

	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == ' ' {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// CleanHeader cleans every column name, names blank columns 列1, 列2, ...
// by position, and suffixes repeated names with _2, _3, ... The result never
// holds the same name twice, even when a suffixed name is already a column.
func CleanHeader(header []string) []string {
	out := make([]string, len(header))
	used := make(map[string]bool, len(header))
	next := make(map[string]int, len(header))
	for i, h := range header {
		base := CleanColumnName(h)
		if base == "" {
			base = fmt.Sprintf("列%d", i+1)
		}
		name := base
		for used[name] {
			if next[base] < 2 {
				next[base] = 2
			}
			name = fmt.Sprintf("%s_%d", base, next[base])
			next[base]++
		}
		used[name] = true
		out[i] = name
	}
	return out
}

// column describes how to locate one source column by keywords.
type column struct {
	// keywords are tried in order, first for an exact (case-insensitive)
	// header match, then as substrings of the header names.
	keywords []string

	// exclude rejects substring matches whose header contains any of these.
	exclude []string

	// exact disables the substring pass.
	exact bool
}

// FindColumn returns the index of the first header matching one of the
// keywords, or -1. Exact matches win over substring matches.
func FindColumn(header []string, keywords ...string) int {
	return column{keywords: keywords}.find(header)
}

func (c column) find(header []string) int {
	lower := make([]string, len(header))
	for i, h := range header {
		lower[i] = strings.ToLower(h)
	}

	for _, kw := range c.keywords {
		kw = strings.ToLower(CleanColumnName(kw))
		for i, h := range lower {
			if h == kw {
				return i
			}
		}
	}
	if c.exact {
		return -1
	}

	for i, h := range lower {
		if containsAny(h, c.exclude) {
			continue
		}
		for _, kw := range c.keywords {
			if kw != "" && strings.Contains(h, strings.ToLower(CleanColumnName(kw))) {
				return i
			}
		}
	}
	return -1
}

// binding maps output columns to source column indexes (-1 when absent).
type binding []int

// bind resolves every output column against the source header. Columns
// without keywords are looked up by their own name.
func bind(src *types.Table, header []string, specs map[string]column) binding {
	b := make(binding, len(header))
	for i, name := range header {
		spec, ok := specs[name]
		if !ok {
			spec = column{keywords: []string{name}}
		}
		b[i] = spec.find(src.Header)
	}
	return b
}

// project copies the bound source cells of row into a new output row.
func (b binding) project(row []string) []string {
	out := make([]string, len(b))
	for i, idx := range b {
		out[i] = types.Cell(row, idx)
	}
	return out
}

// containsAny reports whether s contains any of the substrings,
// comparing ASCII letters case-insensitively.
func containsAny(s string, subs []string) bool {
	s = strings.ToLower(s)
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
