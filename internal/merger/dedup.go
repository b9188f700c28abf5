package merger

import (
	"strings"

	"github.com/ginjaninja78/excelflow/internal/config"
	"github.com/ginjaninja78/excelflow/internal/sheets"
	"github.com/ginjaninja78/excelflow/internal/types"
)

// idKeywords mark identifier columns for the first_by_id policy.
var idKeywords = []string{"id", "编号", "标识"}

// Dedupe removes duplicate rows from t in place according to policy and
// returns the number of rows removed. The first occurrence always wins, so
// file name order decides which copy is kept.
//
//   - keep_all:    nothing is removed
//   - first_by_id: one row per value of the first id-like column; rows with
//     an empty id are all kept. Without an id-like column this behaves like
//     drop_exact.
//   - drop_exact:  rows equal on every column except the provenance columns
func Dedupe(t *types.Table, policy string) int {
	switch policy {
	case config.DedupFirstByID:
		if col := IDColumn(t.Header); col >= 0 {
			return dedupeBy(t, func(row []string) (string, bool) {
				id := strings.TrimSpace(types.Cell(row, col))
				return id, id != ""
			})
		}
		return dedupeExact(t)
	case config.DedupExact:
		return dedupeExact(t)
	default:
		return 0
	}
}

// IDColumn returns the index of the first header naming an identifier, or -1.
func IDColumn(header []string) int {
	for i, h := range header {
		lower := strings.ToLower(h)
		for _, kw := range idKeywords {
			if strings.Contains(lower, kw) {
				return i
			}
		}
	}
	return -1
}

func dedupeExact(t *types.Table) int {
	var cols []int
	for i, h := range t.Header {
		if h != sheets.SourceColumn && h != sheets.UpdatedColumn {
			cols = append(cols, i)
		}
	}
	return dedupeBy(t, func(row []string) (string, bool) {
		var b strings.Builder
		for _, c := range cols {
			b.WriteString(types.Cell(row, c))
			b.WriteByte(0x1f)
		}
		return b.String(), true
	})
}

// dedupeBy keeps the first row per key. Rows for which key reports false
// are always kept.
func dedupeBy(t *types.Table, key func(row []string) (string, bool)) int {
	seen := make(map[string]bool, len(t.Rows))
	kept := t.Rows[:0]
	for _, row := range t.Rows {
		k, ok := key(row)
		if ok {
			if seen[k] {
				continue
			}
			seen[k] = true
		}
		kept = append(kept, row)
	}
	removed := len(t.Rows) - len(kept)
	t.Rows = kept
	return removed
}
