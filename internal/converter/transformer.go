// =============================================================================
// Excel Workflow - Transformation Rules
// =============================================================================
//
// This module applies the field-level transformation rules from the config
// file to an output sheet, after the sheet's built-in transform has run.
//
// RULES:
//   Rules are keyed by sheet key. Each rule names one output column and a
//   list of actions applied in order to every cell of that column, e.g.:
//
//     transformation_rules:
//       outpatient:
//         - field: 患者ID
//           actions:
//             - type: trim
//             - type: pad_zeros_to_length
//               value: "10"
//
//   A rule naming a column the sheet does not have is skipped and reported
//   to the caller. Regular expressions are compiled once, when the
//   Transformer is built, so a bad pattern is a configuration error.
//
// Lengths and offsets count characters (runes), not bytes, since most
// values are Chinese text.
//
// =============================================================================

package converter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/ginjaninja78/excelflow/internal/config"
	"github.com/ginjaninja78/excelflow/internal/types"
)

var (
	digitsPattern     = regexp.MustCompile(`\d+`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// =============================================================================
// TRANSFORMER
// =============================================================================

// Transformer applies the rules of one sheet.
type Transformer struct {
	rules    []config.TransformationRule
	patterns map[string]*regexp.Regexp
}

// NewTransformer compiles the rules of one sheet.
//
// RETURNS:
//   - The transformer.
//   - An error if a regex_replace pattern does not compile.
func NewTransformer(rules []config.TransformationRule) (*Transformer, error) {
	t := &Transformer{rules: rules, patterns: make(map[string]*regexp.Regexp)}
	for _, rule := range rules {
		for _, action := range rule.Actions {
			if action.Type != "regex_replace" || action.Find == "" {
				continue
			}
			if _, ok := t.patterns[action.Find]; ok {
				continue
			}
			re, err := regexp.Compile(action.Find)
			if err != nil {
				return nil, fmt.Errorf("field '%s': invalid regex pattern %q: %w", rule.Field, action.Find, err)
			}
			t.patterns[action.Find] = re
		}
	}
	return t, nil
}

// Empty reports whether the transformer has no rules.
func (t *Transformer) Empty() bool {
	return t == nil || len(t.rules) == 0
}

// ApplyTable runs every rule over the table in place.
//
// RETURNS:
//   - The fields of rules whose column is not in the table.
//   - An error naming the row and field of the first failing action.
func (t *Transformer) ApplyTable(table *types.Table) ([]string, error) {
	if t.Empty() {
		return nil, nil
	}

	var skipped []string
	for _, rule := range t.rules {
		col := table.ColumnIndex(rule.Field)
		if col < 0 {
			skipped = append(skipped, rule.Field)
			continue
		}
		for r, row := range table.Rows {
			value, err := t.apply(types.Cell(row, col), rule.Actions, table, row)
			if err != nil {
				return skipped, fmt.Errorf("row %d, field '%s': %w", r+1, rule.Field, err)
			}
			row[col] = value
		}
	}
	return skipped, nil
}

func (t *Transformer) apply(value string, actions []config.TransformationAction, table *types.Table, row []string) (string, error) {
	for _, action := range actions {
		var err error
		value, err = t.ApplyTransformation(value, action, func(field string) (string, bool) {
			col := table.ColumnIndex(field)
			if col < 0 {
				return "", false
			}
			return types.Cell(row, col), true
		})
		if err != nil {
			return "", fmt.Errorf("transformation '%s' failed: %w", action.Type, err)
		}
	}
	return value, nil
}

// FieldFunc looks up another cell of the same row by column name.
type FieldFunc func(field string) (string, bool)

// =============================================================================
// TRANSFORMATION FUNCTIONS
// =============================================================================

// ApplyTransformation applies a single action to a value.
//
// PARAMETERS:
//   - value: The current value.
//   - action: The action to apply. Value, Find and LookupTable are
//     interpreted per type (see below).
//   - field: Looks up other cells of the row, for if_empty_use_field.
//
// RETURNS:
//   - The transformed value.
//   - An error if the action type is unknown or the action is malformed.
func (t *Transformer) ApplyTransformation(value string, action config.TransformationAction, field FieldFunc) (string, error) {
	switch action.Type {

	// =========================================================================
	// STRING MANIPULATIONS
	// =========================================================================

	case "prepend_string":
		return action.Value + value, nil

	case "append_string":
		return value + action.Value, nil

	case "trim":
		return strings.TrimSpace(value), nil

	case "trim_left":
		if action.Value != "" {
			return strings.TrimLeft(value, action.Value), nil
		}
		return strings.TrimLeftFunc(value, unicode.IsSpace), nil

	case "trim_right":
		if action.Value != "" {
			return strings.TrimRight(value, action.Value), nil
		}
		return strings.TrimRightFunc(value, unicode.IsSpace), nil

	case "uppercase":
		return strings.ToUpper(value), nil

	case "lowercase":
		return strings.ToLower(value), nil

	case "replace":
		// find "-" value "_": "a-b" -> "a_b"
		if action.Find == "" {
			return value, nil
		}
		return strings.ReplaceAll(value, action.Find, action.Value), nil

	case "regex_replace":
		if action.Find == "" {
			return value, nil
		}
		re, ok := t.patterns[action.Find]
		if !ok {
			var err error
			if re, err = regexp.Compile(action.Find); err != nil {
				return "", fmt.Errorf("invalid regex pattern: %w", err)
			}
		}
		return re.ReplaceAllString(value, action.Value), nil

	case "substring":
		// value "start,end", 0-indexed, end exclusive: "ABCDEFGH" "2,5" -> "CDE"
		start, end, err := parseRange(action.Value)
		if err != nil {
			return "", err
		}
		runes := []rune(value)
		if end > len(runes) {
			end = len(runes)
		}
		if start >= end {
			return "", nil
		}
		return string(runes[start:end]), nil

	// =========================================================================
	// NUMERIC FORMATTING
	// =========================================================================

	case "pad_zeros_to_length":
		// value "8": "123" -> "00000123"
		n, err := parseLength(action.Value)
		if err != nil {
			return "", err
		}
		return PadLeft(value, n, '0'), nil

	case "ensure_length":
		// Truncates on the right, pads with leading zeros.
		n, err := parseLength(action.Value)
		if err != nil {
			return "", err
		}
		if runes := []rune(value); len(runes) > n {
			return string(runes[:n]), nil
		}
		return PadLeft(value, n, '0'), nil

	case "format_number":
		// value "2": "1234.5" -> "1234.50". Non-numbers pass through.
		places, err := strconv.Atoi(action.Value)
		if err != nil || places < 0 {
			return "", fmt.Errorf("invalid decimal places %q", action.Value)
		}
		num, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return value, nil
		}
		return strconv.FormatFloat(num, 'f', places, 64), nil

	case "remove_leading_zeros":
		if value == "" {
			return value, nil
		}
		if result := strings.TrimLeft(value, "0"); result != "" {
			return result, nil
		}
		return "0", nil

	// =========================================================================
	// DATE/TIME CONVERSIONS
	// =========================================================================

	case "format_date":
		// value "input_layout|output_layout" in Go time layout syntax, e.g.
		// "2006-01-02|2006年01月02日". Values that do not parse pass through.
		in, out, ok := strings.Cut(action.Value, "|")
		if !ok {
			return "", fmt.Errorf("format_date needs \"input|output\" layouts, got %q", action.Value)
		}
		parsed, err := time.Parse(strings.TrimSpace(in), value)
		if err != nil {
			return value, nil
		}
		return parsed.Format(strings.TrimSpace(out)), nil

	// =========================================================================
	// LOOKUP TABLE REPLACEMENTS
	// =========================================================================

	case "lookup":
		if replacement, exists := action.LookupTable[value]; exists {
			return replacement, nil
		}
		return value, nil

	case "lookup_with_default":
		if replacement, exists := action.LookupTable[value]; exists {
			return replacement, nil
		}
		return action.Value, nil

	// =========================================================================
	// EMPTY VALUE HANDLING
	// =========================================================================

	case "if_empty_use_default":
		if strings.TrimSpace(value) == "" {
			return action.Value, nil
		}
		return value, nil

	case "if_empty_use_field":
		if strings.TrimSpace(value) != "" || field == nil {
			return value, nil
		}
		if other, ok := field(action.Value); ok {
			return other, nil
		}
		return value, nil

	// =========================================================================
	// CHARACTER FILTERS
	// =========================================================================

	case "extract_digits":
		// "ABC-123-DEF-456" -> "123456"
		return strings.Join(digitsPattern.FindAllString(value, -1), ""), nil

	case "extract_letters":
		return strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) {
				return r
			}
			return -1
		}, value), nil

	case "remove_special_chars":
		// Keeps letters (Chinese included) and digits.
		return strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return r
			}
			return -1
		}, value), nil

	case "normalize_whitespace":
		return strings.TrimSpace(whitespacePattern.ReplaceAllString(value, " ")), nil

	default:
		return "", fmt.Errorf("unknown transformation type: %s", action.Type)
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func parseLength(v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid length %q", v)
	}
	return n, nil
}

func parseRange(v string) (int, int, error) {
	a, b, ok := strings.Cut(v, ",")
	if !ok {
		return 0, 0, fmt.Errorf("substring needs \"start,end\", got %q", v)
	}
	start, err1 := strconv.Atoi(strings.TrimSpace(a))
	end, err2 := strconv.Atoi(strings.TrimSpace(b))
	if err1 != nil || err2 != nil || start < 0 || end < 0 {
		return 0, 0, fmt.Errorf("invalid substring range %q", v)
	}
	return start, end, nil
}

// PadLeft pads s on the left with padChar to length characters.
func PadLeft(s string, length int, padChar rune) string {
	n := len([]rune(s))
	if n >= length {
		return s
	}
	return strings.Repeat(string(padChar), length-n) + s
}
