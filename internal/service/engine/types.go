package engine

import (
	"fmt"
	"strings"
)

// Coercion helpers for JSON-shaped game documents. Narrator output arrives
// as map[string]any with float64 numbers; presets decode from YAML with
// int numbers. Everything reading game state goes through these.

func mapField(doc map[string]any, key string) map[string]any {
	if doc == nil {
		return nil
	}
	m, _ := doc[key].(map[string]any)
	return m
}

func listField(doc map[string]any, key string) []any {
	if doc == nil {
		return nil
	}
	l, _ := doc[key].([]any)
	return l
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float32:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// stringValue renders a scalar for the state documents: strings pass
// through, numbers format naturally, nil is empty.
func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(v)
	}
}

// itemToText extracts a display name from one inventory entry, which may
// be a bare string or an object keyed name/item/title.
func itemToText(item any) string {
	if m, ok := item.(map[string]any); ok {
		for _, key := range []string{"name", "item", "title"} {
			if text := strings.TrimSpace(stringValue(m[key])); text != "" {
				return text
			}
		}
		return ""
	}
	return strings.TrimSpace(stringValue(item))
}

// truncateRunes caps s at max code points, keeping the head.
func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// tailRunes caps s at max code points, keeping the tail.
func tailRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[len(r)-max:])
}

// floorDiv divides rounding toward negative infinity.
func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func toLowerSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[strings.ToLower(name)] = struct{}{}
	}
	return set
}

// deepCopyMap structurally copies a JSON-shaped document so snapshots and
// fakes never alias live state.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
