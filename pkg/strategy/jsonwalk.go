package strategy

import (
	"regexp"
	"sort"
	"time"
)

// Leaf is one scalar position in a decoded JSON document. Set replaces the
// value in place through the parent container.
type Leaf struct {
	Key string
	Val any
	Set func(any)
}

// walkLeaves visits every scalar leaf of a decoded JSON document. Object
// keys are visited in sorted order so RNG draws stay deterministic for a
// given document; Key is the nearest object key ("" for array elements).
func walkLeaves(doc any, visit func(Leaf)) {
	switch node := doc.(type) {
	case map[string]any:
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := node[k]
			switch v.(type) {
			case map[string]any, []any:
				walkLeaves(v, visit)
			default:
				visit(Leaf{Key: k, Val: v, Set: func(nv any) { node[k] = nv }})
			}
		}
	case []any:
		for i, v := range node {
			switch v.(type) {
			case map[string]any, []any:
				walkLeaves(v, visit)
			default:
				visit(Leaf{Val: v, Set: func(nv any) { node[i] = nv }})
			}
		}
	}
}

// asNumber reports v as float64 when it is a JSON number.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

var isoDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(?:[T ].*)?$`)

// dateLayouts are tried in order when reparsing a date leaf; the matched
// layout is reused on output so the shifted value keeps its shape.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// asDate reports v as a time plus the layout it was written in.
func asDate(v any) (time.Time, string, bool) {
	s, ok := v.(string)
	if !ok || !isoDateRe.MatchString(s) {
		return time.Time{}, "", false
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, layout, true
		}
	}
	return time.Time{}, "", false
}
