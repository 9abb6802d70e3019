package store

import (
	"strconv"
	"strings"
)

// getPath dot-addresses into nested maps and arrays. An empty path returns
// doc itself.
func getPath(doc any, path string) (any, bool) {
	if path == "" {
		return doc, true
	}
	cur := doc
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// shallowMerge implements `add`'s shallow-merge-into-existing-document
// semantics: top-level keys of patch overwrite or extend base.
func shallowMerge(base, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}

// matchesPredicate reports whether doc satisfies every equality constraint
// in predicate, where predicate keys are dot-paths.
func matchesPredicate(doc any, predicate map[string]any) bool {
	for path, want := range predicate {
		got, ok := getPath(doc, path)
		if !ok || !equalValues(got, want) {
			return false
		}
	}
	return true
}

// equalValues compares two decoded-JSON values for equality, tolerating the
// int/float64 mismatch that arises when predicates are built from Go
// literals but documents are round-tripped through encoding/json.
func equalValues(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// project returns a copy of doc restricted to the given dot-paths. A nil or
// empty projection returns doc unchanged.
func project(doc any, projection []string) any {
	if len(projection) == 0 {
		return doc
	}
	out := make(map[string]any, len(projection))
	for _, path := range projection {
		if v, ok := getPath(doc, path); ok {
			out[path] = v
		}
	}
	return out
}
