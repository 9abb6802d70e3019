package store

import (
	"fmt"
	"sort"
)

// PatchOp is one leaf-level difference between two document versions.
type PatchOp struct {
	Path string
	Op   string // "add", "remove", "replace"
	From any    `json:"from,omitempty"`
	To   any    `json:"to,omitempty"`
}

// Diff returns the leaf-path differences between versions v1 and v2 of key,
// v1 first.
func (s *Store) Diff(collection CollectionName, key string, v1, v2 Version) ([]PatchOp, error) {
	sh := s.ShardFor(collection, key)
	sh.RLock()
	defer sh.RUnlock()

	dk := s.dk(collection, key)
	e1, err := sh.getLocked(dk, v1)
	if err != nil {
		return nil, err
	}
	e2, err := sh.getLocked(dk, v2)
	if err != nil {
		return nil, err
	}
	return diffDocs(e1.Doc, e2.Doc), nil
}

func diffDocs(a, b map[string]any) []PatchOp {
	flatA := make(map[string]any)
	flatB := make(map[string]any)
	flatten("", a, flatA)
	flatten("", b, flatB)

	paths := make(map[string]bool)
	for p := range flatA {
		paths[p] = true
	}
	for p := range flatB {
		paths[p] = true
	}

	var ops []PatchOp
	for path := range paths {
		va, inA := flatA[path]
		vb, inB := flatB[path]
		switch {
		case !inA && inB:
			ops = append(ops, PatchOp{Path: path, Op: "add", To: vb})
		case inA && !inB:
			ops = append(ops, PatchOp{Path: path, Op: "remove", From: va})
		case !equalValues(va, vb):
			ops = append(ops, PatchOp{Path: path, Op: "replace", From: va, To: vb})
		}
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].Path < ops[j].Path })
	return ops
}

func flatten(prefix string, node any, out map[string]any) {
	switch v := node.(type) {
	case map[string]any:
		for k, child := range v {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			flatten(path, child, out)
		}
	case []any:
		for i, child := range v {
			path := fmt.Sprintf("%s.%d", prefix, i)
			flatten(path, child, out)
		}
	default:
		out[prefix] = node
	}
}
