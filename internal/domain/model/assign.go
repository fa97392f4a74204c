package model

import (
	"fmt"

	"github.com/kailas-cloud/livedoc/internal/domain"
	"github.com/kailas-cloud/livedoc/internal/domain/query"
	"github.com/kailas-cloud/livedoc/internal/domain/tx"
)

// Assign applies ops, in order, to a copy of doc. Elements are addressed the way the
// compiled update addresses them: a pattern selects every matching element, an unpatterned
// array segment selects all elements, missing embedded objects are skipped.
func (m *Model) Assign(doc domain.Doc, ops []tx.Operation) (domain.Doc, error) {
	out := doc.Clone()
	if out.Attributes == nil {
		out.Attributes = make(map[string]any)
	}
	for i, op := range ops {
		t, err := m.ResolveOperation(doc.Class, op)
		if err != nil {
			return domain.Doc{}, fmt.Errorf("operation %d: %w", i, err)
		}
		if err := m.apply(&out, t, op); err != nil {
			return domain.Doc{}, fmt.Errorf("operation %d: %w", i, err)
		}
	}
	return out, nil
}

func (m *Model) apply(doc *domain.Doc, t Target, op tx.Operation) error {
	if t.Mixin && !doc.HasMixin(t.Root) {
		doc.Mixins = append(doc.Mixins, t.Root)
	}
	switch op.Kind {
	case tx.Set:
		values := make(map[string]any, len(op.Attributes))
		for key, v := range op.Attributes {
			attr, err := t.Node.Attribute(key)
			if err != nil {
				return err
			}
			nv, err := m.normalize(key, attr.Type, v)
			if err != nil {
				return err
			}
			values[key] = nv
		}
		for _, node := range walk(doc.Attributes, t.Segments) {
			for key, v := range values {
				node[key] = domain.CloneValue(v)
			}
		}
	case tx.Push:
		last, _ := t.Last()
		obj := op.Attributes
		if obj == nil {
			obj = map[string]any{}
		}
		elem, err := m.normalize(last.Key, last.Attr.Type.Elem(), obj)
		if err != nil {
			return err
		}
		for _, parent := range walk(doc.Attributes, t.Segments[:len(t.Segments)-1]) {
			list, _ := parent[last.Key].([]any)
			parent[last.Key] = append(list, domain.CloneValue(elem))
		}
	case tx.Pull:
		last, _ := t.Last()
		for _, parent := range walk(doc.Attributes, t.Segments[:len(t.Segments)-1]) {
			if last.Pattern == nil {
				delete(parent, last.Key)
				continue
			}
			list, ok := parent[last.Key].([]any)
			if !ok {
				continue
			}
			kept := make([]any, 0, len(list))
			for _, e := range list {
				if obj, ok := e.(map[string]any); ok && last.Child.match(obj, last.Pattern) {
					continue
				}
				kept = append(kept, e)
			}
			parent[last.Key] = kept
		}
	}
	return nil
}

// walk returns the object nodes addressed by segs, starting at root.
func walk(root map[string]any, segs []Segment) []map[string]any {
	nodes := []map[string]any{root}
	for _, seg := range segs {
		var next []map[string]any
		for _, n := range nodes {
			v := n[seg.Key]
			if !seg.Attr.Type.IsArray() {
				if obj, ok := v.(map[string]any); ok {
					next = append(next, obj)
				}
				continue
			}
			list, _ := v.([]any)
			for _, e := range list {
				obj, ok := e.(map[string]any)
				if !ok {
					continue
				}
				if seg.Pattern != nil && !seg.Child.match(obj, seg.Pattern) {
					continue
				}
				next = append(next, obj)
			}
		}
		nodes = next
	}
	return nodes
}

// SortDocs orders docs by sort, breaking ties by id.
func SortDocs(docs []domain.Doc, sort []query.SortField) {
	keys := query.WithTieBreak(sort)
	query.SortStable(docs, keys, func(i int) query.Getter { return docs[i].Value })
}

// CompareDocs orders two documents by sort, breaking ties by id.
func CompareDocs(sort []query.SortField, a, b *domain.Doc) int {
	return query.CompareBy(query.WithTieBreak(sort), a.Value, b.Value)
}
