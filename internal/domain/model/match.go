package model

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/livedoc/internal/domain"
	"github.com/kailas-cloud/livedoc/internal/domain/query"
	"github.com/kailas-cloud/livedoc/internal/domain/tx"
)

// Unknown marks an attribute changed through a nested selector; the new value is not
// known from the operations alone.
type Unknown struct{}

// Changed is the Delta value of attributes modified below the top level.
var Changed = Unknown{}

// MatchQuery reports whether doc belongs to the result set of (class, predicate). Evaluation
// is driven by attribute types, the same way the storage filter is compiled, so both agree.
// An invalid predicate matches nothing.
func (m *Model) MatchQuery(class domain.ClassRef, doc *domain.Doc, p query.Predicate) bool {
	if !m.matchClass(class, doc) {
		return false
	}
	expanded, err := query.Expand(p)
	if err != nil {
		return false
	}
	s, err := m.ClassScope(class)
	if err != nil {
		return false
	}
	return s.match(docNode(doc), expanded)
}

func (m *Model) matchClass(class domain.ClassRef, doc *domain.Doc) bool {
	if m.IsMixin(class) {
		for _, mx := range doc.Mixins {
			if m.IsMixin(mx) && m.Is(mx, class) {
				return true
			}
		}
		return false
	}
	return m.Is(doc.Class, class)
}

// docNode is a shallow stored-form view of doc.
func docNode(doc *domain.Doc) map[string]any {
	node := make(map[string]any, len(doc.Attributes)+3)
	for k, v := range doc.Attributes {
		node[k] = v
	}
	node[domain.KeyID] = string(doc.ID)
	node[domain.KeyClass] = string(doc.Class)
	if len(doc.Mixins) > 0 {
		mixins := make([]any, len(doc.Mixins))
		for i, mx := range doc.Mixins {
			mixins[i] = string(mx)
		}
		node[domain.KeyMixins] = mixins
	}
	return node
}

func (s Scope) match(node map[string]any, p map[string]any) bool {
	for key, cond := range p {
		attr, err := s.Attribute(key)
		if err != nil {
			return false
		}
		value, present := node[key]
		if !s.matchCondition(attr.Type, value, present, cond) {
			return false
		}
	}
	return true
}

func (s Scope) matchCondition(t AttributeType, value any, present bool, cond any) bool {
	kind, err := query.Classify(cond)
	if err != nil {
		return false
	}
	switch kind {
	case query.Literal:
		return query.Eval(query.OpEq, value, present, cond)
	case query.Operators:
		ops, _ := query.AsMap(cond)
		return query.EvalAll(ops, value, present)
	case query.Pattern:
		sub, _ := query.AsMap(cond)
		child, ok := s.Child(t)
		if !ok {
			return false
		}
		if t.IsArray() {
			return anyElement(value, func(e map[string]any) bool { return child.match(e, sub) })
		}
		obj, _ := value.(map[string]any)
		return child.match(obj, sub)
	case query.PatternList:
		child, ok := s.Child(t)
		if !ok || !t.IsArray() {
			return false
		}
		for _, sub := range query.AsPatternList(cond) {
			if !anyElement(value, func(e map[string]any) bool { return child.match(e, sub) }) {
				return false
			}
		}
		return true
	}
	return false
}

func anyElement(value any, fn func(map[string]any) bool) bool {
	list, _ := value.([]any)
	for _, e := range list {
		if obj, ok := e.(map[string]any); ok && fn(obj) {
			return true
		}
	}
	return false
}

// ValidatePredicate checks that every predicate key resolves on class and that patterns
// only address embedded objects, arrays of embedded objects or bags.
func (m *Model) ValidatePredicate(class domain.ClassRef, p query.Predicate) error {
	s, err := m.ClassScope(class)
	if err != nil {
		return err
	}
	expanded, err := query.Expand(p)
	if err != nil {
		return err
	}
	return s.validate(expanded)
}

// Validate is ValidatePredicate relative to the object scope s.
func (s Scope) Validate(p query.Predicate) error {
	expanded, err := query.Expand(p)
	if err != nil {
		return err
	}
	return s.validate(expanded)
}

func (s Scope) validate(p map[string]any) error {
	for _, key := range query.Predicate(p).Keys() {
		attr, err := s.Attribute(key)
		if err != nil {
			return err
		}
		kind, err := query.Classify(p[key])
		if err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		switch kind {
		case query.Pattern:
			child, ok := s.Child(attr.Type)
			if !ok {
				return fmt.Errorf("pattern on %s attribute %q: %w", attr.Type, key, domain.ErrInvalidQuery)
			}
			sub, _ := query.AsMap(p[key])
			if err := child.validate(sub); err != nil {
				return err
			}
		case query.PatternList:
			child, ok := s.Child(attr.Type)
			if !ok || !attr.Type.IsArray() {
				return fmt.Errorf("pattern list on %s attribute %q: %w", attr.Type, key, domain.ErrInvalidQuery)
			}
			for _, sub := range query.AsPatternList(p[key]) {
				if err := child.validate(sub); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// IsPartialMatched reports whether an update that changed delta could make a document start
// matching (class, predicate): at least one predicate key was changed and every changed key
// satisfies its condition. Keys changed below the top level count as satisfied.
func (m *Model) IsPartialMatched(class domain.ClassRef, delta map[string]any, p query.Predicate) bool {
	if m.IsMixin(class) {
		if _, ok := delta[domain.KeyMixins]; ok {
			return true
		}
	}
	expanded, err := query.Expand(p)
	if err != nil {
		return true
	}
	s, err := m.ClassScope(class)
	if err != nil {
		return true
	}
	overlap := false
	for key, cond := range expanded {
		v, ok := delta[key]
		if !ok {
			continue
		}
		overlap = true
		if v == Changed {
			continue
		}
		attr, err := s.Attribute(key)
		if err != nil {
			return true
		}
		if !s.matchCondition(attr.Type, v, true, cond) {
			return false
		}
	}
	return overlap
}

// IsPredicateTouched reports whether an update that changed delta could make a document
// start or stop matching (class, predicate).
func (m *Model) IsPredicateTouched(class domain.ClassRef, delta map[string]any, p query.Predicate) bool {
	if _, ok := delta[domain.KeyMixins]; ok && m.IsMixin(class) {
		return true
	}
	expanded, err := query.Expand(p)
	if err != nil {
		return true
	}
	for key := range expanded {
		top, _, _ := strings.Cut(key, ".")
		if _, ok := delta[top]; ok {
			return true
		}
	}
	return false
}

// IsSortHasEffect reports whether any sort key lies under a changed attribute.
func IsSortHasEffect(delta map[string]any, sort []query.SortField) bool {
	for _, f := range sort {
		top, _, _ := strings.Cut(f.Path, ".")
		if _, ok := delta[top]; ok {
			return true
		}
	}
	return false
}

// Delta returns the top-level attributes changed by ops. Attributes set on the document root
// carry their new value, everything else maps to Changed.
func (m *Model) Delta(ops []tx.Operation) map[string]any {
	out := make(map[string]any)
	for _, op := range ops {
		if op.Root != "" && m.IsMixin(op.Root) {
			out[domain.KeyMixins] = Changed
		}
		if len(op.Selector) == 0 {
			if op.Kind == tx.Set {
				for k, v := range op.Attributes {
					out[k] = v
				}
			}
			continue
		}
		out[op.Selector[0].Key] = Changed
	}
	return out
}
