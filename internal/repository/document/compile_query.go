package document

import (
	"fmt"

	"github.com/kailas-cloud/livedoc/internal/db"
	"github.com/kailas-cloud/livedoc/internal/domain"
	"github.com/kailas-cloud/livedoc/internal/domain/model"
	"github.com/kailas-cloud/livedoc/internal/domain/query"
)

// CompileQuery translates a predicate on class into a storage filter. Keys resolve through
// the class chain; sub-patterns on embedded objects and bags flatten into dotted keys, on
// arrays of embedded objects they become $elemMatch, and pattern lists become $all of
// $elemMatch. The class condition is widened to subclasses.
func CompileQuery(m *model.Model, class domain.ClassRef, p query.Predicate) (db.Filter, error) {
	if err := m.ValidatePredicate(class, p); err != nil {
		return nil, err
	}
	expanded, err := query.Expand(p)
	if err != nil {
		return nil, err
	}
	s, err := m.ClassScope(class)
	if err != nil {
		return nil, err
	}

	f := db.Filter{}
	if err := compileInto(f, s, "", expanded); err != nil {
		return nil, err
	}

	key, cond := classCondition(m, class)
	if _, taken := f[key]; taken {
		return db.Filter{db.OpAnd: []db.Filter{{key: cond}, f}}, nil
	}
	f[key] = cond
	return f, nil
}

// compilePattern compiles a pattern relative to one object of scope s.
func compilePattern(s model.Scope, p map[string]any) (db.Filter, error) {
	f := db.Filter{}
	if err := compileInto(f, s, "", p); err != nil {
		return nil, err
	}
	return f, nil
}

func compileInto(f db.Filter, s model.Scope, prefix string, p map[string]any) error {
	for _, key := range query.Predicate(p).Keys() {
		attr, err := s.Attribute(key)
		if err != nil {
			return err
		}
		path := prefix + key
		cond := p[key]
		kind, err := query.Classify(cond)
		if err != nil {
			return fmt.Errorf("key %q: %w", path, err)
		}
		switch kind {
		case query.Literal, query.Operators:
			f[path] = domain.CloneValue(cond)
		case query.Pattern:
			child, ok := s.Child(attr.Type)
			if !ok {
				return fmt.Errorf("pattern on %s attribute %q: %w", attr.Type, path, domain.ErrInvalidQuery)
			}
			sub, _ := query.AsMap(cond)
			if !attr.Type.IsArray() {
				if err := compileInto(f, child, path+".", sub); err != nil {
					return err
				}
				continue
			}
			elem, err := compilePattern(child, sub)
			if err != nil {
				return err
			}
			f[path] = map[string]any{db.OpElemMatch: elem}
		case query.PatternList:
			child, ok := s.Child(attr.Type)
			if !ok || !attr.Type.IsArray() {
				return fmt.Errorf("pattern list on %s attribute %q: %w", attr.Type, path, domain.ErrInvalidQuery)
			}
			var all []any
			for _, sub := range query.AsPatternList(cond) {
				elem, err := compilePattern(child, sub)
				if err != nil {
					return err
				}
				all = append(all, map[string]any{db.OpElemMatch: elem})
			}
			f[path] = map[string]any{db.OpAll: all}
		}
	}
	return nil
}

// classCondition selects documents of class or any subclass. A mixin class selects
// documents carrying the mixin or one of its mixin subclasses.
func classCondition(m *model.Model, class domain.ClassRef) (string, any) {
	mixin := m.IsMixin(class)
	key := domain.KeyClass
	if mixin {
		key = domain.KeyMixins
	}
	members := []any{string(class)}
	for _, sub := range m.ExtendsOf(class) {
		if m.IsMixin(sub) == mixin {
			members = append(members, string(sub))
		}
	}
	if len(members) == 1 {
		return key, members[0]
	}
	return key, map[string]any{query.OpIn: members}
}
