package model

import (
	"fmt"

	"github.com/kailas-cloud/livedoc/internal/domain"
	"github.com/kailas-cloud/livedoc/internal/domain/query"
)

// CreateDocument materializes a document of class from raw attributes: names are checked
// against the class chain and embedded objects are stamped with their class.
// Mixins cannot be instantiated.
func (m *Model) CreateDocument(class domain.ClassRef, id domain.DocID, attrs map[string]any) (domain.Doc, error) {
	s, err := m.ClassScope(class)
	if err != nil {
		return domain.Doc{}, err
	}
	if m.IsMixin(class) {
		return domain.Doc{}, fmt.Errorf("create of mixin %q: %w", class, domain.ErrInvalidOperationTarget)
	}
	if _, err := m.GetDomain(class); err != nil {
		return domain.Doc{}, err
	}
	doc := domain.Doc{ID: id, Class: class, Attributes: make(map[string]any, len(attrs))}
	for key, v := range attrs {
		if domain.IsReservedKey(key) {
			continue
		}
		attr, err := s.Attribute(key)
		if err != nil {
			return domain.Doc{}, err
		}
		nv, err := m.normalize(key, attr.Type, v)
		if err != nil {
			return domain.Doc{}, err
		}
		doc.Attributes[key] = nv
	}
	return doc, nil
}

// Normalize returns the stored form of a value of type t written at path: a deep copy with
// embedded objects stamped with their class.
func (m *Model) Normalize(path string, t AttributeType, v any) (any, error) {
	return m.normalize(path, t, v)
}

// normalize deep-copies v, checking its shape against t and stamping embedded objects.
func (m *Model) normalize(path string, t AttributeType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t.Kind() {
	case KindInstance:
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: expected %s, got %T: %w", path, t, v, domain.ErrInvalidOperationTarget)
		}
		return m.normalizeObject(path, t.Class(), obj)
	case KindArray:
		list, ok := listOf(v)
		if !ok {
			return nil, fmt.Errorf("%s: expected %s, got %T: %w", path, t, v, domain.ErrInvalidOperationTarget)
		}
		out := make([]any, len(list))
		for i, e := range list {
			ne, err := m.normalize(fmt.Sprintf("%s[%d]", path, i), t.Elem(), e)
			if err != nil {
				return nil, err
			}
			out[i] = ne
		}
		return out, nil
	case KindBag:
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: expected %s, got %T: %w", path, t, v, domain.ErrInvalidOperationTarget)
		}
		out := make(map[string]any, len(obj))
		for k, e := range obj {
			ne, err := m.normalize(path+"."+k, t.Elem(), e)
			if err != nil {
				return nil, err
			}
			out[k] = ne
		}
		return out, nil
	default:
		return domain.CloneValue(v), nil
	}
}

func (m *Model) normalizeObject(path string, class domain.ClassRef, obj map[string]any) (map[string]any, error) {
	if tag, ok := obj[domain.KeyClass].(string); ok && m.Is(domain.ClassRef(tag), class) {
		class = domain.ClassRef(tag)
	}
	s, err := m.ClassScope(class)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(obj)+1)
	out[domain.KeyClass] = string(class)
	for k, v := range obj {
		if domain.IsReservedKey(k) {
			continue
		}
		attr, err := s.Attribute(k)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		nv, err := m.normalize(path+"."+k, attr.Type, v)
		if err != nil {
			return nil, err
		}
		out[k] = nv
	}
	return out, nil
}

func listOf(v any) ([]any, bool) {
	if list, ok := v.([]any); ok {
		return list, true
	}
	switch v.(type) {
	case []string, []int, []float64:
		return query.AsList(v), true
	}
	return nil, false
}
