package model

import (
	"strings"

	"github.com/kailas-cloud/livedoc/internal/domain"
)

// Attribute is a resolved attribute path.
type Attribute struct {
	Key   string
	Type  AttributeType
	Owner domain.ClassRef
}

var builtins = map[string]AttributeType{
	domain.KeyID:     Primitive(),
	domain.KeyClass:  Primitive(),
	domain.KeyMixins: ArrayOf(Primitive()),
}

// Scope resolves single attribute keys of one object node: a class (with its extends chain)
// or the values of a bag.
type Scope struct {
	m     *Model
	class domain.ClassRef
	h     handle
	bag   *AttributeType
}

// ClassScope returns the scope of an object of class c.
func (m *Model) ClassScope(c domain.ClassRef) (Scope, error) {
	h, err := m.lookup(c)
	if err != nil {
		return Scope{}, err
	}
	return Scope{m: m, class: c, h: h}, nil
}

// Class is the class of the scope, or the owner of the bag.
func (s Scope) Class() domain.ClassRef { return s.class }

// Attribute resolves one key.
func (s Scope) Attribute(key string) (Attribute, error) {
	if s.bag != nil {
		if key == "" {
			return Attribute{}, domain.NewAttributeNotFound(s.class, key)
		}
		return Attribute{Key: key, Type: *s.bag, Owner: s.class}, nil
	}
	if t, ok := builtins[key]; ok {
		return Attribute{Key: key, Type: t, Owner: s.class}, nil
	}
	t, owner, ok := s.m.declared(s.h, key)
	if !ok {
		return Attribute{}, domain.NewAttributeNotFound(s.class, key)
	}
	return Attribute{Key: key, Type: t, Owner: owner}, nil
}

// Child returns the scope of the objects held by an attribute of type t: the embedded class
// of InstanceOf and ArrayOf(InstanceOf), or the values of a bag.
func (s Scope) Child(t AttributeType) (Scope, bool) {
	if c, ok := t.EmbeddedClass(); ok {
		h, ok := s.m.index[c]
		if !ok {
			return Scope{}, false
		}
		return Scope{m: s.m, class: c, h: h}, true
	}
	if t.Kind() == KindBag {
		elem := t.Elem()
		return Scope{m: s.m, class: s.class, h: s.h, bag: &elem}, true
	}
	return Scope{}, false
}

// ClassAttribute resolves a dotted path against class, walking extends chains and
// descending through embedded objects and bags.
func (m *Model) ClassAttribute(class domain.ClassRef, path string) (Attribute, error) {
	s, err := m.ClassScope(class)
	if err != nil {
		return Attribute{}, err
	}
	parts := strings.Split(path, ".")
	var attr Attribute
	for i, part := range parts {
		attr, err = s.Attribute(part)
		if err != nil {
			return Attribute{}, domain.NewAttributeNotFound(class, path)
		}
		if i == len(parts)-1 {
			break
		}
		next, ok := s.Child(attr.Type)
		if !ok {
			return Attribute{}, domain.NewAttributeNotFound(class, path)
		}
		s = next
	}
	attr.Key = path
	return attr, nil
}
