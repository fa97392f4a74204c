package model

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/livedoc/internal/domain"
)

// TypeKind tags an AttributeType variant.
type TypeKind int

// Attribute type kinds.
const (
	KindPrimitive TypeKind = iota
	KindRef
	KindInstance
	KindArray
	KindBag
)

// AttributeType is a tagged variant: Primitive, RefTo(class), InstanceOf(class),
// ArrayOf(type) or BagOf(type).
type AttributeType struct {
	kind  TypeKind
	class domain.ClassRef
	elem  *AttributeType
}

// Primitive is a scalar value (string, number, bool).
func Primitive() AttributeType { return AttributeType{kind: KindPrimitive} }

// RefTo is the id of another document of class c.
func RefTo(c domain.ClassRef) AttributeType { return AttributeType{kind: KindRef, class: c} }

// InstanceOf is a single embedded object of class c.
func InstanceOf(c domain.ClassRef) AttributeType { return AttributeType{kind: KindInstance, class: c} }

// ArrayOf is an ordered list of t.
func ArrayOf(t AttributeType) AttributeType { return AttributeType{kind: KindArray, elem: &t} }

// BagOf is an open-ended key to t map.
func BagOf(t AttributeType) AttributeType { return AttributeType{kind: KindBag, elem: &t} }

// Kind returns the variant tag.
func (t AttributeType) Kind() TypeKind { return t.kind }

// Class returns the referenced or embedded class of RefTo and InstanceOf.
func (t AttributeType) Class() domain.ClassRef { return t.class }

// Elem returns the element type of ArrayOf and BagOf.
func (t AttributeType) Elem() AttributeType {
	if t.elem == nil {
		return Primitive()
	}
	return *t.elem
}

// IsArray reports whether the attribute holds a list.
func (t AttributeType) IsArray() bool { return t.kind == KindArray }

// EmbeddedClass returns the class of embedded objects reached through InstanceOf or
// ArrayOf(InstanceOf).
func (t AttributeType) EmbeddedClass() (domain.ClassRef, bool) {
	switch t.kind {
	case KindInstance:
		return t.class, true
	case KindArray:
		if e := t.Elem(); e.kind == KindInstance {
			return e.class, true
		}
	}
	return "", false
}

// Equal reports structural equality.
func (t AttributeType) Equal(o AttributeType) bool {
	if t.kind != o.kind || t.class != o.class {
		return false
	}
	if t.kind == KindArray || t.kind == KindBag {
		return t.Elem().Equal(o.Elem())
	}
	return true
}

func (t AttributeType) String() string {
	switch t.kind {
	case KindRef:
		return "ref<" + string(t.class) + ">"
	case KindInstance:
		return "instance<" + string(t.class) + ">"
	case KindArray:
		return "array<" + t.Elem().String() + ">"
	case KindBag:
		return "bag<" + t.Elem().String() + ">"
	default:
		return "primitive"
	}
}

// ParseType parses the textual form used in model definitions:
// string|number|bool|primitive, ref<C>, instance<C>, array<T>, bag<T>.
func ParseType(s string) (AttributeType, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "string", "number", "bool", "boolean", "primitive":
		return Primitive(), nil
	}
	open := strings.IndexByte(s, '<')
	if open <= 0 || !strings.HasSuffix(s, ">") {
		return AttributeType{}, fmt.Errorf("invalid attribute type %q", s)
	}
	name, arg := s[:open], s[open+1:len(s)-1]
	if strings.TrimSpace(arg) == "" {
		return AttributeType{}, fmt.Errorf("invalid attribute type %q: empty argument", s)
	}
	switch name {
	case "ref":
		return RefTo(domain.ClassRef(strings.TrimSpace(arg))), nil
	case "instance":
		return InstanceOf(domain.ClassRef(strings.TrimSpace(arg))), nil
	case "array", "bag":
		elem, err := ParseType(arg)
		if err != nil {
			return AttributeType{}, fmt.Errorf("invalid attribute type %q: %w", s, err)
		}
		if name == "array" {
			return ArrayOf(elem), nil
		}
		return BagOf(elem), nil
	}
	return AttributeType{}, fmt.Errorf("invalid attribute type %q", s)
}
