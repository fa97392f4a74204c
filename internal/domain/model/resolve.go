package model

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/livedoc/internal/domain"
	"github.com/kailas-cloud/livedoc/internal/domain/query"
	"github.com/kailas-cloud/livedoc/internal/domain/tx"
)

// Segment is a selector step resolved against the model.
type Segment struct {
	Key string
	// Pattern is the expanded element pattern, nil when the segment is unpatterned.
	Pattern query.Predicate
	Attr    Attribute
	// Child is the scope of the objects the segment reaches; valid when Embedded.
	Child    Scope
	Embedded bool
}

// Target is an operation resolved against the model.
type Target struct {
	Root domain.ClassRef
	// Mixin is set when Root is a mixin that the operation applies to the document.
	Mixin    bool
	Segments []Segment
	// Node is the scope of the addressed object; valid when Embedded.
	Node     Scope
	Embedded bool
}

// Last returns the final selector segment.
func (t Target) Last() (Segment, bool) {
	if len(t.Segments) == 0 {
		return Segment{}, false
	}
	return t.Segments[len(t.Segments)-1], true
}

// ResolveSelector validates a selector built against root for an operation of kind.
// Every non-final segment must reach an embedded object; patterns are only allowed on arrays
// of embedded objects; Push needs an unpatterned array of embedded objects as its last segment.
func (m *Model) ResolveSelector(root domain.ClassRef, selector []tx.ObjectSelector, kind tx.OpKind) (Target, error) {
	s, err := m.ClassScope(root)
	if err != nil {
		return Target{}, err
	}
	t := Target{Root: root, Mixin: m.IsMixin(root), Node: s, Embedded: true}
	path := make([]string, 0, len(selector))
	for _, sel := range selector {
		path = append(path, sel.Key)
		if !t.Embedded {
			return Target{}, fmt.Errorf("%q descends into a scalar: %w", strings.Join(path, "."), domain.ErrInvalidSelectorTarget)
		}
		if domain.IsReservedKey(sel.Key) {
			return Target{}, fmt.Errorf("%q is reserved: %w", sel.Key, domain.ErrInvalidSelectorTarget)
		}
		attr, err := t.Node.Attribute(sel.Key)
		if err != nil {
			return Target{}, domain.NewAttributeNotFound(root, strings.Join(path, "."))
		}
		seg := Segment{Key: sel.Key, Attr: attr}
		seg.Child, seg.Embedded = t.Node.Child(attr.Type)
		if sel.Pattern != nil {
			if !attr.Type.IsArray() || !seg.Embedded {
				return Target{}, fmt.Errorf("pattern on %s attribute %q: %w", attr.Type, sel.Key, domain.ErrInvalidSelectorTarget)
			}
			expanded, err := query.Expand(sel.Pattern)
			if err != nil {
				return Target{}, err
			}
			if err := seg.Child.validate(expanded); err != nil {
				return Target{}, err
			}
			seg.Pattern = expanded
		}
		t.Segments = append(t.Segments, seg)
		t.Node, t.Embedded = seg.Child, seg.Embedded
	}

	switch kind {
	case tx.Set:
		if !t.Embedded {
			return Target{}, fmt.Errorf("set on scalar %q: %w", strings.Join(path, "."), domain.ErrInvalidOperationTarget)
		}
	case tx.Push:
		last, ok := t.Last()
		if !ok || !last.Attr.Type.IsArray() || !last.Embedded {
			return Target{}, fmt.Errorf("push needs an array of objects at %q: %w", strings.Join(path, "."), domain.ErrInvalidOperationTarget)
		}
		if last.Pattern != nil {
			return Target{}, fmt.Errorf("push target %q must not carry a pattern: %w", last.Key, domain.ErrInvalidSelectorTarget)
		}
	case tx.Pull:
		if len(t.Segments) == 0 {
			return Target{}, fmt.Errorf("pull without selector: %w", domain.ErrInvalidOperationTarget)
		}
	default:
		return Target{}, fmt.Errorf("unknown operation kind %q: %w", kind, domain.ErrInvalidOperationTarget)
	}
	return t, nil
}

// ResolveOperation resolves op for a transaction on class. The operation root defaults to
// class and must persist into the same domain.
func (m *Model) ResolveOperation(class domain.ClassRef, op tx.Operation) (Target, error) {
	root := op.Root
	if root == "" {
		root = class
	}
	if root != class {
		rootDomain, err := m.GetDomain(root)
		if err != nil {
			return Target{}, err
		}
		classDomain, err := m.GetDomain(class)
		if err != nil {
			return Target{}, err
		}
		if rootDomain != classDomain {
			return Target{}, fmt.Errorf("%s (%s) in %s (%s) transaction: %w",
				root, rootDomain, class, classDomain, domain.ErrDomainMismatch)
		}
	}
	t, err := m.ResolveSelector(root, op.Selector, op.Kind)
	if err != nil {
		return Target{}, err
	}
	if op.Kind == tx.Pull {
		return t, nil
	}
	for key := range op.Attributes {
		if domain.IsReservedKey(key) || strings.Contains(key, ".") {
			return Target{}, fmt.Errorf("attribute %q cannot be written: %w", key, domain.ErrInvalidOperationTarget)
		}
		if _, err := t.Node.Attribute(key); err != nil {
			return Target{}, err
		}
	}
	return t, nil
}
