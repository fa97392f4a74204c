// Package model holds the class hierarchy and answers hierarchy, attribute-path and
// matching questions for queries, updates and live queries.
package model

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/livedoc/internal/domain"
)

// Class is a class definition. Domain is inherited from the nearest ancestor declaring one.
type Class struct {
	ID         domain.ClassRef
	Extends    domain.ClassRef
	Attributes map[string]AttributeType
	Domain     domain.DomainName
	Mixin      bool
}

type handle int

const noParent handle = -1

// Model is an immutable arena of classes. Extends links are resolved to handles at load time.
type Model struct {
	classes []Class
	parent  []handle
	index   map[domain.ClassRef]handle
}

// New validates class definitions and builds the model.
func New(classes ...Class) (*Model, error) {
	m := &Model{
		classes: make([]Class, 0, len(classes)),
		parent:  make([]handle, 0, len(classes)),
		index:   make(map[domain.ClassRef]handle, len(classes)),
	}
	for _, c := range classes {
		if c.ID == "" {
			return nil, fmt.Errorf("class id is required")
		}
		if _, dup := m.index[c.ID]; dup {
			return nil, fmt.Errorf("duplicate class %q", c.ID)
		}
		if c.Mixin && c.Extends == "" {
			return nil, fmt.Errorf("mixin %q must extend a class", c.ID)
		}
		attrs := make(map[string]AttributeType, len(c.Attributes))
		for name, t := range c.Attributes {
			if err := validateAttributeName(name); err != nil {
				return nil, fmt.Errorf("class %q: %w", c.ID, err)
			}
			attrs[name] = t
		}
		c.Attributes = attrs
		m.index[c.ID] = handle(len(m.classes))
		m.classes = append(m.classes, c)
	}

	for _, c := range m.classes {
		p := noParent
		if c.Extends != "" {
			ph, ok := m.index[c.Extends]
			if !ok {
				return nil, fmt.Errorf("class %q extends unknown %q: %w", c.ID, c.Extends, domain.ErrClassNotFound)
			}
			p = ph
		}
		m.parent = append(m.parent, p)
		for name, t := range c.Attributes {
			if err := m.checkRefs(t); err != nil {
				return nil, fmt.Errorf("class %q attribute %q: %w", c.ID, name, err)
			}
		}
	}

	for h := range m.classes {
		seen := map[handle]bool{}
		for cur := handle(h); cur != noParent; cur = m.parent[cur] {
			if seen[cur] {
				return nil, fmt.Errorf("extends cycle through %q", m.classes[h].ID)
			}
			seen[cur] = true
		}
	}
	return m, nil
}

func validateAttributeName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("attribute name is required")
	case domain.IsReservedKey(name):
		return fmt.Errorf("attribute name %q is reserved", name)
	case strings.ContainsAny(name, ".$"):
		return fmt.Errorf("attribute name %q must not contain '.' or '$'", name)
	}
	return nil
}

func (m *Model) checkRefs(t AttributeType) error {
	switch t.Kind() {
	case KindRef, KindInstance:
		if _, ok := m.index[t.Class()]; !ok {
			return fmt.Errorf("unknown class %q: %w", t.Class(), domain.ErrClassNotFound)
		}
	case KindArray, KindBag:
		return m.checkRefs(t.Elem())
	}
	return nil
}

func (m *Model) lookup(c domain.ClassRef) (handle, error) {
	h, ok := m.index[c]
	if !ok {
		return noParent, fmt.Errorf("%q: %w", c, domain.ErrClassNotFound)
	}
	return h, nil
}

// Class returns the definition of c.
func (m *Model) Class(c domain.ClassRef) (Class, bool) {
	h, ok := m.index[c]
	if !ok {
		return Class{}, false
	}
	return m.classes[h], true
}

// Classes returns all class ids in registration order.
func (m *Model) Classes() []domain.ClassRef {
	out := make([]domain.ClassRef, len(m.classes))
	for i, c := range m.classes {
		out[i] = c.ID
	}
	return out
}

// GetDomain walks the extends chain to the first class declaring a domain.
func (m *Model) GetDomain(c domain.ClassRef) (domain.DomainName, error) {
	h, err := m.lookup(c)
	if err != nil {
		return "", err
	}
	for cur := h; cur != noParent; cur = m.parent[cur] {
		if d := m.classes[cur].Domain; d != "" {
			return d, nil
		}
	}
	return "", fmt.Errorf("%q: %w", c, domain.ErrDomainNotFound)
}

// Is reports whether ancestor is c or appears in its extends chain.
func (m *Model) Is(c, ancestor domain.ClassRef) bool {
	h, ok := m.index[c]
	if !ok {
		return false
	}
	a, ok := m.index[ancestor]
	if !ok {
		return false
	}
	return m.isHandle(h, a)
}

func (m *Model) isHandle(h, ancestor handle) bool {
	for cur := h; cur != noParent; cur = m.parent[cur] {
		if cur == ancestor {
			return true
		}
	}
	return false
}

// IsMixin reports whether c is a mixin class.
func (m *Model) IsMixin(c domain.ClassRef) bool {
	h, ok := m.index[c]
	return ok && m.classes[h].Mixin
}

// ExtendsOf returns every class, mixins included, whose extends chain reaches c.
// c itself is not included.
func (m *Model) ExtendsOf(c domain.ClassRef) []domain.ClassRef {
	a, ok := m.index[c]
	if !ok {
		return nil
	}
	var out []domain.ClassRef
	for h := range m.classes {
		if handle(h) != a && m.isHandle(handle(h), a) {
			out = append(out, m.classes[h].ID)
		}
	}
	return out
}

// BaseClass returns the first non-mixin class of c's chain.
func (m *Model) BaseClass(c domain.ClassRef) (domain.ClassRef, error) {
	h, err := m.lookup(c)
	if err != nil {
		return "", err
	}
	for cur := h; cur != noParent; cur = m.parent[cur] {
		if !m.classes[cur].Mixin {
			return m.classes[cur].ID, nil
		}
	}
	return "", fmt.Errorf("mixin %q without base class: %w", c, domain.ErrClassNotFound)
}

// declared finds the class in c's chain that declares attribute name.
func (m *Model) declared(h handle, name string) (AttributeType, domain.ClassRef, bool) {
	for cur := h; cur != noParent; cur = m.parent[cur] {
		if t, ok := m.classes[cur].Attributes[name]; ok {
			return t, m.classes[cur].ID, true
		}
	}
	return AttributeType{}, "", false
}
