package domain

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
)

// ClassRef identifies a class in the model.
type ClassRef string

// DocID identifies a document.
type DocID string

// DomainName is the storage partition a class persists into.
type DomainName string

// Reserved keys of the stored document form.
const (
	KeyID     = "_id"
	KeyClass  = "_class"
	KeyMixins = "_mixins"
)

// IsReservedKey reports whether key is one of the reserved document keys.
func IsReservedKey(key string) bool {
	return key == KeyID || key == KeyClass || key == KeyMixins
}

// NewID returns a fresh lexicographically sortable document id.
func NewID() DocID {
	return DocID(ulid.MustNew(ulid.Now(), rand.Reader).String())
}

// Doc is a stored document: identity, primary class, applied mixins and class attributes.
// Embedded objects inside Attributes are map[string]any tagged with KeyClass, arrays are []any.
type Doc struct {
	ID         DocID
	Class      ClassRef
	Mixins     []ClassRef
	Attributes map[string]any
}

// HasMixin reports whether the mixin was applied to the document.
func (d *Doc) HasMixin(mixin ClassRef) bool {
	for _, m := range d.Mixins {
		if m == mixin {
			return true
		}
	}
	return false
}

// Value returns the value at a dotted path. Reserved keys resolve to identity fields.
func (d *Doc) Value(path string) (any, bool) {
	switch path {
	case KeyID:
		return string(d.ID), true
	case KeyClass:
		return string(d.Class), true
	case KeyMixins:
		if len(d.Mixins) == 0 {
			return nil, false
		}
		return mixinsToAny(d.Mixins), true
	}
	return Lookup(d.Attributes, path)
}

// Clone returns a deep copy of the document.
func (d *Doc) Clone() Doc {
	c := Doc{ID: d.ID, Class: d.Class}
	if d.Mixins != nil {
		c.Mixins = append([]ClassRef(nil), d.Mixins...)
	}
	if d.Attributes != nil {
		c.Attributes = CloneMap(d.Attributes)
	}
	return c
}

// ToMap renders the stored form of the document.
func (d *Doc) ToMap() map[string]any {
	m := make(map[string]any, len(d.Attributes)+3)
	for k, v := range d.Attributes {
		m[k] = CloneValue(v)
	}
	m[KeyID] = string(d.ID)
	m[KeyClass] = string(d.Class)
	if len(d.Mixins) > 0 {
		m[KeyMixins] = mixinsToAny(d.Mixins)
	}
	return m
}

// FromMap reconstructs a document from its stored form (no model validation).
func FromMap(m map[string]any) (Doc, error) {
	id, ok := m[KeyID].(string)
	if !ok || id == "" {
		return Doc{}, fmt.Errorf("document without %s", KeyID)
	}
	class, ok := m[KeyClass].(string)
	if !ok || class == "" {
		return Doc{}, fmt.Errorf("document %s without %s", id, KeyClass)
	}
	d := Doc{ID: DocID(id), Class: ClassRef(class), Attributes: make(map[string]any, len(m))}
	if raw, ok := m[KeyMixins].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				d.Mixins = append(d.Mixins, ClassRef(s))
			}
		}
	}
	for k, v := range m {
		if IsReservedKey(k) {
			continue
		}
		d.Attributes[k] = CloneValue(v)
	}
	return d, nil
}

// MarshalJSON encodes the stored form.
func (d Doc) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.ToMap())
}

// UnmarshalJSON decodes the stored form.
func (d *Doc) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	parsed, err := FromMap(m)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Lookup walks a dotted path through nested maps.
func Lookup(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// CloneMap deep-copies a JSON-like map.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = CloneValue(v)
	}
	return c
}

// CloneValue deep-copies a JSON-like value (maps and slices; scalars are shared).
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		c := make([]any, len(t))
		for i, e := range t {
			c[i] = CloneValue(e)
		}
		return c
	default:
		return v
	}
}

func mixinsToAny(mixins []ClassRef) []any {
	out := make([]any, len(mixins))
	for i, m := range mixins {
		out[i] = string(m)
	}
	return out
}
