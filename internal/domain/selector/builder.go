// Package selector builds typed selector chains and operations against a model:
//
//	op, err := selector.New(m, "task").
//		Field("tasks").Match(query.Predicate{"name": "subtask1"}).
//		Field("comments").Match(query.Predicate{"id": "#0"}).
//		Set(map[string]any{"author": "Dart"})
package selector

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/livedoc/internal/domain"
	"github.com/kailas-cloud/livedoc/internal/domain/model"
	"github.com/kailas-cloud/livedoc/internal/domain/query"
	"github.com/kailas-cloud/livedoc/internal/domain/tx"
)

// Builder is an immutable selector under construction. Every method returns a new value;
// the first error sticks and is returned by the closing call.
type Builder struct {
	m     *model.Model
	root  domain.ClassRef
	steps []tx.ObjectSelector
	// scope of the node the next Field resolves against; embedded is false after a scalar.
	scope    model.Scope
	embedded bool
	last     *model.Attribute
	err      error
}

// New starts a selector at class root.
func New(m *model.Model, root domain.ClassRef) Builder {
	s, err := m.ClassScope(root)
	return Builder{m: m, root: root, scope: s, embedded: err == nil, err: err}
}

// Field descends into attribute key of the current node.
func (b Builder) Field(key string) Builder {
	if b.err != nil {
		return b
	}
	if !b.embedded {
		return b.fail(fmt.Errorf("field %q after scalar %q: %w", key, b.path(), domain.ErrInvalidSelectorTarget))
	}
	if domain.IsReservedKey(key) {
		return b.fail(fmt.Errorf("%q is reserved: %w", key, domain.ErrInvalidSelectorTarget))
	}
	attr, err := b.scope.Attribute(key)
	if err != nil {
		return b.fail(domain.NewAttributeNotFound(b.root, joinPath(b.path(), key)))
	}
	next := b.clone()
	next.steps = append(next.steps, tx.ObjectSelector{Key: key})
	next.last = &attr
	next.scope, next.embedded = b.scope.Child(attr.Type)
	return next
}

// Match narrows the current array segment to the elements matching pattern.
func (b Builder) Match(pattern query.Predicate) Builder {
	if b.err != nil {
		return b
	}
	if b.last == nil || !b.last.Type.IsArray() || !b.embedded {
		return b.fail(fmt.Errorf("match on non-array %q: %w", b.path(), domain.ErrInvalidSelectorTarget))
	}
	if b.steps[len(b.steps)-1].Pattern != nil {
		return b.fail(fmt.Errorf("%q already matched: %w", b.path(), domain.ErrInvalidSelectorTarget))
	}
	if err := b.scope.Validate(pattern); err != nil {
		return b.fail(err)
	}
	next := b.clone()
	next.steps[len(next.steps)-1].Pattern = pattern
	return next
}

// Selector returns the steps built so far.
func (b Builder) Selector() ([]tx.ObjectSelector, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.clone().steps, nil
}

// Set closes the chain into a Set of attrs on the addressed object. An unpatterned array
// segment addresses every element.
func (b Builder) Set(attrs map[string]any) (tx.Operation, error) {
	return b.close(tx.Set, attrs)
}

// Push closes the chain into an append of a new element to the addressed array.
func (b Builder) Push(attrs map[string]any) (tx.Operation, error) {
	if b.err == nil && (b.last == nil || !b.last.Type.IsArray()) {
		return tx.Operation{}, fmt.Errorf("push on non-array %q: %w", b.path(), domain.ErrInvalidOperationTarget)
	}
	return b.close(tx.Push, attrs)
}

// Pull closes the chain into a removal of the matched array elements.
func (b Builder) Pull() (tx.Operation, error) {
	if b.err == nil && (b.last == nil || !b.last.Type.IsArray()) {
		return tx.Operation{}, fmt.Errorf("pull on non-array %q: %w", b.path(), domain.ErrInvalidOperationTarget)
	}
	return b.close(tx.Pull, nil)
}

// Unset closes the chain into a removal of the addressed attribute.
func (b Builder) Unset() (tx.Operation, error) {
	if b.err == nil && b.last == nil {
		return tx.Operation{}, fmt.Errorf("unset without field: %w", domain.ErrInvalidOperationTarget)
	}
	if b.err == nil && len(b.steps) > 0 && b.steps[len(b.steps)-1].Pattern != nil {
		return tx.Operation{}, fmt.Errorf("unset of matched elements %q, use Pull: %w", b.path(), domain.ErrInvalidOperationTarget)
	}
	return b.close(tx.Pull, nil)
}

func (b Builder) close(kind tx.OpKind, attrs map[string]any) (tx.Operation, error) {
	if b.err != nil {
		return tx.Operation{}, b.err
	}
	op := tx.Operation{Kind: kind, Root: b.root, Selector: b.clone().steps, Attributes: attrs}
	if _, err := b.m.ResolveSelector(b.root, op.Selector, kind); err != nil {
		return tx.Operation{}, err
	}
	return op, nil
}

func (b Builder) clone() Builder {
	next := b
	next.steps = make([]tx.ObjectSelector, len(b.steps))
	copy(next.steps, b.steps)
	return next
}

func (b Builder) fail(err error) Builder {
	next := b
	next.err = err
	return next
}

func (b Builder) path() string {
	keys := make([]string, len(b.steps))
	for i, s := range b.steps {
		keys[i] = s.Key
	}
	return strings.Join(keys, ".")
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
