package livedoc

import (
	"context"
	"fmt"
	"time"

	"github.com/kailas-cloud/livedoc/internal/domain"
	"github.com/kailas-cloud/livedoc/internal/domain/query"
	"github.com/kailas-cloud/livedoc/internal/domain/selector"
	"github.com/kailas-cloud/livedoc/internal/domain/tx"
)

// Path addresses a node inside a document. The zero Path is the document itself.
//
//	livedoc.At("tasks").Match(livedoc.Query{"name": "review"}).Field("comments")
type Path struct {
	steps []pathStep
	err   error
}

type pathStep struct {
	key     string
	pattern Query
}

// At starts a path descending through keys.
func At(keys ...string) Path {
	var p Path
	for _, k := range keys {
		p = p.Field(k)
	}
	return p
}

// Field descends into attribute key of the current node.
func (p Path) Field(key string) Path {
	next := p.clone()
	next.steps = append(next.steps, pathStep{key: key})
	return next
}

// Match narrows the last array segment to the elements matching pattern.
func (p Path) Match(pattern Query) Path {
	if len(p.steps) == 0 {
		next := p.clone()
		next.err = fmt.Errorf("match without field: %w", domain.ErrInvalidSelectorTarget)
		return next
	}
	next := p.clone()
	next.steps[len(next.steps)-1].pattern = pattern
	return next
}

func (p Path) clone() Path {
	next := p
	next.steps = append([]pathStep(nil), p.steps...)
	return next
}

func (p Path) builder(b selector.Builder) (selector.Builder, error) {
	if p.err != nil {
		return b, p.err
	}
	for _, s := range p.steps {
		b = b.Field(s.key)
		if s.pattern != nil {
			b = b.Match(query.Predicate(plainMap(s.pattern)))
		}
	}
	return b, nil
}

// Update collects operations on one document and commits them as a single transaction.
// The first invalid operation fails Commit.
type Update struct {
	c     *Client
	class domain.ClassRef
	id    domain.DocID
	ops   []tx.Operation
	err   error
}

// Update starts a transaction on document id of class.
func (c *Client) Update(class, id string) *Update {
	return &Update{c: c, class: domain.ClassRef(class), id: domain.DocID(id)}
}

// Set writes attrs on the node at p; an unmatched array segment addresses every element.
func (u *Update) Set(p Path, attrs Attrs) *Update {
	return u.add(p, func(b selector.Builder) (tx.Operation, error) { return b.Set(plainMap(attrs)) })
}

// Push appends a new element built from attrs to the array at p.
func (u *Update) Push(p Path, attrs Attrs) *Update {
	return u.add(p, func(b selector.Builder) (tx.Operation, error) { return b.Push(plainMap(attrs)) })
}

// Pull removes the array elements matched by p.
func (u *Update) Pull(p Path) *Update {
	return u.add(p, func(b selector.Builder) (tx.Operation, error) { return b.Pull() })
}

// Unset removes the attribute at p.
func (u *Update) Unset(p Path) *Update {
	return u.add(p, func(b selector.Builder) (tx.Operation, error) { return b.Unset() })
}

func (u *Update) add(p Path, closeFn func(selector.Builder) (tx.Operation, error)) *Update {
	if u.err != nil {
		return u
	}
	b, err := p.builder(selector.New(u.c.model, u.class))
	if err != nil {
		u.err = err
		return u
	}
	op, err := closeFn(b)
	if err != nil {
		u.err = err
		return u
	}
	u.ops = append(u.ops, op)
	return u
}

// Commit submits the collected operations.
func (u *Update) Commit(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { u.c.obs.observe("update", start, err) }()

	if u.err != nil {
		return u.err
	}
	if len(u.ops) == 0 {
		return fmt.Errorf("update of %s/%s without operations: %w", u.class, u.id, domain.ErrInvalidOperationTarget)
	}
	return u.c.live.Tx(ctx, tx.UpdateTx{Class: u.class, ID: u.id, Operations: u.ops})
}
