// Package livequery keeps query results current as transactions are committed.
//
// Every transaction goes through two phases. Phase 1 patches the cached window of every
// affected query in place and notifies subscribers at once. Phase 2 runs after the commit
// and refreshes the queries whose window cannot be patched locally. A refresh is applied
// only when no local change happened while it was in flight, so a stale snapshot never
// replaces a newer one.
package livequery

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/livedoc/internal/domain"
	"github.com/kailas-cloud/livedoc/internal/domain/model"
	"github.com/kailas-cloud/livedoc/internal/domain/query"
	"github.com/kailas-cloud/livedoc/internal/domain/tx"
)

// Engine dispatches transactions to live queries.
type Engine struct {
	storage Storage
	model   *model.Model
	logger  *zap.Logger

	// order serializes phase 1 and commit so that every query sees transactions in commit order.
	order sync.Mutex

	mu      sync.Mutex
	queries map[*liveQuery]struct{}
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine over storage.
func New(s Storage, m *model.Model, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		storage: s,
		model:   m,
		logger:  logger,
		queries: make(map[*liveQuery]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Query creates an unattached live query. Nothing is fetched until the first Subscribe.
func (e *Engine) Query(class domain.ClassRef, p query.Predicate, opts query.Options) (*Subscription, error) {
	dom, err := e.model.GetDomain(class)
	if err != nil {
		return nil, err
	}
	if err := e.model.ValidatePredicate(class, p); err != nil {
		return nil, fmt.Errorf("live query on %s: %w", class, err)
	}
	if opts.Limit < 0 || opts.Skip < 0 {
		return nil, fmt.Errorf("negative limit or skip: %w", domain.ErrInvalidQuery)
	}
	q := &liveQuery{
		engine:    e,
		class:     class,
		domain:    dom,
		predicate: p,
		opts:      opts,
		listeners: make(map[int]func(Result)),
	}
	return &Subscription{q: q}, nil
}

// Tx validates t, patches live queries, commits t and schedules the refreshes the commit
// makes necessary. On a failed commit every optimistically patched query is refreshed
// and the commit error is returned.
func (e *Engine) Tx(ctx context.Context, t tx.Tx) error {
	prepared, err := e.storage.Prepare(t)
	if err != nil {
		return err
	}

	e.order.Lock()
	defer e.order.Unlock()

	touched := e.reconcile(prepared, true)
	err = e.storage.Commit(ctx, prepared)
	for _, tc := range touched {
		tc.q.settle(tc.changed, tc.refresh, err)
	}
	return err
}

// Apply processes a transaction another process already committed.
func (e *Engine) Apply(t tx.Tx) {
	e.order.Lock()
	defer e.order.Unlock()

	for _, tc := range e.reconcile(t, false) {
		tc.q.settleCommitted(tc.refresh)
	}
}

// Wait blocks until every scheduled refresh has finished.
func (e *Engine) Wait() { e.wg.Wait() }

// Close disposes every live query and waits for in-flight refreshes.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	queries := make([]*liveQuery, 0, len(e.queries))
	for q := range e.queries {
		queries = append(queries, q)
	}
	e.mu.Unlock()

	for _, q := range queries {
		q.dispose()
	}
	e.cancel()
	e.wg.Wait()
}

// touch records what phase 1 did to one query.
type touch struct {
	q       *liveQuery
	changed bool
	refresh bool
}

// reconcile runs phase 1 for t against every live query of its domain. pending marks
// the touched queries as waiting for the commit.
func (e *Engine) reconcile(t tx.Tx, pending bool) []touch {
	dom, err := e.model.GetDomain(t.ObjectClass())
	if err != nil {
		e.logger.Warn("tx for unknown class", zap.String("class", string(t.ObjectClass())), zap.Error(err))
		return nil
	}
	c := change{tx: t}
	switch v := t.(type) {
	case tx.CreateTx:
		doc, err := e.model.CreateDocument(v.Class, v.ID, v.Object)
		if err != nil {
			e.logger.Warn("cannot materialize created document", zap.String("id", string(v.ID)), zap.Error(err))
			c.unknown = true
		} else {
			c.doc = &doc
		}
	case tx.UpdateTx:
		c.delta = e.model.Delta(v.Operations)
	}

	var touched []touch
	for _, q := range e.liveIn(dom) {
		changed, refresh, ok := q.reconcile(c, pending)
		if !ok {
			continue
		}
		touched = append(touched, touch{q: q, changed: changed, refresh: refresh})
	}
	return touched
}

func (e *Engine) liveIn(dom domain.DomainName) []*liveQuery {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*liveQuery, 0, len(e.queries))
	for q := range e.queries {
		if q.domain == dom {
			out = append(out, q)
		}
	}
	return out
}

func (e *Engine) attach(q *liveQuery) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.queries[q] = struct{}{}
	return true
}

func (e *Engine) detach(q *liveQuery) {
	e.mu.Lock()
	delete(e.queries, q)
	e.mu.Unlock()
}
