package livequery

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/livedoc/internal/domain"
	"github.com/kailas-cloud/livedoc/internal/domain/model"
	"github.com/kailas-cloud/livedoc/internal/domain/query"
	"github.com/kailas-cloud/livedoc/internal/domain/tx"
	"github.com/kailas-cloud/livedoc/internal/metrics"
)

// Result is one snapshot of a live query. Seq grows with every snapshot of the query;
// a subscriber never receives a lower Seq after a higher one.
type Result struct {
	Docs  []domain.Doc
	Total int
	Seq   uint64
}

type state int

const (
	unattached state = iota
	live
	disposed
)

// Notification sources, used as metric labels.
const (
	sourceFetch   = "fetch"
	sourceLocal   = "local"
	sourceRefresh = "refresh"
)

// change is a transaction plus what phase 1 derives from it once for all queries.
type change struct {
	tx      tx.Tx
	doc     *domain.Doc    // created document
	delta   map[string]any // top-level attributes changed by an update
	unknown bool           // the created document could not be materialized
}

// Subscription is the handle of one live query.
type Subscription struct {
	q *liveQuery
}

type liveQuery struct {
	engine    *Engine
	class     domain.ClassRef
	domain    domain.DomainName
	predicate query.Predicate
	opts      query.Options

	mu         sync.Mutex
	state      state
	docs       []domain.Doc
	total      int
	gen        uint64 // bumped on every local change and commit completion
	seq        uint64
	inflight   int  // transactions patched in phase 1 and not yet committed
	deferred   bool // a refresh waits for inflight to drain
	refreshing bool
	listeners  map[int]func(Result)
	nextID     int

	notifyMu  sync.Mutex
	delivered uint64
}

// Subscribe attaches fn to the query. The first subscriber fetches the initial window;
// fn receives it before Subscribe returns. Later subscribers receive the current snapshot.
// The returned function detaches fn; the query is disposed when its last subscriber leaves.
// Callbacks run on the delivering goroutine and must not submit transactions synchronously.
func (s *Subscription) Subscribe(ctx context.Context, fn func(Result)) (func(), error) {
	q := s.q
	e := q.engine

	q.mu.Lock()
	switch q.state {
	case disposed:
		q.mu.Unlock()
		return nil, domain.ErrQueryDisposed
	case live:
		id := q.addListenerLocked(fn)
		res := q.snapshotLocked(false)
		q.mu.Unlock()
		q.deliverTo(id, res)
		return q.unsubscriber(id), nil
	}
	q.mu.Unlock()

	// No transaction may commit between the initial fetch and attaching the query.
	e.order.Lock()
	q.mu.Lock()
	if q.state != unattached {
		q.mu.Unlock()
		e.order.Unlock()
		return s.Subscribe(ctx, fn)
	}
	q.mu.Unlock()

	res, err := e.storage.Find(ctx, q.class, q.predicate, q.opts)
	if err != nil {
		e.order.Unlock()
		return nil, fmt.Errorf("initial fetch of %s: %w", q.class, err)
	}
	if !e.attach(q) {
		e.order.Unlock()
		q.dispose()
		return nil, domain.ErrQueryDisposed
	}

	q.mu.Lock()
	q.docs = res.Docs
	q.total = res.Total
	q.state = live
	id := q.addListenerLocked(fn)
	snap := q.snapshotLocked(true)
	q.mu.Unlock()
	e.order.Unlock()

	metrics.LiveQueriesActive.Inc()
	q.deliver(snap, sourceFetch)
	return q.unsubscriber(id), nil
}

func (q *liveQuery) addListenerLocked(fn func(Result)) int {
	q.nextID++
	q.listeners[q.nextID] = fn
	return q.nextID
}

func (q *liveQuery) unsubscriber(id int) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			q.mu.Lock()
			delete(q.listeners, id)
			last := len(q.listeners) == 0 && q.state == live
			q.mu.Unlock()
			if last {
				q.dispose()
			}
		})
	}
}

func (q *liveQuery) dispose() {
	q.mu.Lock()
	if q.state == disposed {
		q.mu.Unlock()
		return
	}
	wasLive := q.state == live
	q.state = disposed
	q.listeners = nil
	q.docs = nil
	q.mu.Unlock()

	q.engine.detach(q)
	if wasLive {
		metrics.LiveQueriesActive.Dec()
	}
}

// snapshotLocked copies the window; next assigns it a new sequence number.
func (q *liveQuery) snapshotLocked(next bool) Result {
	if next {
		q.seq++
	}
	docs := make([]domain.Doc, len(q.docs))
	for i := range q.docs {
		docs[i] = q.docs[i].Clone()
	}
	return Result{Docs: docs, Total: q.total, Seq: q.seq}
}

// deliver hands res to every subscriber unless a newer snapshot was delivered already.
func (q *liveQuery) deliver(res Result, source string) {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()
	if res.Seq <= q.delivered {
		return
	}
	q.delivered = res.Seq

	q.mu.Lock()
	if q.state != live {
		q.mu.Unlock()
		return
	}
	ids := make([]int, 0, len(q.listeners))
	for id := range q.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Result), len(ids))
	for i, id := range ids {
		fns[i] = q.listeners[id]
	}
	q.mu.Unlock()

	for _, fn := range fns {
		fn(res)
	}
	metrics.LiveQueryNotificationsTotal.WithLabelValues(source).Inc()
}

// deliverTo hands the current snapshot to a new subscriber.
func (q *liveQuery) deliverTo(id int, res Result) {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()
	// A newer snapshot already reached every subscriber, including this one.
	if res.Seq < q.delivered {
		return
	}
	q.mu.Lock()
	fn, ok := q.listeners[id]
	q.mu.Unlock()
	if ok {
		fn(res)
		metrics.LiveQueryNotificationsTotal.WithLabelValues(sourceFetch).Inc()
	}
}

// reconcile runs phase 1 of c. ok is false when the query is not live.
func (q *liveQuery) reconcile(c change, pending bool) (changed, refresh, ok bool) {
	q.mu.Lock()
	if q.state != live {
		q.mu.Unlock()
		return false, false, false
	}
	if pending {
		q.inflight++
	}
	changed, refresh = q.patchLocked(c)
	var snap Result
	if changed {
		q.gen++
		snap = q.snapshotLocked(true)
	}
	q.mu.Unlock()

	if changed {
		q.deliver(snap, sourceLocal)
	}
	return changed, refresh, true
}

// patchLocked applies c to the cached window and reports whether the window changed and
// whether it needs a refresh once c is committed.
func (q *liveQuery) patchLocked(c change) (changed, refresh bool) {
	m := q.engine.model
	switch v := c.tx.(type) {
	case tx.CreateTx:
		if c.unknown {
			return false, true
		}
		if q.index(v.ID) >= 0 || !m.MatchQuery(q.class, c.doc, q.predicate) {
			return false, false
		}
		q.total++
		if q.opts.Skip > 0 {
			// Every position past skip may shift; only storage knows what precedes the window.
			return false, true
		}
		if q.opts.Limit == 0 || len(q.docs) < q.opts.Limit {
			q.insertLocked(c.doc.Clone())
			return true, false
		}
		if model.CompareDocs(q.opts.Sort, c.doc, &q.docs[len(q.docs)-1]) > 0 {
			return false, false
		}
		q.insertLocked(c.doc.Clone())
		q.docs = q.docs[:q.opts.Limit]
		return true, false

	case tx.UpdateTx:
		i := q.index(v.ID)
		if i < 0 {
			if !q.mayHoldLocked(v.Class) {
				return false, false
			}
			if q.opts.IsBounded() {
				// A document outside the window may enter it, leave the matches or move across it.
				return false, m.IsPredicateTouched(q.class, c.delta, q.predicate) ||
					model.IsSortHasEffect(c.delta, q.opts.Sort)
			}
			return false, m.IsPartialMatched(q.class, c.delta, q.predicate)
		}
		updated, err := m.Assign(q.docs[i], v.Operations)
		if err != nil {
			q.engine.logger.Warn("cannot patch live query locally",
				zap.String("class", string(q.class)),
				zap.String("id", string(v.ID)),
				zap.Error(err),
			)
			return false, true
		}
		q.docs = slices.Delete(q.docs, i, i+1)
		if m.MatchQuery(q.class, &updated, q.predicate) {
			q.insertLocked(updated)
		} else {
			q.total--
		}
		return true, model.IsSortHasEffect(c.delta, q.opts.Sort) || q.hasHoleLocked()

	case tx.DeleteTx:
		i := q.index(v.ID)
		if i < 0 {
			// An unbounded window holds every match; a bounded one may lose a match outside it.
			return false, q.opts.IsBounded() && q.mayHoldLocked(v.Class)
		}
		q.docs = slices.Delete(q.docs, i, i+1)
		q.total--
		return true, q.hasHoleLocked()
	}
	return false, false
}

// mayHoldLocked reports whether a document addressed as class can match the query class.
func (q *liveQuery) mayHoldLocked(class domain.ClassRef) bool {
	m := q.engine.model
	return m.Is(class, q.class) || m.Is(q.class, class) || m.IsMixin(q.class) || m.IsMixin(class)
}

func (q *liveQuery) index(id domain.DocID) int {
	return slices.IndexFunc(q.docs, func(d domain.Doc) bool { return d.ID == id })
}

// insertLocked places doc at its sorted position; unsorted windows follow id order like
// the backends do.
func (q *liveQuery) insertLocked(doc domain.Doc) {
	pos := sort.Search(len(q.docs), func(i int) bool {
		return model.CompareDocs(q.opts.Sort, &q.docs[i], &doc) > 0
	})
	q.docs = slices.Insert(q.docs, pos, doc)
}

// hasHoleLocked reports whether a bounded window holds fewer documents than the matches
// could fill.
func (q *liveQuery) hasHoleLocked() bool {
	if !q.opts.IsBounded() {
		return false
	}
	capacity := max(q.total-q.opts.Skip, 0)
	if q.opts.Limit > 0 {
		capacity = min(capacity, q.opts.Limit)
	}
	return len(q.docs) < capacity
}

// settle finishes a transaction patched in phase 1. A failed commit rolls back by
// refreshing every window it changed.
func (q *liveQuery) settle(changed, refresh bool, commitErr error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inflight--
	q.gen++
	if q.state != live {
		return
	}
	need := refresh
	if commitErr != nil {
		need = changed
	}
	if need || q.deferred {
		q.requestRefreshLocked()
	}
}

// settleCommitted finishes a transaction that was committed elsewhere.
func (q *liveQuery) settleCommitted(refresh bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.gen++
	if q.state == live && (refresh || q.deferred) {
		q.requestRefreshLocked()
	}
}

func (q *liveQuery) requestRefreshLocked() {
	if q.state != live {
		return
	}
	if q.inflight > 0 {
		q.deferred = true
		return
	}
	q.deferred = false
	if q.refreshing {
		// The fetch in flight is superseded and runs again.
		q.gen++
		return
	}
	q.refreshing = true
	q.engine.wg.Add(1)
	go q.refresh()
}

// refresh replaces the window with a fresh fetch. A fetch that overlapped a local change
// is discarded and repeated; one that finishes after disposal is dropped.
func (q *liveQuery) refresh() {
	e := q.engine
	defer e.wg.Done()
	for {
		q.mu.Lock()
		gen := q.gen
		q.mu.Unlock()

		res, err := e.storage.Find(e.ctx, q.class, q.predicate, q.opts)

		q.mu.Lock()
		switch {
		case q.state != live:
			q.refreshing = false
			q.mu.Unlock()
			metrics.LiveQueryRefreshesTotal.WithLabelValues("disposed").Inc()
			return
		case err != nil:
			q.refreshing = false
			q.mu.Unlock()
			e.logger.Warn("live query refresh failed", zap.String("class", string(q.class)), zap.Error(err))
			metrics.LiveQueryRefreshesTotal.WithLabelValues("error").Inc()
			return
		case q.inflight > 0:
			q.deferred = true
			q.refreshing = false
			q.mu.Unlock()
			metrics.LiveQueryRefreshesTotal.WithLabelValues("stale").Inc()
			return
		case q.gen != gen:
			q.mu.Unlock()
			metrics.LiveQueryRefreshesTotal.WithLabelValues("stale").Inc()
			continue
		}
		q.docs = res.Docs
		q.total = res.Total
		q.refreshing = false
		snap := q.snapshotLocked(true)
		q.mu.Unlock()

		metrics.LiveQueryRefreshesTotal.WithLabelValues("applied").Inc()
		q.deliver(snap, sourceRefresh)
		return
	}
}
