package livequery

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kailas-cloud/livedoc/internal/db/memory"
	"github.com/kailas-cloud/livedoc/internal/domain"
	"github.com/kailas-cloud/livedoc/internal/domain/model"
	"github.com/kailas-cloud/livedoc/internal/domain/query"
	"github.com/kailas-cloud/livedoc/internal/domain/tx"
	"github.com/kailas-cloud/livedoc/internal/repository/document"
	"github.com/kailas-cloud/livedoc/internal/usecase/storage"
)

// mockStorage delegates to a real in-memory stack unless a func field overrides a call.
type mockStorage struct {
	inner    *storage.Service
	findFn   func(ctx context.Context, class domain.ClassRef, p query.Predicate, opts query.Options) (storage.FindResult, error)
	commitFn func(ctx context.Context, t tx.Tx) error
	finds    atomic.Int64
}

func (m *mockStorage) Find(ctx context.Context, class domain.ClassRef, p query.Predicate, opts query.Options) (
	storage.FindResult, error,
) {
	m.finds.Add(1)
	if m.findFn != nil {
		return m.findFn(ctx, class, p, opts)
	}
	return m.inner.Find(ctx, class, p, opts)
}

func (m *mockStorage) Prepare(t tx.Tx) (tx.Tx, error) { return m.inner.Prepare(t) }

func (m *mockStorage) Commit(ctx context.Context, t tx.Tx) error {
	if m.commitFn != nil {
		return m.commitFn(ctx, t)
	}
	return m.inner.Commit(ctx, t)
}

// recorder collects notifications from any goroutine.
type recorder struct {
	mu      sync.Mutex
	results []Result
}

func (r *recorder) fn(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recorder) all() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.results...)
}

func (r *recorder) count() int { return len(r.all()) }

func (r *recorder) last(t *testing.T) Result {
	t.Helper()
	all := r.all()
	if len(all) == 0 {
		t.Fatal("no notifications")
	}
	return all[len(all)-1]
}

func ids(docs []domain.Doc) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = string(d.ID)
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *mockStorage) {
	t.Helper()
	m := testModel(t)
	svc := storage.New(document.New(memory.NewStore(), m), m, nil)
	ms := &mockStorage{inner: svc}
	e := New(ms, m, nil)
	t.Cleanup(e.Close)
	return e, ms
}

// seed commits n tasks t000..t<n-1> directly to storage.
func seed(t *testing.T, ms *mockStorage, n int, attrs func(i int) map[string]any) {
	t.Helper()
	for i := range n {
		create := tx.CreateTx{Class: "task", ID: domain.DocID(fmt.Sprintf("t%03d", i)), Object: attrs(i)}
		if err := ms.inner.Tx(context.Background(), create); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
}

func openTask(int) map[string]any { return map[string]any{"status": "open", "title": "x"} }

// subscribe attaches a recorder to a fresh query.
func subscribe(t *testing.T, e *Engine, p query.Predicate, opts query.Options) (*Subscription, *recorder, func()) {
	t.Helper()
	sub, err := e.Query("task", p, opts)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	rec := &recorder{}
	unsub, err := sub.Subscribe(context.Background(), rec.fn)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	return sub, rec, unsub
}

func testModel(t *testing.T) *model.Model {
	t.Helper()
	m, err := model.New(
		model.Class{ID: "task", Domain: "tracker", Attributes: map[string]model.AttributeType{
			"title":  model.Primitive(),
			"status": model.Primitive(),
			"rank":   model.Primitive(),
			"tasks":  model.ArrayOf(model.InstanceOf("subtask")),
		}},
		model.Class{ID: "subtask", Attributes: map[string]model.AttributeType{
			"name": model.Primitive(),
			"done": model.Primitive(),
		}},
		model.Class{ID: "person", Domain: "contact", Attributes: map[string]model.AttributeType{
			"name": model.Primitive(),
		}},
	)
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	return m
}
