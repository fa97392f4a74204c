package storage

import (
	"context"
	"testing"

	"github.com/kailas-cloud/livedoc/internal/domain"
	"github.com/kailas-cloud/livedoc/internal/domain/model"
	"github.com/kailas-cloud/livedoc/internal/domain/query"
	"github.com/kailas-cloud/livedoc/internal/domain/tx"
)

// mockRepo implements Repository for tests.
type mockRepo struct {
	findFn   func(ctx context.Context, class domain.ClassRef, p query.Predicate, opts query.Options) ([]domain.Doc, int, error)
	getFn    func(ctx context.Context, class domain.ClassRef, id domain.DocID) (domain.Doc, error)
	createFn func(ctx context.Context, doc *domain.Doc) error
	updateFn func(ctx context.Context, class domain.ClassRef, id domain.DocID, ops []tx.Operation) error
	deleteFn func(ctx context.Context, class domain.ClassRef, id domain.DocID) error
}

func (m *mockRepo) Find(ctx context.Context, class domain.ClassRef, p query.Predicate, opts query.Options) (
	[]domain.Doc, int, error,
) {
	if m.findFn != nil {
		return m.findFn(ctx, class, p, opts)
	}
	return nil, 0, nil
}

func (m *mockRepo) Get(ctx context.Context, class domain.ClassRef, id domain.DocID) (domain.Doc, error) {
	if m.getFn != nil {
		return m.getFn(ctx, class, id)
	}
	return domain.Doc{}, domain.ErrDocumentNotFound
}

func (m *mockRepo) Create(ctx context.Context, doc *domain.Doc) error {
	if m.createFn != nil {
		return m.createFn(ctx, doc)
	}
	return nil
}

func (m *mockRepo) Update(ctx context.Context, class domain.ClassRef, id domain.DocID, ops []tx.Operation) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, class, id, ops)
	}
	return nil
}

func (m *mockRepo) Delete(ctx context.Context, class domain.ClassRef, id domain.DocID) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, class, id)
	}
	return nil
}

// mockFeed records published transactions.
type mockFeed struct {
	published []tx.Tx
	err       error
}

func (m *mockFeed) Publish(_ context.Context, t tx.Tx) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, t)
	return nil
}

func newTestService(t *testing.T) (*Service, *mockRepo, *mockFeed) {
	t.Helper()
	repo := &mockRepo{}
	feed := &mockFeed{}
	return New(repo, testModel(t), nil).WithFeed(feed), repo, feed
}

func testModel(t *testing.T) *model.Model {
	t.Helper()
	m, err := model.New(
		model.Class{ID: "task", Domain: "tracker", Attributes: map[string]model.AttributeType{
			"title":  model.Primitive(),
			"status": model.Primitive(),
			"tasks":  model.ArrayOf(model.InstanceOf("subtask")),
		}},
		model.Class{ID: "estimation", Extends: "task", Mixin: true, Attributes: map[string]model.AttributeType{
			"estimate": model.Primitive(),
		}},
		model.Class{ID: "subtask", Attributes: map[string]model.AttributeType{
			"name": model.Primitive(),
			"done": model.Primitive(),
		}},
	)
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	return m
}
