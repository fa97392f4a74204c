package document

import (
	"context"
	"testing"

	"github.com/kailas-cloud/livedoc/internal/db"
	"github.com/kailas-cloud/livedoc/internal/domain"
	"github.com/kailas-cloud/livedoc/internal/domain/model"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	insertFn func(ctx context.Context, dom, id string, rec db.Record) error
	getFn    func(ctx context.Context, dom, id string) (db.Record, error)
	findFn   func(ctx context.Context, dom string, f db.Filter, opts db.FindOptions) (*db.FindResult, error)
	updateFn func(ctx context.Context, dom, id string, u *db.Update) error
	deleteFn func(ctx context.Context, dom, id string) error
}

func (m *mockStore) Insert(ctx context.Context, dom, id string, rec db.Record) error {
	if m.insertFn != nil {
		return m.insertFn(ctx, dom, id, rec)
	}
	return nil
}

func (m *mockStore) Get(ctx context.Context, dom, id string) (db.Record, error) {
	if m.getFn != nil {
		return m.getFn(ctx, dom, id)
	}
	return nil, db.ErrKeyNotFound
}

func (m *mockStore) Find(ctx context.Context, dom string, f db.Filter, opts db.FindOptions) (*db.FindResult, error) {
	if m.findFn != nil {
		return m.findFn(ctx, dom, f, opts)
	}
	return &db.FindResult{}, nil
}

func (m *mockStore) Update(ctx context.Context, dom, id string, u *db.Update) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, dom, id, u)
	}
	return nil
}

func (m *mockStore) Delete(ctx context.Context, dom, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, dom, id)
	}
	return nil
}

func newTestRepo(t *testing.T) (*Repo, *mockStore) {
	t.Helper()
	ms := &mockStore{}
	return New(ms, testModel(t)), ms
}

func testModel(t *testing.T) *model.Model {
	t.Helper()
	m, err := model.New(
		model.Class{ID: "doc", Domain: "tracker", Attributes: map[string]model.AttributeType{
			"title": model.Primitive(),
		}},
		model.Class{ID: "task", Extends: "doc", Attributes: map[string]model.AttributeType{
			"status": model.Primitive(),
			"rank":   model.Primitive(),
			"tags":   model.ArrayOf(model.Primitive()),
			"meta":   model.InstanceOf("meta"),
			"props":  model.BagOf(model.Primitive()),
			"tasks":  model.ArrayOf(model.InstanceOf("subtask")),
		}},
		model.Class{ID: "bug", Extends: "task", Attributes: map[string]model.AttributeType{
			"severity": model.Primitive(),
		}},
		model.Class{ID: "estimation", Extends: "task", Mixin: true, Attributes: map[string]model.AttributeType{
			"estimate": model.Primitive(),
		}},
		model.Class{ID: "subtask", Attributes: map[string]model.AttributeType{
			"name":     model.Primitive(),
			"done":     model.Primitive(),
			"comments": model.ArrayOf(model.InstanceOf("comment")),
		}},
		model.Class{ID: "comment", Attributes: map[string]model.AttributeType{
			"id":     model.Primitive(),
			"author": model.Primitive(),
		}},
		model.Class{ID: "meta", Attributes: map[string]model.AttributeType{
			"owner": model.Primitive(),
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

func testTask(t *testing.T, m *model.Model, id domain.DocID) domain.Doc {
	t.Helper()
	doc, err := m.CreateDocument("task", id, map[string]any{
		"title":  "release",
		"status": "open",
		"rank":   float64(3),
		"tags":   []any{"infra", "urgent"},
		"meta":   map[string]any{"owner": "ann"},
		"props":  map[string]any{"color": "red"},
		"tasks": []any{
			map[string]any{
				"name": "subtask1",
				"done": false,
				"comments": []any{
					map[string]any{"id": "#0", "author": "Bob"},
					map[string]any{"id": "#1", "author": "Eve"},
				},
			},
			map[string]any{"name": "subtask2", "done": true},
		},
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	return doc
}
