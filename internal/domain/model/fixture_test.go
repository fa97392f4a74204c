package model

import (
	"testing"

	"github.com/kailas-cloud/livedoc/internal/domain"
)

func trackerClasses() []Class {
	return []Class{
		{ID: "doc", Domain: "tracker", Attributes: map[string]AttributeType{
			"title": Primitive(),
		}},
		{ID: "task", Extends: "doc", Attributes: map[string]AttributeType{
			"status":   Primitive(),
			"rank":     Primitive(),
			"tags":     ArrayOf(Primitive()),
			"assignee": RefTo("person"),
			"meta":     InstanceOf("meta"),
			"props":    BagOf(Primitive()),
			"tasks":    ArrayOf(InstanceOf("subtask")),
		}},
		{ID: "bug", Extends: "task", Attributes: map[string]AttributeType{
			"severity": Primitive(),
		}},
		{ID: "estimation", Extends: "task", Mixin: true, Attributes: map[string]AttributeType{
			"estimate": Primitive(),
		}},
		{ID: "subtask", Attributes: map[string]AttributeType{
			"name":     Primitive(),
			"done":     Primitive(),
			"comments": ArrayOf(InstanceOf("comment")),
		}},
		{ID: "comment", Attributes: map[string]AttributeType{
			"id":     Primitive(),
			"author": Primitive(),
		}},
		{ID: "meta", Attributes: map[string]AttributeType{
			"owner":    Primitive(),
			"priority": Primitive(),
		}},
		{ID: "person", Domain: "contact", Attributes: map[string]AttributeType{
			"name": Primitive(),
		}},
	}
}

func newTracker(t *testing.T) *Model {
	t.Helper()
	m, err := New(trackerClasses()...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func sampleTask(t *testing.T, m *Model) domain.Doc {
	t.Helper()
	doc, err := m.CreateDocument("task", "t1", map[string]any{
		"title":  "release",
		"status": "open",
		"rank":   float64(3),
		"tags":   []any{"infra", "urgent"},
		"meta":   map[string]any{"owner": "ann", "priority": float64(1)},
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
