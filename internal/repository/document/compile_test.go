package document

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kailas-cloud/livedoc/internal/db"
	"github.com/kailas-cloud/livedoc/internal/domain"
	"github.com/kailas-cloud/livedoc/internal/domain/query"
	"github.com/kailas-cloud/livedoc/internal/domain/tx"
)

func TestCompileQuery(t *testing.T) {
	m := testModel(t)
	taskClass := map[string]any{"$in": []any{"task", "bug"}}

	tests := []struct {
		name  string
		class domain.ClassRef
		pred  query.Predicate
		want  db.Filter
	}{
		{
			name:  "literal widened to subclasses",
			class: "task",
			pred:  query.Predicate{"status": "open"},
			want:  db.Filter{"status": "open", "_class": taskClass},
		},
		{
			name:  "leaf class keeps equality",
			class: "bug",
			pred:  query.Predicate{"severity": map[string]any{"$gte": 2}},
			want:  db.Filter{"severity": map[string]any{"$gte": 2}, "_class": "bug"},
		},
		{
			name:  "embedded object flattened",
			class: "task",
			pred:  query.Predicate{"meta": map[string]any{"owner": "ann"}},
			want:  db.Filter{"meta.owner": "ann", "_class": taskClass},
		},
		{
			name:  "dotted key on embedded object",
			class: "task",
			pred:  query.Predicate{"meta.owner": "ann"},
			want:  db.Filter{"meta.owner": "ann", "_class": taskClass},
		},
		{
			name:  "bag flattened",
			class: "task",
			pred:  query.Predicate{"props": map[string]any{"color": "red"}},
			want:  db.Filter{"props.color": "red", "_class": taskClass},
		},
		{
			name:  "array of objects uses elemMatch",
			class: "task",
			pred:  query.Predicate{"tasks": map[string]any{"name": "subtask1", "done": false}},
			want: db.Filter{
				"tasks":  map[string]any{"$elemMatch": db.Filter{"name": "subtask1", "done": false}},
				"_class": taskClass,
			},
		},
		{
			name:  "dotted keys constrain the same element",
			class: "task",
			pred:  query.Predicate{"tasks.name": "subtask1", "tasks.done": true},
			want: db.Filter{
				"tasks":  map[string]any{"$elemMatch": db.Filter{"name": "subtask1", "done": true}},
				"_class": taskClass,
			},
		},
		{
			name:  "nested arrays",
			class: "task",
			pred:  query.Predicate{"tasks": map[string]any{"comments": map[string]any{"author": "Bob"}}},
			want: db.Filter{
				"tasks": map[string]any{"$elemMatch": db.Filter{
					"comments": map[string]any{"$elemMatch": db.Filter{"author": "Bob"}},
				}},
				"_class": taskClass,
			},
		},
		{
			name:  "pattern list is all of",
			class: "task",
			pred:  query.Predicate{"tasks": []any{map[string]any{"name": "subtask1"}, map[string]any{"name": "subtask2"}}},
			want: db.Filter{
				"tasks": map[string]any{"$all": []any{
					map[string]any{"$elemMatch": db.Filter{"name": "subtask1"}},
					map[string]any{"$elemMatch": db.Filter{"name": "subtask2"}},
				}},
				"_class": taskClass,
			},
		},
		{
			name:  "mixin filters the mixin list",
			class: "estimation",
			pred:  query.Predicate{"estimate": 5},
			want:  db.Filter{"estimate": 5, "_mixins": "estimation"},
		},
		{
			name:  "explicit class condition is combined",
			class: "task",
			pred:  query.Predicate{"_class": "bug"},
			want: db.Filter{"$and": []db.Filter{
				{"_class": taskClass},
				{"_class": "bug"},
			}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CompileQuery(m, tc.class, tc.pred)
			if err != nil {
				t.Fatalf("CompileQuery: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("filter (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCompileQuery_Errors(t *testing.T) {
	m := testModel(t)
	tests := []struct {
		name string
		pred query.Predicate
		want error
	}{
		{"unknown attribute", query.Predicate{"missing": 1}, domain.ErrAttributeNotFound},
		{"unknown nested attribute", query.Predicate{"tasks.missing": 1}, domain.ErrAttributeNotFound},
		{"pattern on primitive", query.Predicate{"status": map[string]any{"x": 1}}, domain.ErrInvalidQuery},
		{"mixed operator map", query.Predicate{"rank": map[string]any{"$gt": 1, "x": 2}}, domain.ErrInvalidQuery},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CompileQuery(m, "task", tc.pred)
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
	if _, err := CompileQuery(m, "nope", nil); !errors.Is(err, domain.ErrClassNotFound) {
		t.Errorf("unknown class err = %v", err)
	}
}

func TestCompileQuery_AgreesWithMatchQuery(t *testing.T) {
	m := testModel(t)
	task := testTask(t, m, "t1")
	bug, err := m.CreateDocument("bug", "b1", map[string]any{"status": "closed", "severity": float64(2)})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	estimated := task.Clone()
	estimated.ID = "t2"
	estimated.Mixins = []domain.ClassRef{"estimation"}
	estimated.Attributes["estimate"] = float64(5)

	preds := []struct {
		class domain.ClassRef
		pred  query.Predicate
	}{
		{"task", nil},
		{"bug", nil},
		{"doc", query.Predicate{"title": "release"}},
		{"task", query.Predicate{"status": "open"}},
		{"task", query.Predicate{"tags": "infra"}},
		{"task", query.Predicate{"tags": map[string]any{"$in": []any{"x", "urgent"}}}},
		{"task", query.Predicate{"tags": map[string]any{"$nin": []any{"infra"}}}},
		{"task", query.Predicate{"rank": map[string]any{"$gt": 2, "$lt": 4}}},
		{"task", query.Predicate{"meta": map[string]any{"owner": "ann"}}},
		{"task", query.Predicate{"meta.owner": map[string]any{"$exists": false}}},
		{"task", query.Predicate{"props.color": "red"}},
		{"task", query.Predicate{"tasks.name": "subtask1", "tasks.done": true}},
		{"task", query.Predicate{"tasks.name": "subtask2", "tasks.done": true}},
		{"task", query.Predicate{"tasks": map[string]any{"comments": map[string]any{"author": "Eve"}}}},
		{"task", query.Predicate{"tasks": []any{map[string]any{"name": "subtask1"}, map[string]any{"done": true}}}},
		{"task", query.Predicate{"tasks": []any{map[string]any{"name": "subtask1"}, map[string]any{"name": "other"}}}},
		{"bug", query.Predicate{"severity": map[string]any{"$exists": true}}},
		{"estimation", nil},
		{"estimation", query.Predicate{"estimate": 5}},
		{"task", query.Predicate{"_class": "bug"}},
	}
	for _, p := range preds {
		filter, err := CompileQuery(m, p.class, p.pred)
		if err != nil {
			t.Fatalf("CompileQuery(%s, %v): %v", p.class, p.pred, err)
		}
		for _, doc := range []domain.Doc{task, bug, estimated} {
			want := m.MatchQuery(p.class, &doc, p.pred)
			got := db.Match(doc.ToMap(), filter)
			if got != want {
				t.Errorf("%s %v on %s: filter=%v MatchQuery=%v", p.class, p.pred, doc.ID, got, want)
			}
		}
	}
}

func TestCompileOperation_Scenario(t *testing.T) {
	m := testModel(t)
	op := tx.Operation{
		Kind: tx.Set,
		Selector: []tx.ObjectSelector{
			{Key: "tasks", Pattern: query.Predicate{"name": "subtask1"}},
			{Key: "comments", Pattern: query.Predicate{"id": "#0"}},
		},
		Attributes: map[string]any{"author": "Dart"},
	}

	u, next, err := CompileOperation(m, "task", op, 0)
	if err != nil {
		t.Fatalf("CompileOperation: %v", err)
	}
	if next != 2 {
		t.Errorf("next counter = %d, want 2", next)
	}
	want := &db.Update{
		Steps: []db.Step{{Kind: db.StepSet, Path: "tasks.$[f1].comments.$[f2].author", Value: "Dart"}},
		ArrayFilters: []db.ArrayFilter{
			{Name: "f1", Filter: db.Filter{"name": "subtask1"}},
			{Name: "f2", Filter: db.Filter{"id": "#0"}},
		},
	}
	if diff := cmp.Diff(want, u); diff != "" {
		t.Errorf("update (-want +got):\n%s", diff)
	}
	wantDoc := map[string]any{
		"$set": map[string]any{"tasks.$[f1].comments.$[f2].author": "Dart"},
		"arrayFilters": []any{
			map[string]any{"f1.name": "subtask1"},
			map[string]any{"f2.id": "#0"},
		},
	}
	if diff := cmp.Diff(wantDoc, u.Document()); diff != "" {
		t.Errorf("document (-want +got):\n%s", diff)
	}
}

func TestCompileUpdate_FilterNamesAreDistinctAcrossBatch(t *testing.T) {
	m := testModel(t)
	ops := []tx.Operation{
		{
			Kind:       tx.Set,
			Selector:   []tx.ObjectSelector{{Key: "tasks", Pattern: query.Predicate{"name": "subtask1"}}},
			Attributes: map[string]any{"done": true},
		},
		{
			Kind: tx.Set,
			Selector: []tx.ObjectSelector{
				{Key: "tasks", Pattern: query.Predicate{"name": "subtask2"}},
				{Key: "comments", Pattern: query.Predicate{"id": "#1"}},
			},
			Attributes: map[string]any{"author": "Zed"},
		},
	}

	u, next, err := CompileUpdate(m, "task", ops, 0)
	if err != nil {
		t.Fatalf("CompileUpdate: %v", err)
	}
	if next != 3 {
		t.Errorf("next counter = %d, want 3", next)
	}
	names := map[string]bool{}
	for _, af := range u.ArrayFilters {
		if names[af.Name] {
			t.Errorf("filter name %s reused", af.Name)
		}
		names[af.Name] = true
	}
	wantPaths := []string{"tasks.$[f1].done", "tasks.$[f2].comments.$[f3].author"}
	for i, s := range u.Steps {
		if s.Path != wantPaths[i] {
			t.Errorf("step %d path = %s, want %s", i, s.Path, wantPaths[i])
		}
	}

	_, next, err = CompileUpdate(m, "task", ops[:1], next)
	if err != nil {
		t.Fatalf("CompileUpdate: %v", err)
	}
	if next != 4 {
		t.Errorf("counter must continue across calls: got %d, want 4", next)
	}
}

func TestCompileOperation_Kinds(t *testing.T) {
	m := testModel(t)
	sub1 := tx.ObjectSelector{Key: "tasks", Pattern: query.Predicate{"name": "subtask1"}}

	tests := []struct {
		name string
		op   tx.Operation
		want *db.Update
	}{
		{
			name: "set on every element",
			op: tx.Operation{
				Kind:       tx.Set,
				Selector:   []tx.ObjectSelector{{Key: "tasks"}},
				Attributes: map[string]any{"done": true},
			},
			want: &db.Update{Steps: []db.Step{{Kind: db.StepSet, Path: "tasks.$[].done", Value: true}}},
		},
		{
			name: "set embedded object stamps class",
			op: tx.Operation{
				Kind:       tx.Set,
				Attributes: map[string]any{"meta": map[string]any{"owner": "bob"}},
			},
			want: &db.Update{Steps: []db.Step{{
				Kind: db.StepSet, Path: "meta", Value: map[string]any{"owner": "bob", "_class": "meta"},
			}}},
		},
		{
			name: "push on container",
			op: tx.Operation{
				Kind:       tx.Push,
				Selector:   []tx.ObjectSelector{sub1, {Key: "comments"}},
				Attributes: map[string]any{"id": "#2", "author": "Zed"},
			},
			want: &db.Update{
				Steps: []db.Step{{
					Kind:  db.StepPush,
					Path:  "tasks.$[f1].comments",
					Value: map[string]any{"id": "#2", "author": "Zed", "_class": "comment"},
				}},
				ArrayFilters: []db.ArrayFilter{{Name: "f1", Filter: db.Filter{"name": "subtask1"}}},
			},
		},
		{
			name: "pull by pattern",
			op: tx.Operation{
				Kind:     tx.Pull,
				Selector: []tx.ObjectSelector{{Key: "tasks", Pattern: query.Predicate{"name": "subtask2"}}},
			},
			want: &db.Update{Steps: []db.Step{{
				Kind: db.StepPull, Path: "tasks", Filter: db.Filter{"name": "subtask2"},
			}}},
		},
		{
			name: "pull of a scalar unsets",
			op: tx.Operation{
				Kind:     tx.Pull,
				Selector: []tx.ObjectSelector{sub1, {Key: "done"}},
			},
			want: &db.Update{
				Steps:        []db.Step{{Kind: db.StepUnset, Path: "tasks.$[f1].done"}},
				ArrayFilters: []db.ArrayFilter{{Name: "f1", Filter: db.Filter{"name": "subtask1"}}},
			},
		},
		{
			name: "mixin root adds the mixin",
			op: tx.Operation{
				Kind:       tx.Set,
				Root:       "estimation",
				Attributes: map[string]any{"estimate": 5},
			},
			want: &db.Update{Steps: []db.Step{
				{Kind: db.StepAddToSet, Path: "_mixins", Value: "estimation"},
				{Kind: db.StepSet, Path: "estimate", Value: 5},
			}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, _, err := CompileOperation(m, "task", tc.op, 0)
			if err != nil {
				t.Fatalf("CompileOperation: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("update (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCompileOperation_Errors(t *testing.T) {
	m := testModel(t)
	tests := []struct {
		name string
		op   tx.Operation
		want error
	}{
		{
			name: "unknown attribute",
			op:   tx.Operation{Kind: tx.Set, Attributes: map[string]any{"missing": 1}},
			want: domain.ErrAttributeNotFound,
		},
		{
			name: "unknown selector key",
			op:   tx.Operation{Kind: tx.Set, Selector: []tx.ObjectSelector{{Key: "missing"}}},
			want: domain.ErrAttributeNotFound,
		},
		{
			name: "pattern on non-array",
			op: tx.Operation{
				Kind:     tx.Set,
				Selector: []tx.ObjectSelector{{Key: "meta", Pattern: query.Predicate{"owner": "ann"}}},
			},
			want: domain.ErrInvalidSelectorTarget,
		},
		{
			name: "push on non-array",
			op:   tx.Operation{Kind: tx.Push, Selector: []tx.ObjectSelector{{Key: "meta"}}},
			want: domain.ErrInvalidOperationTarget,
		},
		{
			name: "root in another domain",
			op:   tx.Operation{Kind: tx.Set, Root: "person", Attributes: map[string]any{"name": "x"}},
			want: domain.ErrDomainMismatch,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, next, err := CompileOperation(m, "task", tc.op, 7)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if next != 7 {
				t.Errorf("counter = %d, a failed compile must not consume filter names", next)
			}
		})
	}
}

func TestCompileUpdate_AgreesWithAssign(t *testing.T) {
	m := testModel(t)
	doc := testTask(t, m, "t1")
	batches := [][]tx.Operation{
		{{
			Kind: tx.Set,
			Selector: []tx.ObjectSelector{
				{Key: "tasks", Pattern: query.Predicate{"name": "subtask1"}},
				{Key: "comments", Pattern: query.Predicate{"id": "#0"}},
			},
			Attributes: map[string]any{"author": "Dart"},
		}},
		{
			{Kind: tx.Set, Selector: []tx.ObjectSelector{{Key: "tasks"}}, Attributes: map[string]any{"done": true}},
			{Kind: tx.Set, Attributes: map[string]any{"status": "closed", "rank": float64(1)}},
		},
		{
			{
				Kind:       tx.Push,
				Selector:   []tx.ObjectSelector{{Key: "tasks", Pattern: query.Predicate{"done": true}}, {Key: "comments"}},
				Attributes: map[string]any{"id": "#9"},
			},
			{Kind: tx.Pull, Selector: []tx.ObjectSelector{{Key: "tasks", Pattern: query.Predicate{"name": "subtask1"}}}},
		},
		{
			{Kind: tx.Pull, Selector: []tx.ObjectSelector{{Key: "meta"}, {Key: "owner"}}},
			{Kind: tx.Pull, Selector: []tx.ObjectSelector{{Key: "props"}, {Key: "color"}}},
		},
		{
			{Kind: tx.Set, Root: "estimation", Attributes: map[string]any{"estimate": float64(8)}},
			{Kind: tx.Set, Root: "estimation", Attributes: map[string]any{"estimate": float64(9)}},
		},
	}
	for i, ops := range batches {
		local, err := m.Assign(doc, ops)
		if err != nil {
			t.Fatalf("batch %d Assign: %v", i, err)
		}
		u, _, err := CompileUpdate(m, "task", ops, 0)
		if err != nil {
			t.Fatalf("batch %d CompileUpdate: %v", i, err)
		}
		stored := doc.ToMap()
		if err := db.ApplyUpdate(stored, u); err != nil {
			t.Fatalf("batch %d ApplyUpdate: %v", i, err)
		}
		if diff := cmp.Diff(local.ToMap(), stored); diff != "" {
			t.Errorf("batch %d local vs stored (-local +stored):\n%s", i, diff)
		}
	}
}
