package db

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/livedoc/internal/domain"
	"github.com/kailas-cloud/livedoc/internal/domain/query"
)

// StepKind is a MongoDB update operator.
type StepKind string

// Update operators.
const (
	StepSet      StepKind = "$set"
	StepUnset    StepKind = "$unset"
	StepPush     StepKind = "$push"
	StepPull     StepKind = "$pull"
	StepAddToSet StepKind = "$addToSet"
)

// Positional path segments.
const (
	// AllElements addresses every element of an array.
	AllElements = "$[]"
)

// Placeholder renders the positional segment bound to array filter name.
func Placeholder(name string) string { return "$[" + name + "]" }

// placeholderName extracts the filter name of a "$[name]" segment.
func placeholderName(seg string) (string, bool) {
	if !strings.HasPrefix(seg, "$[") || !strings.HasSuffix(seg, "]") || seg == AllElements {
		return "", false
	}
	return seg[2 : len(seg)-1], true
}

// Step is one update instruction. Path is dotted and may contain positional segments
// ("$[]" or "$[fN]"). Filter is only used by StepPull and selects the elements to remove.
type Step struct {
	Kind   StepKind
	Path   string
	Value  any
	Filter Filter
}

// ArrayFilter binds a positional placeholder to a condition on the array element.
type ArrayFilter struct {
	Name   string
	Filter Filter
}

// Update is a single update statement: steps plus the array filters they reference.
type Update struct {
	Steps        []Step
	ArrayFilters []ArrayFilter
}

// IsEmpty reports whether the update has no steps.
func (u *Update) IsEmpty() bool { return u == nil || len(u.Steps) == 0 }

// Merge appends other's steps and array filters.
func (u *Update) Merge(other *Update) {
	if other == nil {
		return
	}
	u.Steps = append(u.Steps, other.Steps...)
	u.ArrayFilters = append(u.ArrayFilters, other.ArrayFilters...)
}

// Filters returns the array filters keyed by name.
func (u *Update) Filters() map[string]Filter {
	out := make(map[string]Filter, len(u.ArrayFilters))
	for _, af := range u.ArrayFilters {
		out[af.Name] = af.Filter
	}
	return out
}

// Document renders the MongoDB form: {"$set": {...}, ..., "arrayFilters": [{"f1.key": v}]}.
func (u *Update) Document() map[string]any {
	doc := make(map[string]any)
	for _, s := range u.Steps {
		group, _ := doc[string(s.Kind)].(map[string]any)
		if group == nil {
			group = make(map[string]any)
			doc[string(s.Kind)] = group
		}
		switch s.Kind {
		case StepUnset:
			group[s.Path] = ""
		case StepPull:
			group[s.Path] = map[string]any(s.Filter)
		default:
			group[s.Path] = s.Value
		}
	}
	if len(u.ArrayFilters) > 0 {
		filters := make([]any, len(u.ArrayFilters))
		for i, af := range u.ArrayFilters {
			f := make(map[string]any, len(af.Filter))
			for k, v := range af.Filter {
				f[af.Name+"."+k] = v
			}
			filters[i] = f
		}
		doc["arrayFilters"] = filters
	}
	return doc
}

// ApplyUpdate executes u against rec in place. Missing intermediate objects are skipped;
// Push creates a missing array.
func ApplyUpdate(rec Record, u *Update) error {
	filters := u.Filters()
	for _, s := range u.Steps {
		parts := strings.Split(s.Path, ".")
		last := parts[len(parts)-1]
		if last == AllElements {
			return fmt.Errorf("step %s %q: path must end with a key", s.Kind, s.Path)
		}
		if _, ok := placeholderName(last); ok {
			return fmt.Errorf("step %s %q: path must end with a key", s.Kind, s.Path)
		}
		parents, err := resolveParents(rec, parts[:len(parts)-1], filters)
		if err != nil {
			return fmt.Errorf("step %s %q: %w", s.Kind, s.Path, err)
		}
		for _, p := range parents {
			applyStep(p, last, s)
		}
	}
	return nil
}

func applyStep(parent map[string]any, key string, s Step) {
	switch s.Kind {
	case StepSet:
		parent[key] = domain.CloneValue(s.Value)
	case StepUnset:
		delete(parent, key)
	case StepPush:
		list, _ := parent[key].([]any)
		parent[key] = append(list, domain.CloneValue(s.Value))
	case StepAddToSet:
		list, _ := parent[key].([]any)
		for _, e := range list {
			if query.Equal(e, s.Value) {
				return
			}
		}
		parent[key] = append(list, domain.CloneValue(s.Value))
	case StepPull:
		list, ok := parent[key].([]any)
		if !ok {
			return
		}
		kept := make([]any, 0, len(list))
		for _, e := range list {
			if obj, ok := e.(map[string]any); ok && Match(obj, s.Filter) {
				continue
			}
			kept = append(kept, e)
		}
		parent[key] = kept
	}
}

// resolveParents walks the path prefix and returns the objects that hold the final key.
func resolveParents(rec Record, parts []string, filters map[string]Filter) ([]map[string]any, error) {
	nodes := []any{map[string]any(rec)}
	for _, seg := range parts {
		var next []any
		for _, n := range nodes {
			switch {
			case seg == AllElements:
				list, _ := n.([]any)
				next = append(next, list...)
			case strings.HasPrefix(seg, "$["):
				name, _ := placeholderName(seg)
				f, ok := filters[name]
				if !ok {
					return nil, fmt.Errorf("no array filter for %q", seg)
				}
				list, _ := n.([]any)
				for _, e := range list {
					if obj, ok := e.(map[string]any); ok && Match(obj, f) {
						next = append(next, obj)
					}
				}
			default:
				if obj, ok := n.(map[string]any); ok {
					if v, ok := obj[seg]; ok {
						next = append(next, v)
					}
				}
			}
		}
		nodes = next
	}
	out := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		if obj, ok := n.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out, nil
}
