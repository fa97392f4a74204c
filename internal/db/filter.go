package db

import (
	"sort"
	"strconv"
	"strings"

	"github.com/kailas-cloud/livedoc/internal/domain"
	"github.com/kailas-cloud/livedoc/internal/domain/query"
)

// Filter is a MongoDB-shaped document filter: dotted paths mapped to a literal or an
// operator map. Besides the comparison operators it understands $elemMatch, $all and a
// top-level $and.
type Filter map[string]any

// Filter operators beyond the comparison set.
const (
	OpElemMatch = "$elemMatch"
	OpAll       = "$all"
	OpAnd       = "$and"
)

// Match evaluates f against a record. Paths fan out through arrays: a condition holds when
// any value reached by the path satisfies it.
func Match(rec map[string]any, f Filter) bool {
	for key, cond := range f {
		if key == OpAnd {
			for _, sub := range filterList(cond) {
				if !Match(rec, sub) {
					return false
				}
			}
			continue
		}
		values := collect(rec, strings.Split(key, "."))
		if !matchValues(values, cond) {
			return false
		}
	}
	return true
}

// collect returns every value reached by path, descending into array elements for
// non-numeric segments.
func collect(node any, parts []string) []any {
	if len(parts) == 0 {
		return []any{node}
	}
	switch t := node.(type) {
	case map[string]any:
		v, ok := t[parts[0]]
		if !ok {
			return nil
		}
		return collect(v, parts[1:])
	case []any:
		if i, err := strconv.Atoi(parts[0]); err == nil {
			if i < 0 || i >= len(t) {
				return nil
			}
			return collect(t[i], parts[1:])
		}
		var out []any
		for _, e := range t {
			out = append(out, collect(e, parts)...)
		}
		return out
	}
	return nil
}

func matchValues(values []any, cond any) bool {
	ops, ok := operatorMap(cond)
	if !ok {
		return anyValue(values, func(v any, present bool) bool {
			return query.Eval(query.OpEq, v, present, cond)
		})
	}
	for op, arg := range ops {
		var hold bool
		switch op {
		case OpElemMatch:
			hold = anyValue(values, func(v any, _ bool) bool { return elemMatch(v, arg) })
		case OpAll:
			hold = all(values, arg)
		case query.OpNe, query.OpNin:
			hold = allValues(values, func(v any, present bool) bool { return query.Eval(op, v, present, arg) })
		default:
			hold = anyValue(values, func(v any, present bool) bool { return query.Eval(op, v, present, arg) })
		}
		if !hold {
			return false
		}
	}
	return true
}

func anyValue(values []any, fn func(v any, present bool) bool) bool {
	if len(values) == 0 {
		return fn(nil, false)
	}
	for _, v := range values {
		if fn(v, true) {
			return true
		}
	}
	return false
}

func allValues(values []any, fn func(v any, present bool) bool) bool {
	if len(values) == 0 {
		return fn(nil, false)
	}
	for _, v := range values {
		if !fn(v, true) {
			return false
		}
	}
	return true
}

func elemMatch(v any, arg any) bool {
	list, ok := v.([]any)
	if !ok {
		return false
	}
	sub, _ := arg.(map[string]any)
	if f, ok := arg.(Filter); ok {
		sub = f
	}
	if ops, ok := operatorMap(sub); ok {
		for _, e := range list {
			if query.EvalAll(ops, e, true) {
				return true
			}
		}
		return false
	}
	for _, e := range list {
		if obj, ok := e.(map[string]any); ok && Match(obj, sub) {
			return true
		}
	}
	return false
}

func all(values []any, arg any) bool {
	for _, item := range query.AsList(arg) {
		if ops, ok := operatorMap(item); ok {
			if !matchValues(values, ops) {
				return false
			}
			continue
		}
		if !anyValue(values, func(v any, present bool) bool { return query.Eval(query.OpEq, v, present, item) }) {
			return false
		}
	}
	return true
}

// operatorMap returns cond as an operator map when all its keys start with '$'.
func operatorMap(cond any) (map[string]any, bool) {
	var m map[string]any
	switch t := cond.(type) {
	case map[string]any:
		m = t
	case Filter:
		m = t
	default:
		return nil, false
	}
	if len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

func filterList(v any) []Filter {
	switch t := v.(type) {
	case []Filter:
		return t
	case []any:
		out := make([]Filter, 0, len(t))
		for _, e := range t {
			switch f := e.(type) {
			case Filter:
				out = append(out, f)
			case map[string]any:
				out = append(out, f)
			}
		}
		return out
	}
	return nil
}

// Select applies a filter, sort and window to records, the way every backend answers Find.
func Select(recs []Record, f Filter, opts FindOptions) *FindResult {
	matched := make([]Record, 0, len(recs))
	for _, r := range recs {
		if Match(r, f) {
			matched = append(matched, r)
		}
	}
	SortRecords(matched, opts.Sort)

	res := &FindResult{Total: len(matched)}
	start := min(max(opts.Skip, 0), len(matched))
	end := len(matched)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	res.Records = matched[start:end]
	return res
}

// SortRecords orders records by keys, breaking ties by _id.
func SortRecords(recs []Record, keys []query.SortField) {
	full := query.WithTieBreak(keys)
	sort.SliceStable(recs, func(i, j int) bool {
		return query.CompareBy(full, getter(recs[i]), getter(recs[j])) < 0
	})
}

func getter(rec Record) query.Getter {
	return func(path string) (any, bool) { return domain.Lookup(rec, path) }
}
