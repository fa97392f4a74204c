package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kailas-cloud/livedoc/internal/domain"
)

// Predicate maps attribute names or dotted paths to a literal, an operator map or a pattern.
type Predicate map[string]any

// Query addresses documents of a class.
type Query struct {
	Class     domain.ClassRef
	Predicate Predicate
	Options   Options
}

// Options bound and order a result window.
type Options struct {
	Limit int
	Skip  int
	Sort  []SortField
}

// IsSorted reports whether a sort is active.
func (o Options) IsSorted() bool { return len(o.Sort) > 0 }

// IsBounded reports whether the result set is a window over the matches.
func (o Options) IsBounded() bool { return o.Limit > 0 || o.Skip > 0 }

// Operators understood by both the in-memory matcher and the native filter evaluator.
const (
	OpEq     = "$eq"
	OpNe     = "$ne"
	OpGt     = "$gt"
	OpGte    = "$gte"
	OpLt     = "$lt"
	OpLte    = "$lte"
	OpIn     = "$in"
	OpNin    = "$nin"
	OpExists = "$exists"
)

var knownOperators = map[string]bool{
	OpEq: true, OpNe: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpIn: true, OpNin: true, OpExists: true,
}

// IsOperator reports whether op is a comparison operator.
func IsOperator(op string) bool { return knownOperators[op] }

// Keys returns the predicate keys in sorted order.
func (p Predicate) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ConditionKind classifies a predicate value.
type ConditionKind int

const (
	// Literal is an equality value.
	Literal ConditionKind = iota
	// Operators is a map of $-operators.
	Operators
	// Pattern is a sub-predicate on an embedded object or array element.
	Pattern
	// PatternList is an "all of" list of element patterns.
	PatternList
)

// Classify returns the kind of a predicate value.
func Classify(v any) (ConditionKind, error) {
	switch t := v.(type) {
	case Predicate:
		return classifyMap(t)
	case map[string]any:
		return classifyMap(t)
	case []any:
		if len(t) == 0 {
			return Literal, nil
		}
		for _, e := range t {
			if _, ok := AsMap(e); !ok {
				return Literal, nil
			}
			if k, err := Classify(e); err != nil || k != Pattern {
				return Literal, err
			}
		}
		return PatternList, nil
	case []Predicate:
		if len(t) == 0 {
			return Literal, nil
		}
		return PatternList, nil
	default:
		return Literal, nil
	}
}

func classifyMap(m map[string]any) (ConditionKind, error) {
	if len(m) == 0 {
		return Pattern, nil
	}
	ops, plain := 0, 0
	for k := range m {
		if strings.HasPrefix(k, "$") {
			if !IsOperator(k) {
				return Literal, fmt.Errorf("unknown operator %q: %w", k, domain.ErrInvalidQuery)
			}
			ops++
		} else {
			plain++
		}
	}
	if ops > 0 && plain > 0 {
		return Literal, fmt.Errorf("operators mixed with fields: %w", domain.ErrInvalidQuery)
	}
	if ops > 0 {
		return Operators, nil
	}
	return Pattern, nil
}

// AsMap views v as a plain map when it is a map or a Predicate.
func AsMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Predicate:
		return t, true
	default:
		return nil, false
	}
}

// AsPatternList returns the element patterns of a PatternList value.
func AsPatternList(v any) []map[string]any {
	switch t := v.(type) {
	case []Predicate:
		out := make([]map[string]any, len(t))
		for i, p := range t {
			out[i] = p
		}
		return out
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, e := range t {
			if m, ok := AsMap(e); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

// Expand rewrites dotted keys into nested patterns so that several dotted keys under the
// same parent constrain the same embedded object or array element.
func Expand(p map[string]any) (Predicate, error) {
	out := make(Predicate, len(p))
	for _, key := range sortedKeys(p) {
		value := p[key]
		kind, err := Classify(value)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		if kind == Pattern {
			m, _ := AsMap(value)
			sub, err := Expand(m)
			if err != nil {
				return nil, err
			}
			value = sub
		}
		if kind == PatternList {
			list := AsPatternList(value)
			expanded := make([]any, len(list))
			for i, m := range list {
				sub, err := Expand(m)
				if err != nil {
					return nil, err
				}
				expanded[i] = sub
			}
			value = expanded
		}
		if err := insertPath(out, strings.Split(key, "."), value); err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
	}
	return out, nil
}

func insertPath(into Predicate, parts []string, value any) error {
	head := parts[0]
	if head == "" {
		return fmt.Errorf("empty path segment: %w", domain.ErrInvalidQuery)
	}
	if len(parts) == 1 {
		existing, ok := into[head]
		if !ok {
			into[head] = value
			return nil
		}
		return mergeInto(into, head, existing, value)
	}
	child, ok := into[head]
	if !ok {
		sub := Predicate{}
		into[head] = sub
		return insertPath(sub, parts[1:], value)
	}
	sub, ok := child.(Predicate)
	if !ok {
		return fmt.Errorf("conflicting conditions on %q: %w", head, domain.ErrInvalidQuery)
	}
	return insertPath(sub, parts[1:], value)
}

func mergeInto(into Predicate, key string, existing, value any) error {
	a, aok := existing.(Predicate)
	b, bok := value.(Predicate)
	if !aok || !bok {
		return fmt.Errorf("conflicting conditions on %q: %w", key, domain.ErrInvalidQuery)
	}
	for k, v := range b {
		if old, ok := a[k]; ok {
			if err := mergeInto(a, k, old, v); err != nil {
				return err
			}
			continue
		}
		a[k] = v
	}
	into[key] = a
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
