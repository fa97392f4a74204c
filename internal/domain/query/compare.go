package query

import (
	"encoding/json"
	"sort"

	"github.com/kailas-cloud/livedoc/internal/domain"
)

// Type ranks order values of different kinds: missing < number < string < object < array < bool.
const (
	rankNull = iota
	rankNumber
	rankString
	rankObject
	rankArray
	rankBool
	rankOther
)

func rank(v any) int {
	switch t := v.(type) {
	case nil:
		return rankNull
	case string:
		return rankString
	case bool:
		return rankBool
	case map[string]any, Predicate:
		return rankObject
	case []any:
		return rankArray
	default:
		if _, ok := toFloat(t); ok {
			return rankNumber
		}
		return rankOther
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Comparable reports whether a and b can be ordered by range operators.
func Comparable(a, b any) bool {
	ra := rank(a)
	if ra != rank(b) {
		return false
	}
	return ra == rankNumber || ra == rankString || ra == rankBool
}

// Compare is a total order over JSON-like values. Values of different kinds order by kind.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmpInt(ra, rb)
	}
	switch ra {
	case rankNumber:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case rankString:
		sa, sb := a.(string), b.(string)
		switch {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		}
		return 0
	case rankBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	case rankArray:
		xa, xb := a.([]any), b.([]any)
		for i := 0; i < len(xa) && i < len(xb); i++ {
			if c := Compare(xa[i], xb[i]); c != 0 {
				return c
			}
		}
		return cmpInt(len(xa), len(xb))
	case rankObject:
		ma, _ := AsMap(a)
		mb, _ := AsMap(b)
		ka, kb := sortedKeys(ma), sortedKeys(mb)
		for i := 0; i < len(ka) && i < len(kb); i++ {
			if ka[i] != kb[i] {
				if ka[i] < kb[i] {
					return -1
				}
				return 1
			}
			if c := Compare(ma[ka[i]], mb[kb[i]]); c != 0 {
				return c
			}
		}
		return cmpInt(len(ka), len(kb))
	}
	return 0
}

// Equal reports deep equality with numeric kinds unified.
func Equal(a, b any) bool {
	ra := rank(a)
	if ra != rank(b) {
		return false
	}
	if ra == rankOther {
		return a == b
	}
	return Compare(a, b) == 0
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// SortOrder is the direction of a sort key.
type SortOrder int

const (
	// Ascending sorts smaller values first.
	Ascending SortOrder = 1
	// Descending sorts larger values first.
	Descending SortOrder = -1
)

// SortField is one key of an ordered sort.
type SortField struct {
	Path  string
	Order SortOrder
}

// Getter returns the value at a dotted path of one document.
type Getter func(path string) (any, bool)

// CompareBy orders two documents by the sort keys. Missing values sort first.
func CompareBy(keys []SortField, a, b Getter) int {
	for _, f := range keys {
		va, _ := a(f.Path)
		vb, _ := b(f.Path)
		c := Compare(va, vb)
		if f.Order == Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// SortStable orders n items using the getter for item i.
func SortStable(items any, keys []SortField, get func(i int) Getter) {
	sort.SliceStable(items, func(i, j int) bool {
		return CompareBy(keys, get(i), get(j)) < 0
	})
}

// WithTieBreak appends an ascending _id key so that equal sort keys order deterministically.
func WithTieBreak(keys []SortField) []SortField {
	for _, f := range keys {
		if f.Path == domain.KeyID {
			return keys
		}
	}
	out := make([]SortField, 0, len(keys)+1)
	out = append(out, keys...)
	return append(out, SortField{Path: domain.KeyID, Order: Ascending})
}
