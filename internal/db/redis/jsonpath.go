package redis

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kailas-cloud/livedoc/internal/db"
	"github.com/kailas-cloud/livedoc/internal/domain/query"
)

var plainKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// $ne and null literals are left out: a JSONPath comparison on a missing field is false,
// while db.Match counts a missing field as unequal to any value and equal to nil.
var filterOps = map[string]string{
	query.OpEq:  "==",
	query.OpGt:  ">",
	query.OpGte: ">=",
	query.OpLt:  "<",
	query.OpLte: "<=",
}

// errUntranslatable marks an update that JSONPath filter expressions cannot express.
var errUntranslatable = fmt.Errorf("update not expressible as JSONPath")

// jsonPath renders a dotted update path with positional segments as a JSONPath:
// "$[]" becomes [*] and "$[fN]" becomes a filter expression built from array filter fN.
func jsonPath(path string, filters map[string]db.Filter) (string, error) {
	var b strings.Builder
	b.WriteString("$")
	for _, seg := range strings.Split(path, ".") {
		switch {
		case seg == db.AllElements:
			b.WriteString("[*]")
		case strings.HasPrefix(seg, "$["):
			name := seg[2 : len(seg)-1]
			f, ok := filters[name]
			if !ok {
				return "", fmt.Errorf("no array filter for %q", seg)
			}
			expr, err := filterExpr(f)
			if err != nil {
				return "", err
			}
			b.WriteString("[?(" + expr + ")]")
		default:
			b.WriteString(member(seg))
		}
	}
	return b.String(), nil
}

// filterExpr renders a relative element filter as a JSONPath predicate.
func filterExpr(f db.Filter) (string, error) {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var conds []string
	for _, k := range keys {
		if strings.HasPrefix(k, "$") {
			return "", errUntranslatable
		}
		field := "@"
		for _, part := range strings.Split(k, ".") {
			field += member(part)
		}
		ops, isOps := f[k].(map[string]any)
		if !isOps {
			lit, err := literal(f[k])
			if err != nil {
				return "", err
			}
			conds = append(conds, field+"=="+lit)
			continue
		}
		opKeys := make([]string, 0, len(ops))
		for op := range ops {
			opKeys = append(opKeys, op)
		}
		sort.Strings(opKeys)
		for _, op := range opKeys {
			sym, ok := filterOps[op]
			if !ok {
				return "", errUntranslatable
			}
			lit, err := literal(ops[op])
			if err != nil {
				return "", err
			}
			conds = append(conds, field+sym+lit)
		}
	}
	if len(conds) == 0 {
		return "@", nil
	}
	return strings.Join(conds, " && "), nil
}

func literal(v any) (string, error) {
	switch v.(type) {
	case nil, map[string]any, db.Filter, []any:
		return "", errUntranslatable
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode filter value: %w", err)
	}
	return string(data), nil
}

func member(key string) string {
	if plainKey.MatchString(key) {
		return "." + key
	}
	quoted, _ := json.Marshal(key)
	return "[" + string(quoted) + "]"
}
