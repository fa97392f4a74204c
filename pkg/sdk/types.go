package livedoc

import (
	"github.com/kailas-cloud/livedoc/internal/domain"
	"github.com/kailas-cloud/livedoc/internal/domain/query"
)

// Doc is a stored document in its flat form: attributes plus "_id", "_class" and,
// when mixins were applied, "_mixins".
type Doc map[string]any

// ID returns the document id.
func (d Doc) ID() string {
	id, _ := d[domain.KeyID].(string)
	return id
}

// Class returns the primary class of the document.
func (d Doc) Class() string {
	c, _ := d[domain.KeyClass].(string)
	return c
}

// Query selects documents: attribute names or dotted paths mapped to a literal,
// an operator map such as {"$in": [...]}, or a pattern over embedded arrays.
type Query map[string]any

// Attrs are attribute values written by a transaction.
type Attrs map[string]any

// Sort is one key of a result order.
type Sort struct {
	Path string
	Desc bool
}

// Asc orders by path, smallest first.
func Asc(path string) Sort { return Sort{Path: path} }

// Desc orders by path, largest first.
func Desc(path string) Sort { return Sort{Path: path, Desc: true} }

// FindOptions bound and order a result window. Zero Limit means unbounded.
type FindOptions struct {
	Limit int
	Skip  int
	Sort  []Sort
}

// Result is one window of matching documents and the total match count.
type Result struct {
	Docs  []Doc
	Total int
}

// Snapshot is one notification of a watched query. Seq increases with every delivery.
type Snapshot struct {
	Docs  []Doc
	Total int
	Seq   uint64
}

func (o FindOptions) toQuery() query.Options {
	return query.Options{Limit: o.Limit, Skip: o.Skip, Sort: toSort(o.Sort)}
}

func toSort(sort []Sort) []query.SortField {
	if len(sort) == 0 {
		return nil
	}
	out := make([]query.SortField, len(sort))
	for i, s := range sort {
		out[i] = query.SortField{Path: s.Path, Order: query.Ascending}
		if s.Desc {
			out[i].Order = query.Descending
		}
	}
	return out
}

func fromDomain(d domain.Doc) Doc {
	return Doc(d.ToMap())
}

func fromDomainList(docs []domain.Doc) []Doc {
	out := make([]Doc, len(docs))
	for i := range docs {
		out[i] = fromDomain(docs[i])
	}
	return out
}

// plain rewrites nested Query, Attrs and Doc values into the map[string]any and []any
// shapes the query engine and stores operate on.
func plain(v any) any {
	switch t := v.(type) {
	case Query:
		return plainMap(t)
	case Attrs:
		return plainMap(t)
	case Doc:
		return plainMap(t)
	case map[string]any:
		return plainMap(t)
	case []Query:
		out := make([]any, len(t))
		for i, q := range t {
			out[i] = plainMap(q)
		}
		return out
	case []Attrs:
		out := make([]any, len(t))
		for i, a := range t {
			out[i] = plainMap(a)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	default:
		return v
	}
}

func plainMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = plain(v)
	}
	return out
}
