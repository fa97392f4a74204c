// Package tx defines transactions over documents and the operations carried by updates.
package tx

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/livedoc/internal/domain"
	"github.com/kailas-cloud/livedoc/internal/domain/query"
)

// ObjectSelector is one step of a path into a document. Pattern narrows an array-valued
// attribute to the elements whose sub-attributes match it.
type ObjectSelector struct {
	Key     string
	Pattern query.Predicate
}

// OpKind is the mutation kind of an Operation.
type OpKind string

const (
	// Set replaces fields at the addressed node.
	Set OpKind = "set"
	// Push appends an embedded element to the addressed array.
	Push OpKind = "push"
	// Pull removes the addressed array elements, or unsets a non-array target.
	Pull OpKind = "pull"
)

// Operation is a single mutation of an UpdateTx.
type Operation struct {
	Kind OpKind
	// Root is the class the selector was resolved against; empty means the transaction class.
	Root       domain.ClassRef
	Selector   []ObjectSelector
	Attributes map[string]any
}

// Path renders the selector for logs, e.g. tasks{name=subtask1}.comments.
func (o Operation) Path() string {
	parts := make([]string, len(o.Selector))
	for i, s := range o.Selector {
		if s.Pattern == nil {
			parts[i] = s.Key
			continue
		}
		conds := make([]string, 0, len(s.Pattern))
		for _, k := range s.Pattern.Keys() {
			conds = append(conds, fmt.Sprintf("%s=%v", k, s.Pattern[k]))
		}
		parts[i] = s.Key + "{" + strings.Join(conds, ",") + "}"
	}
	return strings.Join(parts, ".")
}

// Kind tags a transaction variant.
type Kind string

const (
	// KindCreate tags CreateTx.
	KindCreate Kind = "create"
	// KindUpdate tags UpdateTx.
	KindUpdate Kind = "update"
	// KindDelete tags DeleteTx.
	KindDelete Kind = "delete"
)

// Tx is a sealed transaction: CreateTx, UpdateTx or DeleteTx.
type Tx interface {
	Kind() Kind
	ObjectClass() domain.ClassRef
	ObjectID() domain.DocID
	sealed()
}

// CreateTx creates a document of Class with attributes Object.
type CreateTx struct {
	Class  domain.ClassRef
	ID     domain.DocID
	Object map[string]any
}

// UpdateTx applies Operations, in order, to an existing document.
type UpdateTx struct {
	Class      domain.ClassRef
	ID         domain.DocID
	Operations []Operation
}

// DeleteTx removes a document.
type DeleteTx struct {
	Class domain.ClassRef
	ID    domain.DocID
}

// Kind implements Tx.
func (CreateTx) Kind() Kind { return KindCreate }

// ObjectClass implements Tx.
func (t CreateTx) ObjectClass() domain.ClassRef { return t.Class }

// ObjectID implements Tx.
func (t CreateTx) ObjectID() domain.DocID { return t.ID }

func (CreateTx) sealed() {}

// Kind implements Tx.
func (UpdateTx) Kind() Kind { return KindUpdate }

// ObjectClass implements Tx.
func (t UpdateTx) ObjectClass() domain.ClassRef { return t.Class }

// ObjectID implements Tx.
func (t UpdateTx) ObjectID() domain.DocID { return t.ID }

func (UpdateTx) sealed() {}

// Kind implements Tx.
func (DeleteTx) Kind() Kind { return KindDelete }

// ObjectClass implements Tx.
func (t DeleteTx) ObjectClass() domain.ClassRef { return t.Class }

// ObjectID implements Tx.
func (t DeleteTx) ObjectID() domain.DocID { return t.ID }

func (DeleteTx) sealed() {}
