package tx

import (
	"encoding/json"
	"fmt"

	"github.com/kailas-cloud/livedoc/internal/domain"
	"github.com/kailas-cloud/livedoc/internal/domain/query"
)

// envelope is the JSON form of a transaction.
type envelope struct {
	Kind       Kind               `json:"kind"`
	Class      domain.ClassRef    `json:"class"`
	ID         domain.DocID       `json:"id"`
	Object     map[string]any     `json:"object,omitempty"`
	Operations []operationPayload `json:"operations,omitempty"`
}

type operationPayload struct {
	Kind       OpKind            `json:"kind"`
	Root       domain.ClassRef   `json:"root,omitempty"`
	Selector   []selectorPayload `json:"selector,omitempty"`
	Attributes map[string]any    `json:"attributes,omitempty"`
}

type selectorPayload struct {
	Key     string         `json:"key"`
	Pattern map[string]any `json:"pattern,omitempty"`
}

// Marshal encodes a transaction as a tagged JSON envelope.
func Marshal(t Tx) ([]byte, error) {
	env := envelope{Kind: t.Kind(), Class: t.ObjectClass(), ID: t.ObjectID()}
	switch v := t.(type) {
	case CreateTx:
		env.Object = v.Object
	case UpdateTx:
		env.Operations = make([]operationPayload, len(v.Operations))
		for i, op := range v.Operations {
			env.Operations[i] = operationToPayload(op)
		}
	case DeleteTx:
	default:
		return nil, fmt.Errorf("unknown transaction type %T", t)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s tx: %w", t.Kind(), err)
	}
	return data, nil
}

// Unmarshal decodes a tagged JSON envelope.
func Unmarshal(data []byte) (Tx, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal tx: %w", err)
	}
	return env.toTx()
}

func (env envelope) toTx() (Tx, error) {
	if env.Class == "" {
		return nil, fmt.Errorf("tx class is required")
	}
	switch env.Kind {
	case KindCreate:
		return CreateTx{Class: env.Class, ID: env.ID, Object: env.Object}, nil
	case KindUpdate:
		if env.ID == "" {
			return nil, fmt.Errorf("update tx id is required")
		}
		ops := make([]Operation, len(env.Operations))
		for i, p := range env.Operations {
			op, err := p.toOperation()
			if err != nil {
				return nil, fmt.Errorf("operation %d: %w", i, err)
			}
			ops[i] = op
		}
		return UpdateTx{Class: env.Class, ID: env.ID, Operations: ops}, nil
	case KindDelete:
		if env.ID == "" {
			return nil, fmt.Errorf("delete tx id is required")
		}
		return DeleteTx{Class: env.Class, ID: env.ID}, nil
	default:
		return nil, fmt.Errorf("unknown tx kind %q", env.Kind)
	}
}

func operationToPayload(op Operation) operationPayload {
	p := operationPayload{Kind: op.Kind, Root: op.Root, Attributes: op.Attributes}
	for _, s := range op.Selector {
		p.Selector = append(p.Selector, selectorPayload{Key: s.Key, Pattern: s.Pattern})
	}
	return p
}

func (p operationPayload) toOperation() (Operation, error) {
	switch p.Kind {
	case Set, Push, Pull:
	default:
		return Operation{}, fmt.Errorf("unknown operation kind %q", p.Kind)
	}
	op := Operation{Kind: p.Kind, Root: p.Root, Attributes: p.Attributes}
	for _, s := range p.Selector {
		if s.Key == "" {
			return Operation{}, fmt.Errorf("selector key is required")
		}
		sel := ObjectSelector{Key: s.Key}
		if s.Pattern != nil {
			sel.Pattern = query.Predicate(s.Pattern)
		}
		op.Selector = append(op.Selector, sel)
	}
	return op, nil
}
