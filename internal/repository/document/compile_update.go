package document

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kailas-cloud/livedoc/internal/db"
	"github.com/kailas-cloud/livedoc/internal/domain"
	"github.com/kailas-cloud/livedoc/internal/domain/model"
	"github.com/kailas-cloud/livedoc/internal/domain/tx"
)

// CompileUpdate compiles the operations of one update transaction into a single statement.
// Array filter names continue from counter; the next free counter is returned.
func CompileUpdate(m *model.Model, class domain.ClassRef, ops []tx.Operation, counter int) (*db.Update, int, error) {
	out := &db.Update{}
	for i, op := range ops {
		u, next, err := CompileOperation(m, class, op, counter)
		if err != nil {
			return nil, counter, fmt.Errorf("operation %d (%s): %w", i, op.Path(), err)
		}
		out.Merge(u)
		counter = next
	}
	return out, counter, nil
}

// CompileOperation compiles one operation of a transaction on class. Every patterned array
// segment on the way to the target allocates array filter f<counter+1>; unpatterned array
// segments address all elements. Push and Pull address the container of the last segment.
func CompileOperation(m *model.Model, class domain.ClassRef, op tx.Operation, start int) (*db.Update, int, error) {
	t, err := m.ResolveOperation(class, op)
	if err != nil {
		return nil, start, err
	}
	u := &db.Update{}
	if t.Mixin {
		u.Steps = append(u.Steps, db.Step{Kind: db.StepAddToSet, Path: domain.KeyMixins, Value: string(t.Root)})
	}

	prefix := t.Segments
	if op.Kind != tx.Set {
		prefix = prefix[:len(prefix)-1]
	}
	base, filters, counter, err := positional(prefix, start)
	if err != nil {
		return nil, start, err
	}
	u.ArrayFilters = filters

	switch op.Kind {
	case tx.Set:
		keys := make([]string, 0, len(op.Attributes))
		for key := range op.Attributes {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			attr, err := t.Node.Attribute(key)
			if err != nil {
				return nil, start, err
			}
			v, err := m.Normalize(key, attr.Type, op.Attributes[key])
			if err != nil {
				return nil, start, err
			}
			u.Steps = append(u.Steps, db.Step{Kind: db.StepSet, Path: join(base, key), Value: v})
		}
	case tx.Push:
		last, _ := t.Last()
		obj := op.Attributes
		if obj == nil {
			obj = map[string]any{}
		}
		elem, err := m.Normalize(last.Key, last.Attr.Type.Elem(), obj)
		if err != nil {
			return nil, start, err
		}
		u.Steps = append(u.Steps, db.Step{Kind: db.StepPush, Path: join(base, last.Key), Value: elem})
	case tx.Pull:
		last, _ := t.Last()
		if last.Pattern == nil {
			u.Steps = append(u.Steps, db.Step{Kind: db.StepUnset, Path: join(base, last.Key)})
			break
		}
		f, err := compilePattern(last.Child, last.Pattern)
		if err != nil {
			return nil, start, err
		}
		u.Steps = append(u.Steps, db.Step{Kind: db.StepPull, Path: join(base, last.Key), Filter: f})
	}
	return u, counter, nil
}

// positional renders the path of segs with array placeholders and the filters they bind.
func positional(segs []model.Segment, counter int) (string, []db.ArrayFilter, int, error) {
	parts := make([]string, 0, 2*len(segs))
	var filters []db.ArrayFilter
	for _, seg := range segs {
		parts = append(parts, seg.Key)
		if !seg.Attr.Type.IsArray() {
			continue
		}
		if seg.Pattern == nil {
			parts = append(parts, db.AllElements)
			continue
		}
		f, err := compilePattern(seg.Child, seg.Pattern)
		if err != nil {
			return "", nil, counter, err
		}
		counter++
		name := fmt.Sprintf("f%d", counter)
		filters = append(filters, db.ArrayFilter{Name: name, Filter: f})
		parts = append(parts, db.Placeholder(name))
	}
	return strings.Join(parts, "."), filters, counter, nil
}

func join(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}
