package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Jeffail/gabs"
	"github.com/redis/rueidis"

	"github.com/kailas-cloud/livedoc/internal/db"
	"github.com/kailas-cloud/livedoc/internal/domain/query"
)

// Insert stores rec with JSON.SET NX; a nil reply means the key was taken.
func (s *Store) Insert(ctx context.Context, dom, id string, rec db.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return &db.Error{Op: db.OpJSONSet, Err: fmt.Errorf("encode record: %w", err)}
	}
	cmd := s.b().Arbitrary("JSON.SET").Keys(s.key(dom, id)).Args("$", string(data), "NX").Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return &db.Error{Op: db.OpJSONSet, Err: db.ErrKeyExists}
		}
		return wrapErr(db.OpJSONSet, err)
	}
	return nil
}

// Get returns one record.
func (s *Store) Get(ctx context.Context, dom, id string) (db.Record, error) {
	raw, err := s.getRaw(ctx, s.key(dom, id), "$")
	if err != nil {
		return nil, err
	}
	rec, ok, err := firstObject(raw)
	if err != nil {
		return nil, &db.Error{Op: db.OpJSONGet, Err: err}
	}
	if !ok {
		return nil, &db.Error{Op: db.OpJSONGet, Err: db.ErrKeyNotFound}
	}
	return rec, nil
}

func (s *Store) getRaw(ctx context.Context, key, path string) (string, error) {
	cmd := s.b().Arbitrary("JSON.GET").Keys(key).Args(path).Build()
	raw, err := s.do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return "", &db.Error{Op: db.OpJSONGet, Err: db.ErrKeyNotFound}
		}
		return "", wrapErr(db.OpJSONGet, err)
	}
	return raw, nil
}

// Find scans every key of the domain, loads them in one round-trip and filters in process.
// A search index cannot express element matches or pattern lists, so filtering stays here.
func (s *Store) Find(ctx context.Context, dom string, filter db.Filter, opts db.FindOptions) (*db.FindResult, error) {
	keys, err := s.scan(ctx, s.pattern(dom))
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return &db.FindResult{Records: []db.Record{}}, nil
	}

	cmds := make(rueidis.Commands, len(keys))
	for i, key := range keys {
		cmds[i] = s.b().Arbitrary("JSON.GET").Keys(key).Args("$").Build()
	}

	recs := make([]db.Record, 0, len(keys))
	for i, res := range s.client.DoMulti(ctx, cmds...) {
		raw, err := res.ToString()
		if err != nil {
			// deleted between SCAN and GET
			if rueidis.IsRedisNil(err) {
				continue
			}
			return nil, &db.Error{Op: db.OpJSONGet, Err: fmt.Errorf("key %s: %w", keys[i], err)}
		}
		rec, ok, err := firstObject(raw)
		if err != nil {
			return nil, &db.Error{Op: db.OpJSONGet, Err: fmt.Errorf("key %s: %w", keys[i], err)}
		}
		if ok {
			recs = append(recs, rec)
		}
	}
	return db.Select(recs, filter, opts), nil
}

func (s *Store) scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		cmd := s.b().Scan().Cursor(cursor).Match(pattern).Count(100).Build()
		res, err := s.do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, &db.Error{Op: db.OpScan, Err: err}
		}
		keys = append(keys, res.Elements...)
		cursor = res.Cursor
		if cursor == 0 {
			break
		}
	}

	return keys, nil
}

// Update runs the translated steps inside MULTI/EXEC. Updates whose array filters JSONPath
// cannot express fall back to read-modify-write through db.ApplyUpdate.
func (s *Store) Update(ctx context.Context, dom, id string, u *db.Update) error {
	key := s.key(dom, id)
	exists, err := s.exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return &db.Error{Op: db.OpExec, Err: db.ErrKeyNotFound}
	}
	if u.IsEmpty() {
		return nil
	}

	cmds, err := s.updateCommands(ctx, key, u)
	if errors.Is(err, errUntranslatable) {
		return s.rewrite(ctx, key, u)
	}
	if err != nil {
		return &db.Error{Op: db.OpExec, Err: err}
	}
	if len(cmds) == 0 {
		return nil
	}

	tx := make(rueidis.Commands, 0, len(cmds)+2)
	tx = append(tx, s.b().Multi().Build())
	tx = append(tx, cmds...)
	tx = append(tx, s.b().Exec().Build())

	results := s.client.DoMulti(ctx, tx...)
	for _, res := range results[:len(results)-1] {
		if err := res.Error(); err != nil {
			return wrapErr(db.OpExec, err)
		}
	}
	replies, err := results[len(results)-1].ToArray()
	if err != nil {
		return wrapErr(db.OpExec, err)
	}
	for _, m := range replies {
		// JSON.SET NX on an existing array and writes under missing parents reply nil
		if err := m.Error(); err != nil && !rueidis.IsRedisNil(err) {
			return wrapErr(db.OpExec, err)
		}
	}
	return nil
}

func (s *Store) updateCommands(ctx context.Context, key string, u *db.Update) (rueidis.Commands, error) {
	filters := u.Filters()
	var cmds rueidis.Commands
	for _, step := range u.Steps {
		path, err := jsonPath(step.Path, filters)
		if err != nil {
			return nil, err
		}
		switch step.Kind {
		case db.StepSet:
			data, err := json.Marshal(step.Value)
			if err != nil {
				return nil, fmt.Errorf("encode %s: %w", step.Path, err)
			}
			cmds = append(cmds, s.b().Arbitrary("JSON.SET").Keys(key).Args(path, string(data)).Build())
		case db.StepUnset:
			cmds = append(cmds, s.b().Arbitrary("JSON.DEL").Keys(key).Args(path).Build())
		case db.StepPull:
			expr, err := filterExpr(step.Filter)
			if err != nil {
				return nil, err
			}
			cmds = append(cmds, s.b().Arbitrary("JSON.DEL").Keys(key).Args(path+"[?("+expr+")]").Build())
		case db.StepAddToSet:
			if strings.Contains(step.Path, "$[") {
				return nil, errUntranslatable
			}
			present, err := s.contains(ctx, key, path, step.Value)
			if err != nil {
				return nil, err
			}
			if present {
				continue
			}
			fallthrough
		case db.StepPush:
			data, err := json.Marshal(step.Value)
			if err != nil {
				return nil, fmt.Errorf("encode %s: %w", step.Path, err)
			}
			cmds = append(cmds,
				s.b().Arbitrary("JSON.SET").Keys(key).Args(path, "[]", "NX").Build(),
				s.b().Arbitrary("JSON.ARRAPPEND").Keys(key).Args(path, string(data)).Build(),
			)
		default:
			return nil, fmt.Errorf("unsupported update step %q", step.Kind)
		}
	}
	return cmds, nil
}

// contains reports whether the array at path already holds v.
func (s *Store) contains(ctx context.Context, key, path string, v any) (bool, error) {
	raw, err := s.getRaw(ctx, key, path)
	if err != nil {
		return false, err
	}
	parsed, err := gabs.ParseJSON([]byte(raw))
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	matches, err := parsed.Children()
	if err != nil || len(matches) == 0 {
		return false, nil //nolint:nilerr // missing array
	}
	elems, err := matches[0].Children()
	if err != nil {
		return false, nil //nolint:nilerr // not an array
	}
	for _, e := range elems {
		if query.Equal(e.Data(), v) {
			return true, nil
		}
	}
	return false, nil
}

// rewrite loads the record, applies u in process and writes it back with XX.
func (s *Store) rewrite(ctx context.Context, key string, u *db.Update) error {
	raw, err := s.getRaw(ctx, key, "$")
	if err != nil {
		return err
	}
	rec, ok, err := firstObject(raw)
	if err != nil {
		return &db.Error{Op: db.OpJSONGet, Err: err}
	}
	if !ok {
		return &db.Error{Op: db.OpExec, Err: db.ErrKeyNotFound}
	}
	if err := db.ApplyUpdate(rec, u); err != nil {
		return &db.Error{Op: db.OpExec, Err: err}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return &db.Error{Op: db.OpJSONSet, Err: fmt.Errorf("encode record: %w", err)}
	}
	cmd := s.b().Arbitrary("JSON.SET").Keys(key).Args("$", string(data), "XX").Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return &db.Error{Op: db.OpJSONSet, Err: db.ErrKeyNotFound}
		}
		return wrapErr(db.OpJSONSet, err)
	}
	return nil
}

func (s *Store) exists(ctx context.Context, key string) (bool, error) {
	cmd := s.b().Exists().Key(key).Build()
	count, err := s.do(ctx, cmd).AsInt64()
	if err != nil {
		return false, &db.Error{Op: db.OpExists, Err: err}
	}
	return count > 0, nil
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, dom, id string) error {
	cmd := s.b().Del().Key(s.key(dom, id)).Build()
	count, err := s.do(ctx, cmd).AsInt64()
	if err != nil {
		return &db.Error{Op: db.OpDel, Err: err}
	}
	if count == 0 {
		return &db.Error{Op: db.OpDel, Err: db.ErrKeyNotFound}
	}
	return nil
}

// firstObject unwraps a JSONPath "$" reply, which is an array holding the root value.
func firstObject(raw string) (db.Record, bool, error) {
	if raw == "" {
		return nil, false, nil
	}
	parsed, err := gabs.ParseJSON([]byte(raw))
	if err != nil {
		return nil, false, fmt.Errorf("parse record: %w", err)
	}
	matches, err := parsed.Children()
	if err != nil {
		return nil, false, fmt.Errorf("parse record: %w", err)
	}
	if len(matches) == 0 {
		return nil, false, nil
	}
	rec, ok := matches[0].Data().(map[string]any)
	if !ok {
		return nil, false, fmt.Errorf("record is %T, want object", matches[0].Data())
	}
	return rec, true, nil
}
