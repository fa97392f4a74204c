// Package memory is an in-process db.Store: records live in maps per domain and pub/sub is
// a topic registry of subscriber channels.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kailas-cloud/livedoc/internal/db"
	"github.com/kailas-cloud/livedoc/internal/domain"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

// Store keeps deep copies of records; callers never share maps with it.
type Store struct {
	mu      sync.RWMutex
	domains map[string]map[string]db.Record
	closed  bool

	topics *registry
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		domains: make(map[string]map[string]db.Record),
		topics:  newRegistry(),
	}
}

// Ping fails once the store is closed.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("ping: store closed")
	}
	return nil
}

// Close drops every subscriber.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.topics.closeAll()
}

// WaitForReady returns immediately; the store is ready on creation.
func (s *Store) WaitForReady(ctx context.Context, _ time.Duration) error {
	return s.Ping(ctx)
}

// Insert stores a copy of rec.
func (s *Store) Insert(_ context.Context, dom, id string, rec db.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.domains[dom]
	if coll == nil {
		coll = make(map[string]db.Record)
		s.domains[dom] = coll
	}
	if _, ok := coll[id]; ok {
		return &db.Error{Op: db.OpJSONSet, Err: db.ErrKeyExists}
	}
	coll[id] = domain.CloneMap(rec)
	return nil
}

// Get returns a copy of one record.
func (s *Store) Get(_ context.Context, dom, id string) (db.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.domains[dom][id]
	if !ok {
		return nil, &db.Error{Op: db.OpJSONGet, Err: db.ErrKeyNotFound}
	}
	return domain.CloneMap(rec), nil
}

// Find scans the domain in id order.
func (s *Store) Find(_ context.Context, dom string, filter db.Filter, opts db.FindOptions) (*db.FindResult, error) {
	s.mu.RLock()
	coll := s.domains[dom]
	ids := make([]string, 0, len(coll))
	for id := range coll {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	recs := make([]db.Record, 0, len(ids))
	for _, id := range ids {
		recs = append(recs, domain.CloneMap(coll[id]))
	}
	s.mu.RUnlock()

	return db.Select(recs, filter, opts), nil
}

// Update applies u to a copy and swaps it in, so a failing update leaves the record untouched.
func (s *Store) Update(_ context.Context, dom, id string, u *db.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.domains[dom][id]
	if !ok {
		return &db.Error{Op: db.OpExec, Err: db.ErrKeyNotFound}
	}
	next := domain.CloneMap(rec)
	if err := db.ApplyUpdate(next, u); err != nil {
		return &db.Error{Op: db.OpExec, Err: err}
	}
	s.domains[dom][id] = next
	return nil
}

// Delete removes one record.
func (s *Store) Delete(_ context.Context, dom, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.domains[dom][id]; !ok {
		return &db.Error{Op: db.OpDel, Err: db.ErrKeyNotFound}
	}
	delete(s.domains[dom], id)
	return nil
}
