package db

import (
	"context"
	"time"

	"github.com/kailas-cloud/livedoc/internal/domain/query"
)

// Store is the main database facade combining all sub-interfaces.
//
//nolint:interfacebloat // facade by design -- consumers use narrow sub-interfaces (ISP)
type Store interface {
	Pinger
	DocumentStore
	PubSub
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Record is a document in its stored form: a JSON-like object carrying _id and _class.
type Record = map[string]any

// FindOptions bound and order a Find.
type FindOptions struct {
	Sort  []query.SortField
	Limit int
	Skip  int
}

// FindResult is one window of matching records plus the total match count.
type FindResult struct {
	Records []Record
	Total   int
}

// DocumentStore persists records per domain (collection).
type DocumentStore interface {
	// Insert stores a new record; ErrKeyExists when the id is taken.
	Insert(ctx context.Context, domain, id string, rec Record) error
	// Get returns one record; ErrKeyNotFound when absent.
	Get(ctx context.Context, domain, id string) (Record, error)
	Find(ctx context.Context, domain string, filter Filter, opts FindOptions) (*FindResult, error)
	// Update applies u atomically; ErrKeyNotFound when absent.
	Update(ctx context.Context, domain, id string, u *Update) error
	// Delete removes a record; ErrKeyNotFound when absent.
	Delete(ctx context.Context, domain, id string) error
}

// PubSub broadcasts payloads to every subscriber of a channel.
type PubSub interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe calls fn for every message until ctx is done.
	Subscribe(ctx context.Context, channel string, fn func(payload []byte)) error
}
