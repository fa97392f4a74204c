package livequery

import (
	"context"

	"github.com/kailas-cloud/livedoc/internal/domain"
	"github.com/kailas-cloud/livedoc/internal/domain/query"
	"github.com/kailas-cloud/livedoc/internal/domain/tx"
	"github.com/kailas-cloud/livedoc/internal/usecase/storage"
)

// Storage fetches result windows and commits transactions.
type Storage interface {
	Find(ctx context.Context, class domain.ClassRef, p query.Predicate, opts query.Options) (storage.FindResult, error)
	// Prepare validates a transaction and fills in generated ids.
	Prepare(t tx.Tx) (tx.Tx, error)
	// Commit writes a prepared transaction.
	Commit(ctx context.Context, t tx.Tx) error
}
