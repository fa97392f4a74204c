package storage

import (
	"context"

	"github.com/kailas-cloud/livedoc/internal/domain"
	"github.com/kailas-cloud/livedoc/internal/domain/query"
	"github.com/kailas-cloud/livedoc/internal/domain/tx"
)

// Repository defines the storage contract for documents.
type Repository interface {
	Find(ctx context.Context, class domain.ClassRef, p query.Predicate, opts query.Options) ([]domain.Doc, int, error)
	Get(ctx context.Context, class domain.ClassRef, id domain.DocID) (domain.Doc, error)
	Create(ctx context.Context, doc *domain.Doc) error
	Update(ctx context.Context, class domain.ClassRef, id domain.DocID, ops []tx.Operation) error
	Delete(ctx context.Context, class domain.ClassRef, id domain.DocID) error
}

// Publisher announces committed transactions to other processes.
type Publisher interface {
	Publish(ctx context.Context, t tx.Tx) error
}
