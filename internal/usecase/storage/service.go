package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/livedoc/internal/domain"
	"github.com/kailas-cloud/livedoc/internal/domain/model"
	"github.com/kailas-cloud/livedoc/internal/domain/query"
	"github.com/kailas-cloud/livedoc/internal/domain/tx"
	"github.com/kailas-cloud/livedoc/internal/metrics"
)

// FindResult is one window of matching documents plus the total match count.
type FindResult struct {
	Docs  []domain.Doc
	Total int
}

// Service validates transactions against the model and commits them to the repository.
type Service struct {
	repo   Repository
	model  *model.Model
	feed   Publisher
	logger *zap.Logger
}

// New creates a storage service.
func New(repo Repository, m *model.Model, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, model: m, logger: logger}
}

// WithFeed publishes every committed transaction to p.
func (s *Service) WithFeed(p Publisher) *Service {
	s.feed = p
	return s
}

// Model returns the model transactions are validated against.
func (s *Service) Model() *model.Model { return s.model }

// Find returns the documents of class matching p.
func (s *Service) Find(ctx context.Context, class domain.ClassRef, p query.Predicate, opts query.Options) (
	FindResult, error,
) {
	if opts.Limit < 0 || opts.Skip < 0 {
		return FindResult{}, fmt.Errorf("negative limit or skip: %w", domain.ErrInvalidQuery)
	}
	docs, total, err := s.repo.Find(ctx, class, p, opts)
	if err != nil {
		metrics.FindTotal.WithLabelValues("error").Inc()
		return FindResult{}, fmt.Errorf("find: %w", err)
	}
	metrics.FindTotal.WithLabelValues("ok").Inc()
	return FindResult{Docs: docs, Total: total}, nil
}

// FindOne returns the first document of class matching p in sort order.
// ErrDocumentNotFound when nothing matches.
func (s *Service) FindOne(ctx context.Context, class domain.ClassRef, p query.Predicate, sort []query.SortField) (
	domain.Doc, error,
) {
	res, err := s.Find(ctx, class, p, query.Options{Sort: sort, Limit: 1})
	if err != nil {
		return domain.Doc{}, err
	}
	if len(res.Docs) == 0 {
		return domain.Doc{}, domain.ErrDocumentNotFound
	}
	return res.Docs[0], nil
}

// Get returns a document by id.
func (s *Service) Get(ctx context.Context, class domain.ClassRef, id domain.DocID) (domain.Doc, error) {
	doc, err := s.repo.Get(ctx, class, id)
	if err != nil {
		return domain.Doc{}, fmt.Errorf("get %s/%s: %w", class, id, err)
	}
	return doc, nil
}

// Tx validates and commits one transaction.
func (s *Service) Tx(ctx context.Context, t tx.Tx) error {
	prepared, err := s.Prepare(t)
	if err != nil {
		return err
	}
	return s.Commit(ctx, prepared)
}

// Prepare validates t against the model without touching storage and assigns an id to
// creates that carry none. The returned transaction is the one to commit.
func (s *Service) Prepare(t tx.Tx) (tx.Tx, error) {
	if t == nil {
		return nil, fmt.Errorf("nil transaction: %w", domain.ErrInvalidQuery)
	}
	if _, err := s.model.GetDomain(t.ObjectClass()); err != nil {
		return nil, fmt.Errorf("%s tx: %w", t.Kind(), err)
	}
	switch v := t.(type) {
	case tx.CreateTx:
		if v.ID == "" {
			v.ID = domain.NewID()
		}
		if _, err := s.model.CreateDocument(v.Class, v.ID, v.Object); err != nil {
			return nil, fmt.Errorf("create %s: %w", v.Class, err)
		}
		return v, nil
	case tx.UpdateTx:
		if v.ID == "" {
			return nil, fmt.Errorf("update %s without id: %w", v.Class, domain.ErrDocumentNotFound)
		}
		for i, op := range v.Operations {
			if _, err := s.model.ResolveOperation(v.Class, op); err != nil {
				return nil, fmt.Errorf("update %s/%s: operation %d: %w", v.Class, v.ID, i, err)
			}
		}
		return v, nil
	case tx.DeleteTx:
		if v.ID == "" {
			return nil, fmt.Errorf("delete %s without id: %w", v.Class, domain.ErrDocumentNotFound)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported transaction %T: %w", t, domain.ErrInvalidQuery)
	}
}

// Commit writes a prepared transaction and publishes it to the feed. A failed publication
// is logged; the write already happened.
func (s *Service) Commit(ctx context.Context, t tx.Tx) error {
	start := time.Now()
	err := s.commit(ctx, t)
	kind := string(t.Kind())
	metrics.TxDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TxTotal.WithLabelValues(kind, "error").Inc()
		return err
	}
	metrics.TxTotal.WithLabelValues(kind, "ok").Inc()

	if s.feed != nil {
		if perr := s.feed.Publish(ctx, t); perr != nil {
			s.logger.Warn("tx committed but not published",
				zap.String("kind", kind),
				zap.String("class", string(t.ObjectClass())),
				zap.String("id", string(t.ObjectID())),
				zap.Error(perr),
			)
		}
	}
	return nil
}

func (s *Service) commit(ctx context.Context, t tx.Tx) error {
	switch v := t.(type) {
	case tx.CreateTx:
		doc, err := s.model.CreateDocument(v.Class, v.ID, v.Object)
		if err != nil {
			return fmt.Errorf("create %s: %w", v.Class, err)
		}
		if err := s.repo.Create(ctx, &doc); err != nil {
			return fmt.Errorf("create %s: %w", v.Class, err)
		}
	case tx.UpdateTx:
		if err := s.repo.Update(ctx, v.Class, v.ID, v.Operations); err != nil {
			return fmt.Errorf("update %s/%s: %w", v.Class, v.ID, err)
		}
	case tx.DeleteTx:
		if err := s.repo.Delete(ctx, v.Class, v.ID); err != nil {
			return fmt.Errorf("delete %s/%s: %w", v.Class, v.ID, err)
		}
	default:
		return fmt.Errorf("unsupported transaction %T: %w", t, domain.ErrInvalidQuery)
	}
	return nil
}
