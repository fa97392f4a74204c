package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/kailas-cloud/livedoc/internal/db"
	"github.com/kailas-cloud/livedoc/internal/domain"
	"github.com/kailas-cloud/livedoc/internal/domain/model"
	"github.com/kailas-cloud/livedoc/internal/domain/query"
	"github.com/kailas-cloud/livedoc/internal/domain/tx"
)

// store is the consumer interface for documents (ISP).
type store interface {
	Insert(ctx context.Context, domain, id string, rec db.Record) error
	Get(ctx context.Context, domain, id string) (db.Record, error)
	Find(ctx context.Context, domain string, filter db.Filter, opts db.FindOptions) (*db.FindResult, error)
	Update(ctx context.Context, domain, id string, u *db.Update) error
	Delete(ctx context.Context, domain, id string) error
}

// Repo executes compiled queries and updates against a store. Every class persists into
// the domain the model assigns it.
type Repo struct {
	store store
	model *model.Model
}

// New creates a document repository.
func New(s store, m *model.Model) *Repo {
	return &Repo{store: s, model: m}
}

// Find returns one window of documents matching (class, predicate) and the total match count.
func (r *Repo) Find(ctx context.Context, class domain.ClassRef, p query.Predicate, opts query.Options) (
	[]domain.Doc, int, error,
) {
	dom, err := r.model.GetDomain(class)
	if err != nil {
		return nil, 0, err
	}
	filter, err := CompileQuery(r.model, class, p)
	if err != nil {
		return nil, 0, fmt.Errorf("compile query on %s: %w", class, err)
	}
	res, err := r.store.Find(ctx, string(dom), filter, db.FindOptions{
		Sort:  opts.Sort,
		Limit: opts.Limit,
		Skip:  opts.Skip,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("find %s: %w", class, err)
	}
	docs, err := parseRecords(res.Records)
	if err != nil {
		return nil, 0, err
	}
	return docs, res.Total, nil
}

// Get returns a document by id.
func (r *Repo) Get(ctx context.Context, class domain.ClassRef, id domain.DocID) (domain.Doc, error) {
	dom, err := r.model.GetDomain(class)
	if err != nil {
		return domain.Doc{}, err
	}
	rec, err := r.store.Get(ctx, string(dom), string(id))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domain.Doc{}, domain.ErrDocumentNotFound
		}
		return domain.Doc{}, fmt.Errorf("get %s/%s: %w", dom, id, err)
	}
	return parseRecord(rec)
}

// Create stores a new document.
func (r *Repo) Create(ctx context.Context, doc *domain.Doc) error {
	dom, err := r.model.GetDomain(doc.Class)
	if err != nil {
		return err
	}
	if err := r.store.Insert(ctx, string(dom), string(doc.ID), buildRecord(doc)); err != nil {
		if errors.Is(err, db.ErrKeyExists) {
			return fmt.Errorf("%s/%s: %w", dom, doc.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert %s/%s: %w", dom, doc.ID, err)
	}
	return nil
}

// Update compiles ops into one statement and applies it atomically.
func (r *Repo) Update(ctx context.Context, class domain.ClassRef, id domain.DocID, ops []tx.Operation) error {
	dom, err := r.model.GetDomain(class)
	if err != nil {
		return err
	}
	u, _, err := CompileUpdate(r.model, class, ops, 0)
	if err != nil {
		return err
	}
	if err := r.store.Update(ctx, string(dom), string(id), u); err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domain.ErrDocumentNotFound
		}
		return fmt.Errorf("update %s/%s: %w", dom, id, err)
	}
	return nil
}

// Delete removes a document.
func (r *Repo) Delete(ctx context.Context, class domain.ClassRef, id domain.DocID) error {
	dom, err := r.model.GetDomain(class)
	if err != nil {
		return err
	}
	if err := r.store.Delete(ctx, string(dom), string(id)); err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domain.ErrDocumentNotFound
		}
		return fmt.Errorf("del %s/%s: %w", dom, id, err)
	}
	return nil
}
