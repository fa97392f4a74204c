package document

import (
	"fmt"

	"github.com/kailas-cloud/livedoc/internal/db"
	"github.com/kailas-cloud/livedoc/internal/domain"
)

// buildRecord converts a domain document into its stored form.
func buildRecord(doc *domain.Doc) db.Record {
	return doc.ToMap()
}

// parseRecord converts a stored record back into a domain document.
func parseRecord(rec db.Record) (domain.Doc, error) {
	doc, err := domain.FromMap(rec)
	if err != nil {
		return domain.Doc{}, fmt.Errorf("parse record: %w", err)
	}
	return doc, nil
}

func parseRecords(recs []db.Record) ([]domain.Doc, error) {
	docs := make([]domain.Doc, 0, len(recs))
	for _, rec := range recs {
		doc, err := parseRecord(rec)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
