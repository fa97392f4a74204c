package livedoc

import "github.com/kailas-cloud/livedoc/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrClassNotFound          = domain.ErrClassNotFound
	ErrAttributeNotFound      = domain.ErrAttributeNotFound
	ErrDomainNotFound         = domain.ErrDomainNotFound
	ErrDomainMismatch         = domain.ErrDomainMismatch
	ErrInvalidSelectorTarget  = domain.ErrInvalidSelectorTarget
	ErrInvalidOperationTarget = domain.ErrInvalidOperationTarget
	ErrDocumentNotFound       = domain.ErrDocumentNotFound
	ErrAlreadyExists          = domain.ErrAlreadyExists
	ErrInvalidQuery           = domain.ErrInvalidQuery
	ErrQueryDisposed          = domain.ErrQueryDisposed
)
