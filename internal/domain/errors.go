package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrClassNotFound signals a class that is not registered in the model.
	ErrClassNotFound = errors.New("class not found")
	// ErrAttributeNotFound signals an attribute missing from the whole extends chain.
	ErrAttributeNotFound = errors.New("attribute not found")
	// ErrDomainNotFound signals a class chain without a storage domain.
	ErrDomainNotFound = errors.New("domain not found")
	// ErrDomainMismatch signals a selector rooted in a different domain than its transaction.
	ErrDomainMismatch = errors.New("domain mismatch")
	// ErrInvalidSelectorTarget signals a selector segment that cannot address the requested node.
	ErrInvalidSelectorTarget = errors.New("invalid selector target")
	// ErrInvalidOperationTarget signals an operation applied to a node of the wrong kind.
	ErrInvalidOperationTarget = errors.New("invalid operation target")
	// ErrDocumentNotFound signals an update or delete against an unknown id.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrAlreadyExists signals a create with a duplicate id.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidQuery signals a malformed predicate.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrQueryDisposed signals a subscription to a disposed live query.
	ErrQueryDisposed = errors.New("query disposed")
)

// AttributeError wraps ErrAttributeNotFound with the class and path that failed to resolve.
type AttributeError struct {
	Class ClassRef
	Path  string
}

func (e *AttributeError) Error() string {
	return fmt.Sprintf("%s: %q on %s", ErrAttributeNotFound.Error(), e.Path, e.Class)
}

func (e *AttributeError) Unwrap() error { return ErrAttributeNotFound }

// NewAttributeNotFound creates an attribute resolution error.
func NewAttributeNotFound(class ClassRef, path string) error {
	return &AttributeError{Class: class, Path: path}
}
