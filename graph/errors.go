package graph

import (
	"errors"
	"fmt"
)

// Sentinel errors for graph operations.
// These errors can be used with errors.Is() for error checking.
var (
	// ErrInvalidID indicates an empty or otherwise unusable node id.
	ErrInvalidID = errors.New("invalid node id")

	// ErrInvalidLabel indicates a missing label set or a label that does not
	// match [A-Za-z0-9_-]+.
	ErrInvalidLabel = errors.New("invalid label")

	// ErrInvalidProperty indicates a property key or value that cannot be
	// represented as JSON.
	ErrInvalidProperty = errors.New("invalid property")

	// ErrInvalidRelationshipType indicates a relationship type that does not
	// match [A-Z_][A-Z0-9_]*.
	ErrInvalidRelationshipType = errors.New("invalid relationship type")

	// ErrNodeNotFound indicates that the requested node does not exist in the graph.
	// This occurs during relationship creation against a missing endpoint and
	// during context traversal from a missing seed.
	//
	// Example:
	//	_, err := store.CreateRelationship(ctx, "a", "b", "USES", nil)
	//	if errors.Is(err, graph.ErrNodeNotFound) {
	//	    slog.Warn("cannot link", "error", err)
	//	}
	ErrNodeNotFound = errors.New("node not found")

	// ErrRelationshipNotFound indicates that the requested relationship does not exist.
	ErrRelationshipNotFound = errors.New("relationship not found")

	// ErrStoreClosed indicates an operation against a store that is not
	// connected, or that raced with Close.
	ErrStoreClosed = errors.New("store is not connected")

	// ErrStoreLocked indicates that the storage directory is owned by another
	// store instance.
	ErrStoreLocked = errors.New("store directory is locked by another instance")

	// ErrStorageFailed indicates that reading, writing or parsing persisted
	// state failed. The underlying error is wrapped for context.
	ErrStorageFailed = errors.New("storage operation failed")

	// ErrInvalidFormat indicates malformed import data.
	ErrInvalidFormat = errors.New("invalid import format")
)

// Error kinds categorize graph errors.
const (
	// KindValidation is a precondition violation detected before any mutation.
	KindValidation = "validation"

	// KindNotFound is a reference to a node or relationship that does not exist.
	KindNotFound = "not_found"

	// KindStorage is a disk read, write or parse failure.
	KindStorage = "storage"

	// KindConcurrency is a lifecycle or ownership conflict: a closed store,
	// or a storage directory held by another instance.
	KindConcurrency = "concurrency"
)

// Error is a structured error that records the failed operation and the
// category of failure.
//
// Error supports errors.Is() against both the wrapped sentinel and a kind
// template:
//
//	if errors.Is(err, &graph.Error{Kind: graph.KindValidation}) {
//	    // caller bug, fix the input
//	}
type Error struct {
	// Op is the operation that failed (e.g., "Store.CreateNode").
	Op string

	// Kind categorizes the error (e.g., KindNotFound).
	Kind string

	// Err is the underlying error.
	Err error

	// Context carries identifiers useful for debugging (optional).
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("graph: %s: %s", e.Op, e.Kind)
	}
	if len(e.Context) > 0 {
		return fmt.Sprintf("graph: %s (%s): %v [context: %+v]", e.Op, e.Kind, e.Err, e.Context)
	}
	return fmt.Sprintf("graph: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches a target *Error by Kind (and Op, when the target sets one),
// otherwise delegates to the wrapped error.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if t, ok := target.(*Error); ok {
		if t.Kind != "" && e.Kind == t.Kind {
			if t.Op == "" || e.Op == t.Op {
				return true
			}
		}
	}
	return errors.Is(e.Err, target)
}

// WithContext returns a copy of the error with the provided context merged in.
func (e *Error) WithContext(ctx map[string]any) *Error {
	newErr := *e
	merged := make(map[string]any, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		merged[k] = v
	}
	for k, v := range ctx {
		merged[k] = v
	}
	newErr.Context = merged
	return &newErr
}

// NewValidationError creates an Error with KindValidation.
func NewValidationError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindValidation, Err: err}
}

// NewNotFoundError creates an Error with KindNotFound.
func NewNotFoundError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindNotFound, Err: err}
}

// NewStorageError creates an Error with KindStorage.
func NewStorageError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindStorage, Err: err}
}

// NewConcurrencyError creates an Error with KindConcurrency.
func NewConcurrencyError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindConcurrency, Err: err}
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, &Error{Kind: KindValidation})
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, &Error{Kind: KindNotFound})
}

// IsStorage reports whether err is a storage error.
func IsStorage(err error) bool {
	return errors.Is(err, &Error{Kind: KindStorage})
}

// IsConcurrency reports whether err is a concurrency error.
func IsConcurrency(err error) bool {
	return errors.Is(err, &Error{Kind: KindConcurrency})
}
