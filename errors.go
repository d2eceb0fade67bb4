package cag

import (
	"errors"
	"fmt"

	"github.com/zero-day-ai/cag/graph"
)

// Sentinel errors for CAG manager operations.
// These errors can be used with errors.Is() for error checking.
var (
	// ErrInvalidTriplet indicates a knowledge triplet with an empty subject,
	// predicate or object.
	ErrInvalidTriplet = errors.New("invalid knowledge triplet")

	// ErrNoStore indicates a manager constructed without a graph store.
	ErrNoStore = errors.New("no graph store configured")
)

// newValidationError wraps a sentinel with a detail message as a
// graph.Error of kind validation, so callers can match either
// errors.Is(err, ErrInvalidTriplet) or graph.IsValidation(err).
func newValidationError(op string, sentinel error, detail string) *graph.Error {
	return graph.NewValidationError(op, fmt.Errorf("%w: %s", sentinel, detail))
}
