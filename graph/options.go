package graph

import (
	"log/slog"
	"time"

	"github.com/zero-day-ai/cag/graph/id"
)

// Option configures a Store.
type Option func(*options)

type options struct {
	logger              *slog.Logger
	relationshipID      func(from, to, relType string) string
	upsertRelationships bool
	scoredSearch        bool
	distanceScoring     bool
	now                 func() time.Time
}

func defaultOptions() options {
	return options{
		logger:         slog.Default().With("component", "graph"),
		relationshipID: id.TimeSuffixed,
		now:            time.Now,
	}
}

// WithLogger sets the structured logger for store operations.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRelationshipIDs sets the relationship id scheme. The in-memory default
// is id.TimeSuffixed; the persistent variant uses id.Relationship.
func WithRelationshipIDs(fn func(from, to, relType string) string) Option {
	return func(o *options) {
		if fn != nil {
			o.relationshipID = fn
		}
	}
}

// WithUpsertRelationships makes a repeated (from, to, type) relationship an
// update of the existing record instead of a new record.
func WithUpsertRelationships(enabled bool) Option {
	return func(o *options) {
		o.upsertRelationships = enabled
	}
}

// WithScoredSearch switches Search from unscored substring matching to
// term-weighted relevance ranking.
func WithScoredSearch(enabled bool) Option {
	return func(o *options) {
		o.scoredSearch = enabled
	}
}

// WithDistanceScoring attaches a DistanceScore to every ContextNode.
func WithDistanceScoring(enabled bool) Option {
	return func(o *options) {
		o.distanceScoring = enabled
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
