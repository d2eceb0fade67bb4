package persist

import (
	"log/slog"
	"time"

	"github.com/zero-day-ai/cag/graph"
	"github.com/zero-day-ai/cag/graph/id"
)

// Defaults for the auto-save scheduler.
const (
	DefaultAutoSaveInterval = 300 * time.Second
	DefaultSaveThreshold    = 100
)

// Option configures a persistent Store.
type Option func(*options)

type options struct {
	logger           *slog.Logger
	backend          BackendFactory
	autoSaveInterval time.Duration
	saveThreshold    int
	graphOpts        []graph.Option
	now              func() time.Time
}

func defaultOptions() options {
	return options{
		logger:           slog.Default().With("component", "persist"),
		backend:          OpenFileBackend,
		autoSaveInterval: DefaultAutoSaveInterval,
		saveThreshold:    DefaultSaveThreshold,
		now:              time.Now,
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBackend selects the artifact backend. The default is OpenFileBackend.
func WithBackend(factory BackendFactory) Option {
	return func(o *options) {
		if factory != nil {
			o.backend = factory
		}
	}
}

// WithAutoSaveInterval sets the period of the background flush and the
// elapsed-time flush trigger. Zero or negative disables both.
func WithAutoSaveInterval(d time.Duration) Option {
	return func(o *options) {
		o.autoSaveInterval = d
	}
}

// WithSaveThreshold sets how many mutations trigger an immediate flush.
// Zero or negative disables the threshold trigger.
func WithSaveThreshold(n int) Option {
	return func(o *options) {
		o.saveThreshold = n
	}
}

// WithGraphOptions appends options for the embedded graph store. They are
// applied after the persistent defaults.
func WithGraphOptions(opts ...graph.Option) Option {
	return func(o *options) {
		o.graphOpts = append(o.graphOpts, opts...)
	}
}

// WithClock overrides the time source for save bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// graphOptions returns the options of the persistent graph variant.
func (o options) graphOptions() []graph.Option {
	base := []graph.Option{
		graph.WithLogger(o.logger.With("component", "graph")),
		graph.WithRelationshipIDs(id.Relationship),
		graph.WithUpsertRelationships(true),
		graph.WithScoredSearch(true),
		graph.WithDistanceScoring(true),
		graph.WithClock(o.now),
	}
	return append(base, o.graphOpts...)
}
