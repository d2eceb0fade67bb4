package snapshot

import (
	"log/slog"
	"time"
)

// Option configures a Manager.
type Option func(*options)

type options struct {
	maxSnapshots int
	compress     bool
	logger       *slog.Logger
	now          func() time.Time
}

func defaultOptions() options {
	return options{
		maxSnapshots: DefaultMaxSnapshots,
		compress:     true,
		logger:       slog.Default().With("component", "snapshot"),
		now:          time.Now,
	}
}

// WithMaxSnapshots sets the retention count. Zero or negative keeps every
// snapshot.
func WithMaxSnapshots(n int) Option {
	return func(o *options) {
		o.maxSnapshots = n
	}
}

// WithCompression enables or disables zstd compression of new snapshots.
func WithCompression(enabled bool) Option {
	return func(o *options) {
		o.compress = enabled
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

// WithClock overrides the time source used for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
