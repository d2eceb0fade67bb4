package cag

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("cag")

var (
	cacheHits     metric.Int64Counter
	cacheMisses   metric.Int64Counter
	queryLatency  metric.Float64Histogram
	contextLength metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		cacheHits, err = meter.Int64Counter(
			"cag_cache_hits_total",
			metric.WithDescription("Context queries answered from the cache"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheMisses, err = meter.Int64Counter(
			"cag_cache_misses_total",
			metric.WithDescription("Context queries computed from the graph"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		queryLatency, err = meter.Float64Histogram(
			"cag_query_duration_seconds",
			metric.WithDescription("Duration of context computation on a cache miss"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		contextLength, err = meter.Int64Histogram(
			"cag_context_nodes",
			metric.WithDescription("Number of nodes rendered into a context"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordCacheLookup counts a cache hit or miss.
func recordCacheLookup(ctx context.Context, hit bool) {
	if err := initMetrics(); err != nil {
		return
	}
	if hit {
		cacheHits.Add(ctx, 1)
		return
	}
	cacheMisses.Add(ctx, 1)
}

// recordQuery records a computed context.
func recordQuery(ctx context.Context, duration time.Duration, nodes, seeds int) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("seeded", seeds > 0))
	queryLatency.Record(ctx, duration.Seconds(), attrs)
	contextLength.Record(ctx, int64(nodes), attrs)
}
