package persist

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("cag.persist")

var (
	flushLatency metric.Float64Histogram
	flushTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		flushLatency, err = meter.Float64Histogram(
			"cag_flush_duration_seconds",
			metric.WithDescription("Duration of full-state flushes"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		flushTotal, err = meter.Int64Counter(
			"cag_flush_total",
			metric.WithDescription("Total number of full-state flushes"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordFlush records a flush and its trigger.
func recordFlush(ctx context.Context, trigger string, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.Bool("success", success),
	)
	flushLatency.Record(ctx, duration.Seconds(), attrs)
	flushTotal.Add(ctx, 1, attrs)
}
