// Package metrics exposes knowledge-graph store statistics to Prometheus and
// bridges the OpenTelemetry instruments of the other packages onto the same
// registry.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zero-day-ai/cag/graph"
)

const namespace = "cag"

// StatsSource reports store counts. *graph.Store and *persist.Store satisfy it.
type StatsSource interface {
	Stats(ctx context.Context) graph.Stats
}

// PersistenceSource reports save bookkeeping. *persist.Store satisfies it.
type PersistenceSource interface {
	PendingOperations() int64
	OperationCount() int64
	LastSave() time.Time
}

// StoreCollector is a prometheus.Collector reading store statistics at
// scrape time.
type StoreCollector struct {
	source StatsSource
	now    func() time.Time

	nodes         *prometheus.Desc
	relationships *prometheus.Desc
	labels        *prometheus.Desc
	relTypes      *prometheus.Desc
	connected     *prometheus.Desc
	pending       *prometheus.Desc
	operations    *prometheus.Desc
	lastSaveAge   *prometheus.Desc
}

var _ prometheus.Collector = (*StoreCollector)(nil)

// NewStoreCollector creates a collector for the store. Persistence metrics
// are reported only when the store also implements PersistenceSource.
func NewStoreCollector(source StatsSource) *StoreCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "store", name), help, nil, nil)
	}
	return &StoreCollector{
		source:        source,
		now:           time.Now,
		nodes:         desc("nodes", "Number of nodes in the graph"),
		relationships: desc("relationships", "Number of relationships in the graph"),
		labels:        desc("labels", "Number of distinct node labels"),
		relTypes:      desc("relationship_types", "Number of distinct relationship types"),
		connected:     desc("connected", "Whether the store is connected (1) or not (0)"),
		pending:       desc("pending_operations", "Mutations not yet flushed to disk"),
		operations:    desc("operations_total", "Mutations applied since the store directory was created"),
		lastSaveAge:   desc("last_save_age_seconds", "Seconds since the last successful flush"),
	}
}

// Describe implements prometheus.Collector.
func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.nodes
	ch <- c.relationships
	ch <- c.labels
	ch <- c.relTypes
	ch <- c.connected
	if _, ok := c.source.(PersistenceSource); ok {
		ch <- c.pending
		ch <- c.operations
		ch <- c.lastSaveAge
	}
}

// Collect implements prometheus.Collector.
func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats(context.Background())

	ch <- prometheus.MustNewConstMetric(c.nodes, prometheus.GaugeValue, float64(stats.Nodes))
	ch <- prometheus.MustNewConstMetric(c.relationships, prometheus.GaugeValue, float64(stats.Relationships))
	ch <- prometheus.MustNewConstMetric(c.labels, prometheus.GaugeValue, float64(stats.Labels))
	ch <- prometheus.MustNewConstMetric(c.relTypes, prometheus.GaugeValue, float64(stats.RelationshipTypes))
	connected := 0.0
	if stats.Connected {
		connected = 1
	}
	ch <- prometheus.MustNewConstMetric(c.connected, prometheus.GaugeValue, connected)

	p, ok := c.source.(PersistenceSource)
	if !ok {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(p.PendingOperations()))
	ch <- prometheus.MustNewConstMetric(c.operations, prometheus.CounterValue, float64(p.OperationCount()))
	// Never saved: no sample.
	if last := p.LastSave(); !last.IsZero() {
		ch <- prometheus.MustNewConstMetric(c.lastSaveAge, prometheus.GaugeValue, c.now().Sub(last).Seconds())
	}
}
