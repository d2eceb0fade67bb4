package metrics

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"

	"github.com/zero-day-ai/cag/graph"
)

type persistentSource struct {
	stats    graph.Stats
	pending  int64
	ops      int64
	lastSave time.Time
}

func (p *persistentSource) Stats(context.Context) graph.Stats { return p.stats }
func (p *persistentSource) PendingOperations() int64         { return p.pending }
func (p *persistentSource) OperationCount() int64            { return p.ops }
func (p *persistentSource) LastSave() time.Time              { return p.lastSave }

func TestStoreCollector_MemoryStore(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore(graph.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, store.Connect(ctx))
	defer store.Close(ctx)

	_, err := store.CreateNode(ctx, "A1", []string{"Tool"}, map[string]any{"name": "Mimikatz"})
	require.NoError(t, err)
	_, err = store.CreateNode(ctx, "A2", []string{"Technique"}, nil)
	require.NoError(t, err)
	_, err = store.CreateRelationship(ctx, "A1", "A2", "USES_TECHNIQUE", nil)
	require.NoError(t, err)

	c := NewStoreCollector(store)
	want := `
# HELP cag_store_connected Whether the store is connected (1) or not (0)
# TYPE cag_store_connected gauge
cag_store_connected 1
# HELP cag_store_labels Number of distinct node labels
# TYPE cag_store_labels gauge
cag_store_labels 2
# HELP cag_store_nodes Number of nodes in the graph
# TYPE cag_store_nodes gauge
cag_store_nodes 2
# HELP cag_store_relationship_types Number of distinct relationship types
# TYPE cag_store_relationship_types gauge
cag_store_relationship_types 1
# HELP cag_store_relationships Number of relationships in the graph
# TYPE cag_store_relationships gauge
cag_store_relationships 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(want)))
	assert.Equal(t, 5, testutil.CollectAndCount(c))
}

func TestStoreCollector_PersistentStore(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	src := &persistentSource{
		stats:    graph.Stats{Nodes: 10, Relationships: 4, Connected: true},
		pending:  3,
		ops:      120,
		lastSave: now.Add(-90 * time.Second),
	}
	c := NewStoreCollector(src)
	c.now = func() time.Time { return now }

	want := `
# HELP cag_store_last_save_age_seconds Seconds since the last successful flush
# TYPE cag_store_last_save_age_seconds gauge
cag_store_last_save_age_seconds 90
# HELP cag_store_operations_total Mutations applied since the store directory was created
# TYPE cag_store_operations_total counter
cag_store_operations_total 120
# HELP cag_store_pending_operations Mutations not yet flushed to disk
# TYPE cag_store_pending_operations gauge
cag_store_pending_operations 3
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(want),
		"cag_store_last_save_age_seconds",
		"cag_store_operations_total",
		"cag_store_pending_operations",
	))

	src.lastSave = time.Time{}
	assert.Equal(t, 7, testutil.CollectAndCount(c), "no age sample before the first save")
}

func TestStoreCollector_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewStoreCollector(&persistentSource{})))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "cag_store_pending_operations 0")
}

func TestNewMeterProvider(t *testing.T) {
	reg := prometheus.NewRegistry()
	mp, err := NewMeterProvider(reg)
	require.NoError(t, err)
	defer mp.Shutdown(context.Background())

	counter, err := mp.Meter("test").Int64Counter("cag_cache_hits_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 2, metric.WithAttributes())

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "cag_cache_hits") {
			found = true
			assert.Equal(t, 2.0, f.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found)
}
