package cag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zero-day-ai/cag/cache"
	"github.com/zero-day-ai/cag/extract"
	"github.com/zero-day-ai/cag/graph"
	"github.com/zero-day-ai/cag/persist"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(t *testing.T) *graph.Store {
	t.Helper()
	s := graph.NewMemoryStore(graph.WithLogger(quietLogger()))
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() {
		_ = s.Close(context.Background())
	})
	return s
}

func newManager(t *testing.T, store Store, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	m, err := New(store, opts...)
	require.NoError(t, err)
	return m
}

// seedScenario builds the Mimikatz tool/technique fixture.
func seedScenario(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	_, err := s.CreateNode(ctx, "A1", []string{"Tool"}, map[string]any{"name": "Mimikatz"})
	require.NoError(t, err)
	_, err = s.CreateNode(ctx, "A2", []string{"Technique"}, map[string]any{"name": "Credential Dumping"})
	require.NoError(t, err)
	_, err = s.CreateRelationship(ctx, "A1", "A2", "USES_TECHNIQUE", nil)
	require.NoError(t, err)
}

// countingExtractor wraps the regex extractor and counts calls.
type countingExtractor struct {
	calls atomic.Int32
	next  extract.Extractor
}

func (c *countingExtractor) Extract(ctx context.Context, text string) ([]extract.Entity, error) {
	c.calls.Add(1)
	return c.next.Extract(ctx, text)
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoStore)
	assert.True(t, graph.IsValidation(err))
}

func TestGetContextForQuery_Scenario(t *testing.T) {
	store := newStore(t)
	seedScenario(t, store)
	m := newManager(t, store)

	got, err := m.GetContextForQuery(context.Background(), "what does mimikatz do?")
	require.NoError(t, err)
	assert.Equal(t,
		"## Tool\n"+
			"- Mimikatz [A1]\n"+
			"## Technique\n"+
			"- Credential Dumping [A2] (USES_TECHNIQUE, outgoing, depth 1)\n",
		got)
}

func TestGetContextForQuery_NoEntities(t *testing.T) {
	store := newStore(t)
	seedScenario(t, store)
	m := newManager(t, store)

	got, err := m.GetContextForQuery(context.Background(), "hello there")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetContextForQuery_CacheConsistency(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	seedScenario(t, store)
	ex := &countingExtractor{next: extract.NewRegex()}
	m := newManager(t, store, WithExtractor(ex))

	first, err := m.GetContextForQuery(ctx, "tell me about mimikatz")
	require.NoError(t, err)
	second, err := m.GetContextForQuery(ctx, "tell me about mimikatz")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), ex.calls.Load(), "second call is served from the cache")

	n, err := m.CacheLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, m.AddKnowledgeTriplet(ctx, Triplet{
		Subject:      "Mimikatz",
		SubjectLabel: "Tool",
		Predicate:    "written in",
		Object:       "C",
		ObjectLabel:  "Language",
	}))

	n, err = m.CacheLen(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "adding knowledge invalidates the cache")

	third, err := m.GetContextForQuery(ctx, "tell me about mimikatz")
	require.NoError(t, err)
	assert.Equal(t, int32(2), ex.calls.Load())
	assert.NotEqual(t, first, third)
	assert.Contains(t, third, "## Language\n- C [")
}

func TestGetContextForQuery_ConceptFallback(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	_, err := store.CreateNode(ctx, "c1", []string{"Concept"}, map[string]any{"name": "Vulnerability"})
	require.NoError(t, err)
	m := newManager(t, store)

	got, err := m.GetContextForQuery(ctx, "impact of CVE-2021-44228")
	require.NoError(t, err)
	assert.Equal(t, "## Concept\n- Vulnerability [c1]\n", got)

	custom := newManager(t, store, WithConcepts(map[string][]string{"CVE": {"nothing"}}))
	got, err = custom.GetContextForQuery(ctx, "impact of CVE-2021-44228")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetContextForQuery_SharedProcessedSet(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	seedScenario(t, store)
	_, err := store.CreateNode(ctx, "A3", []string{"Tool"}, map[string]any{"name": "Responder"})
	require.NoError(t, err)
	_, err = store.CreateRelationship(ctx, "A3", "A2", "USES_TECHNIQUE", nil)
	require.NoError(t, err)
	m := newManager(t, store)

	got, err := m.GetContextForQuery(ctx, "mimikatz or responder")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(got, "[A2]"), "nodes reached from several seeds appear once")
	assert.Equal(t,
		"## Tool\n"+
			"- Mimikatz [A1]\n"+
			"- Responder [A3]\n"+
			"## Technique\n"+
			"- Credential Dumping [A2] (USES_TECHNIQUE, outgoing, depth 1)\n",
		got)
}

func TestGetContextForQuery_ContextCap(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	_, err := store.CreateNode(ctx, "hub", []string{"Tool"}, map[string]any{"name": "nmap"})
	require.NoError(t, err)
	for _, leaf := range []string{"l1", "l2", "l3", "l4", "l5"} {
		_, err := store.CreateNode(ctx, leaf, []string{"Port"}, nil)
		require.NoError(t, err)
		_, err = store.CreateRelationship(ctx, "hub", leaf, "SCANS", nil)
		require.NoError(t, err)
	}

	m := newManager(t, store, WithContextLimits(1, 10, 3))
	got, err := m.GetContextForQuery(ctx, "nmap")
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(got, "\n- "), "seed plus two expanded nodes")

	m = newManager(t, store, WithContextLimits(1, 2, 50))
	got, err = m.GetContextForQuery(ctx, "nmap")
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(got, "\n- "), "per-seed expansion is capped")
}

func TestGetContextForQuery_SeedProperties(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	_, err := store.CreateNode(ctx, "t1", []string{"Technique"}, map[string]any{"id": "T1003"})
	require.NoError(t, err)

	got, err := newManager(t, store).GetContextForQuery(ctx, "T1003")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = newManager(t, store, WithSeedProperties("name", "id")).GetContextForQuery(ctx, "T1003")
	require.NoError(t, err)
	assert.Equal(t, "## Technique\n- t1 [t1]\n  id: T1003\n", got)
}

func TestGetContextForQuery_AbsorbsFailures(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	seedScenario(t, store)

	failing := extract.Func(func(context.Context, string) ([]extract.Entity, error) {
		return nil, errors.New("model unavailable")
	})
	got, err := newManager(t, store, WithExtractor(failing)).GetContextForQuery(ctx, "mimikatz")
	require.NoError(t, err)
	assert.Empty(t, got)

	closed := graph.NewMemoryStore(graph.WithLogger(quietLogger()))
	got, err = newManager(t, closed).GetContextForQuery(ctx, "mimikatz")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetContextForQuery_Cancelled(t *testing.T) {
	store := newStore(t)
	seedScenario(t, store)
	m := newManager(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.GetContextForQuery(ctx, "mimikatz")
	assert.ErrorIs(t, err, context.Canceled)

	n, err := m.CacheLen(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "failed computations are not cached")
}

func TestGetContextForQuery_ConcurrentIdenticalQueries(t *testing.T) {
	store := newStore(t)
	seedScenario(t, store)
	ex := &countingExtractor{next: extract.NewRegex()}
	m := newManager(t, store, WithExtractor(ex))

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := m.GetContextForQuery(context.Background(), "mimikatz")
			assert.NoError(t, err)
			results[i] = out
		}(i)
	}
	wg.Wait()

	for _, r := range results[1:] {
		assert.Equal(t, results[0], r)
	}
	assert.Equal(t, int32(1), ex.calls.Load())
}

func TestGetContextForQuery_NoCache(t *testing.T) {
	store := newStore(t)
	seedScenario(t, store)
	ex := &countingExtractor{next: extract.NewRegex()}
	m := newManager(t, store, WithExtractor(ex), WithCache(nil))

	for i := 0; i < 2; i++ {
		_, err := m.GetContextForQuery(context.Background(), "mimikatz")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), ex.calls.Load())
	n, err := m.CacheLen(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetContextForQuery_RanksPersistentContext(t *testing.T) {
	ctx := context.Background()
	store, err := persist.Open(t.TempDir(), persist.WithLogger(quietLogger()), persist.WithAutoSaveInterval(0))
	require.NoError(t, err)
	require.NoError(t, store.Connect(ctx))
	t.Cleanup(func() {
		_ = store.Close(context.Background())
	})

	seedScenario(t, store)
	_, err = store.CreateNode(ctx, "A3", []string{"Technique"}, map[string]any{"name": "Pass the Hash"})
	require.NoError(t, err)
	_, err = store.CreateRelationship(ctx, "A1", "A3", "ENABLES", nil)
	require.NoError(t, err)

	got, err := newManager(t, store).GetContextForQuery(ctx, "mimikatz")
	require.NoError(t, err)
	assert.Equal(t,
		"## Tool\n"+
			"- Mimikatz [A1]\n"+
			"## Technique\n"+
			"- Pass the Hash [A3] (ENABLES, outgoing, depth 1)\n"+
			"- Credential Dumping [A2] (USES_TECHNIQUE, outgoing, depth 1)\n",
		got)
}

func TestGetContextForQuery_Tracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(context.Background())

	store := newStore(t)
	seedScenario(t, store)
	m := newManager(t, store, WithTracer(tp.Tracer("test")))

	for i := 0; i < 2; i++ {
		_, err := m.GetContextForQuery(context.Background(), "mimikatz")
		require.NoError(t, err)
	}

	spans := sr.Ended()
	require.Len(t, spans, 2)
	hits := make([]bool, 0, 2)
	for _, s := range spans {
		assert.Equal(t, "cag.GetContextForQuery", s.Name())
		for _, kv := range s.Attributes() {
			if kv.Key == attribute.Key("cag.cache.hit") {
				hits = append(hits, kv.Value.AsBool())
			}
		}
	}
	assert.Equal(t, []bool{false, true}, hits)

	var seeds int64 = -1
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "cag.seeds" {
			seeds = kv.Value.AsInt64()
		}
	}
	assert.Equal(t, int64(1), seeds)
}

func TestGetContextForQuery_RedisCache(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	seedScenario(t, store)
	mr := miniredis.RunT(t)

	newRedis := func() *cache.Redis {
		c, err := cache.NewRedis(cache.RedisOptions{URL: fmt.Sprintf("redis://%s", mr.Addr())})
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })
		return c
	}

	first := newManager(t, store, WithCache(newRedis()))
	ex := &countingExtractor{next: extract.NewRegex()}
	second := newManager(t, store, WithCache(newRedis()), WithExtractor(ex))

	want, err := first.GetContextForQuery(ctx, "mimikatz")
	require.NoError(t, err)
	got, err := second.GetContextForQuery(ctx, "mimikatz")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Zero(t, ex.calls.Load(), "managers sharing a cache share results")

	require.NoError(t, first.AddKnowledgeTriplet(ctx, Triplet{Subject: "Mimikatz", SubjectLabel: "Tool", Predicate: "targets", Object: "LSASS"}))
	_, err = second.GetContextForQuery(ctx, "mimikatz")
	require.NoError(t, err)
	assert.Equal(t, int32(1), ex.calls.Load(), "invalidation is visible to every manager")
}
