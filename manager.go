package cag

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zero-day-ai/cag/cache"
	"github.com/zero-day-ai/cag/extract"
	"github.com/zero-day-ai/cag/graph"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Store is the graph capability the manager needs. *graph.Store and
// *persist.Store both satisfy it.
type Store interface {
	GetNode(ctx context.Context, id string) (*graph.Node, error)
	CreateNode(ctx context.Context, id string, labels []string, properties map[string]any) (*graph.Node, error)
	CreateRelationship(ctx context.Context, from, to, relType string, properties map[string]any) (*graph.Relationship, error)
	FindNodesByProperty(ctx context.Context, key string, value any, limit int) ([]*graph.Node, error)
	GetNodeContext(ctx context.Context, id string, maxDepth, maxNodes int) ([]graph.ContextNode, error)
}

// Manager answers context queries against a knowledge graph and ingests
// knowledge triplets into it. A Manager is safe for concurrent use.
type Manager struct {
	store Store
	cfg   managerConfig

	group singleflight.Group

	// generation is bumped on every invalidation. Results computed under
	// an older generation are returned but not cached.
	generation atomic.Uint64
}

// New creates a Manager over the store.
func New(store Store, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, graph.NewValidationError("cag.New", ErrNoStore)
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Manager{store: store, cfg: cfg}, nil
}

// GetContextForQuery returns the label-bucketed context text for a query.
//
// The result is cached by the hash of the raw query text. On a miss the
// manager extracts entities, looks up seed nodes by the seed properties
// (falling back to the concept table for entities with no direct match),
// expands every seed with one shared already-processed set and caps the
// combined result at the context node limit. Concurrent calls for the same
// query share one computation.
//
// Extraction, lookup, traversal and cache failures are logged and absorbed.
// Only context cancellation is returned as an error.
func (m *Manager) GetContextForQuery(ctx context.Context, text string) (string, error) {
	ctx, span := m.cfg.tracer.Start(ctx, "cag.GetContextForQuery",
		trace.WithAttributes(attribute.Int("cag.query.length", len(text))))
	defer span.End()

	key := cache.Key(text)
	if m.cfg.cache != nil {
		cached, ok, err := m.cfg.cache.Get(ctx, key)
		if err != nil {
			m.cfg.logger.Warn("cache lookup failed", "error", err)
		}
		recordCacheLookup(ctx, ok)
		span.SetAttributes(attribute.Bool("cag.cache.hit", ok))
		if ok {
			return cached, nil
		}
	}

	gen := m.generation.Load()
	v, err, shared := m.group.Do(strconv.FormatUint(gen, 10)+":"+key, func() (any, error) {
		// A flight that finished after our lookup may have filled the cache.
		if m.cfg.cache != nil {
			if cached, ok, err := m.cfg.cache.Get(ctx, key); err == nil && ok {
				return cached, nil
			}
		}
		out, err := m.compute(ctx, text)
		if err != nil {
			return "", err
		}
		if m.cfg.cache != nil && m.generation.Load() == gen {
			if err := m.cfg.cache.Set(ctx, key, out); err != nil {
				m.cfg.logger.Warn("cache store failed", "error", err)
			}
		}
		return out, nil
	})
	span.SetAttributes(attribute.Bool("cag.query.shared", shared))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return v.(string), nil
}

// compute builds the context text for a query without consulting the cache.
func (m *Manager) compute(ctx context.Context, text string) (string, error) {
	start := time.Now()

	entities, err := m.cfg.extractor.Extract(ctx, text)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		m.cfg.logger.Warn("entity extraction failed", "error", err)
		entities = nil
	}

	seeds := m.findSeeds(ctx, entities)
	nodes := m.expand(ctx, seeds)
	if err := ctx.Err(); err != nil {
		return "", err
	}

	recordQuery(ctx, time.Since(start), len(nodes), len(seeds))
	m.cfg.logger.Debug("computed query context",
		"entities", len(entities),
		"seeds", len(seeds),
		"nodes", len(nodes),
	)
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("cag.entities", len(entities)),
		attribute.Int("cag.seeds", len(seeds)),
		attribute.Int("cag.context.nodes", len(nodes)),
	)
	return FormatContext(nodes), nil
}

// findSeeds returns the distinct seed nodes for the entities in extraction
// order.
func (m *Manager) findSeeds(ctx context.Context, entities []extract.Entity) []*graph.Node {
	var seeds []*graph.Node
	seen := make(map[string]struct{})
	add := func(nodes []*graph.Node) {
		for _, n := range nodes {
			if _, dup := seen[n.ID]; dup {
				continue
			}
			seen[n.ID] = struct{}{}
			seeds = append(seeds, n)
		}
	}

	for _, e := range entities {
		if ctx.Err() != nil {
			return seeds
		}
		matched := m.lookup(ctx, e.Value)
		if len(matched) == 0 {
			for _, concept := range m.cfg.concepts[strings.ToLower(e.Type)] {
				matched = append(matched, m.lookup(ctx, concept)...)
			}
		}
		add(matched)
	}
	return seeds
}

// lookup finds nodes whose seed properties equal value.
func (m *Manager) lookup(ctx context.Context, value string) []*graph.Node {
	var out []*graph.Node
	for _, prop := range m.cfg.seedProperties {
		nodes, err := m.store.FindNodesByProperty(ctx, prop, value, m.cfg.seedLimit)
		if err != nil {
			m.logAbsorbed("seed lookup failed", err, "property", prop)
			continue
		}
		out = append(out, nodes...)
	}
	return out
}

// expand walks out from each seed. Each node appears once across all
// seeds; seeds appear at depth 0.
func (m *Manager) expand(ctx context.Context, seeds []*graph.Node) []graph.ContextNode {
	processed := make(map[string]struct{})
	var out []graph.ContextNode
	scored := false

	for _, seed := range seeds {
		if ctx.Err() != nil {
			break
		}
		if _, done := processed[seed.ID]; !done {
			processed[seed.ID] = struct{}{}
			out = append(out, graph.ContextNode{Node: seed})
		}

		reached, err := m.store.GetNodeContext(ctx, seed.ID, m.cfg.maxDepth, m.cfg.maxNodes)
		if err != nil {
			m.logAbsorbed("context expansion failed", err, "node_id", seed.ID)
			continue
		}
		for _, cn := range reached {
			if _, done := processed[cn.Node.ID]; done {
				continue
			}
			processed[cn.Node.ID] = struct{}{}
			if cn.DistanceScore > 0 {
				scored = true
			}
			out = append(out, cn)
		}
	}

	if scored {
		rank(out)
	}
	if len(out) > m.cfg.maxContextNodes {
		out = out[:m.cfg.maxContextNodes]
	}
	return out
}

// rank orders nodes by descending distance score, seeds first. Order is
// stable for equal scores.
func rank(nodes []graph.ContextNode) {
	for i := range nodes {
		if nodes[i].Depth == 0 {
			nodes[i].DistanceScore = graph.DistanceScore(0, "")
		}
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].DistanceScore > nodes[j].DistanceScore
	})
}

// logAbsorbed logs an operational failure that the query path tolerates.
// Missing nodes are expected and logged at debug level.
func (m *Manager) logAbsorbed(msg string, err error, args ...any) {
	args = append(args, "error", err)
	if graph.IsNotFound(err) || errors.Is(err, context.Canceled) {
		m.cfg.logger.Debug(msg, args...)
		return
	}
	m.cfg.logger.Warn(msg, args...)
}

// InvalidateCache drops every cached query result.
func (m *Manager) InvalidateCache(ctx context.Context) {
	m.generation.Add(1)
	if m.cfg.cache == nil {
		return
	}
	if err := m.cfg.cache.Invalidate(ctx); err != nil {
		m.cfg.logger.Warn("cache invalidation failed", "error", err)
	}
}

// CacheLen reports the number of cached query results.
func (m *Manager) CacheLen(ctx context.Context) (int, error) {
	if m.cfg.cache == nil {
		return 0, nil
	}
	return m.cfg.cache.Len(ctx)
}
