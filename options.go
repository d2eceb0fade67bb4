package cag

import (
	"log/slog"
	"strings"

	"github.com/zero-day-ai/cag/cache"
	"github.com/zero-day-ai/cag/extract"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Default context limits.
const (
	DefaultMaxDepth        = 2
	DefaultMaxNodes        = 20
	DefaultMaxContextNodes = 50
	DefaultSeedLimit       = 5
)

// Option configures a Manager.
type Option func(*managerConfig)

// managerConfig holds configuration for the Manager instance.
type managerConfig struct {
	extractor       extract.Extractor
	cache           cache.Cache
	logger          *slog.Logger
	tracer          trace.Tracer
	maxDepth        int
	maxNodes        int
	maxContextNodes int
	seedLimit       int
	seedProperties  []string
	concepts        map[string][]string
}

func defaultConfig() managerConfig {
	return managerConfig{
		extractor:       extract.NewRegex(),
		cache:           cache.NewMemory(cache.DefaultCapacity),
		logger:          slog.Default().With("component", "cag"),
		tracer:          otel.Tracer("cag"),
		maxDepth:        DefaultMaxDepth,
		maxNodes:        DefaultMaxNodes,
		maxContextNodes: DefaultMaxContextNodes,
		seedLimit:       DefaultSeedLimit,
		seedProperties:  []string{"name"},
		concepts:        DefaultConcepts(),
	}
}

// WithExtractor sets the entity extractor. The default is the regex
// extractor from package extract.
func WithExtractor(e extract.Extractor) Option {
	return func(c *managerConfig) {
		if e != nil {
			c.extractor = e
		}
	}
}

// WithCache sets the query result cache. Passing nil disables caching.
func WithCache(qc cache.Cache) Option {
	return func(c *managerConfig) {
		c.cache = qc
	}
}

// WithLogger sets a custom logger for the manager.
// If not provided, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(c *managerConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTracer sets an OpenTelemetry tracer for manager operations.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *managerConfig) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithContextLimits bounds expansion: maxDepth hops and maxNodes results per
// seed, and maxContextNodes nodes in the rendered context. Non-positive
// values keep the defaults.
func WithContextLimits(maxDepth, maxNodes, maxContextNodes int) Option {
	return func(c *managerConfig) {
		if maxDepth > 0 {
			c.maxDepth = maxDepth
		}
		if maxNodes > 0 {
			c.maxNodes = maxNodes
		}
		if maxContextNodes > 0 {
			c.maxContextNodes = maxContextNodes
		}
	}
}

// WithSeedLimit caps the seed nodes found per entity and property.
func WithSeedLimit(n int) Option {
	return func(c *managerConfig) {
		if n > 0 {
			c.seedLimit = n
		}
	}
}

// WithSeedProperties sets the property keys matched against entity values
// when looking for seeds. Default: name.
func WithSeedProperties(keys ...string) Option {
	return func(c *managerConfig) {
		props := make([]string, 0, len(keys))
		for _, k := range keys {
			if k = strings.TrimSpace(k); k != "" {
				props = append(props, k)
			}
		}
		if len(props) > 0 {
			c.seedProperties = props
		}
	}
}

// WithConcepts replaces the entity-type to concept table consulted when an
// entity matches no node directly. Keys are matched case-insensitively.
func WithConcepts(concepts map[string][]string) Option {
	return func(c *managerConfig) {
		table := make(map[string][]string, len(concepts))
		for typ, names := range concepts {
			table[strings.ToLower(typ)] = append([]string(nil), names...)
		}
		c.concepts = table
	}
}
