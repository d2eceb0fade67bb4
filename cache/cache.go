// Package cache memoizes rendered context-for-query results.
//
// Entries are keyed by Key(query), a hex SHA-256 of the raw query string.
// Both implementations bound the entry count and evict the oldest inserted
// key when the bound is exceeded. Eviction is by insertion order, not by
// recency: reading or re-setting a key does not move it. The whole cache is
// invalidated whenever new knowledge is added to the graph.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// DefaultCapacity is the default maximum number of entries.
const DefaultCapacity = 100

// Cache stores rendered query results.
type Cache interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores a value, evicting the oldest inserted key when full.
	Set(ctx context.Context, key, value string) error

	// Invalidate removes every entry.
	Invalidate(ctx context.Context) error

	// Len returns the number of entries.
	Len(ctx context.Context) (int, error)
}

// Key returns the cache key for a raw query string.
func Key(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}
