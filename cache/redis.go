package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces the Redis keys of a cache.
const DefaultKeyPrefix = "cag:cache:"

// RedisOptions configures the Redis connection and cache layout.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string

	// TLS configuration for secure connections
	TLS *tls.Config

	// ConnectTimeout is the maximum time to wait for connection establishment
	ConnectTimeout time.Duration

	// ReadTimeout is the maximum time to wait for read operations
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait for write operations
	WriteTimeout time.Duration

	// KeyPrefix namespaces the entry hash and order list.
	KeyPrefix string

	// Capacity bounds the entry count. Zero uses DefaultCapacity.
	Capacity int
}

// Redis is a cache shared between processes. Entries live in a hash and
// insertion order in a list, both under KeyPrefix; Set and eviction run
// atomically in a server-side script.
type Redis struct {
	client   *redis.Client
	entries  string
	order    string
	capacity int
}

var _ Cache = (*Redis)(nil)

// setScript stores a value and evicts from the head of the order list while
// the list exceeds capacity. Returns the number of evicted keys.
var setScript = redis.NewScript(`
local entries = KEYS[1]
local order = KEYS[2]
local capacity = tonumber(ARGV[3])
if redis.call('HEXISTS', entries, ARGV[1]) == 1 then
  redis.call('HSET', entries, ARGV[1], ARGV[2])
  return 0
end
redis.call('HSET', entries, ARGV[1], ARGV[2])
redis.call('RPUSH', order, ARGV[1])
local evicted = 0
while redis.call('LLEN', order) > capacity do
  local oldest = redis.call('LPOP', order)
  redis.call('HDEL', entries, oldest)
  evicted = evicted + 1
end
return evicted
`)

// Connection defaults for RedisOptions.
const (
	defaultRedisURL     = "redis://localhost:6379"
	defaultDialTimeout  = 5 * time.Second
	defaultRedisTimeout = 3 * time.Second
)

// withDefaults fills every unset field.
func (o RedisOptions) withDefaults() RedisOptions {
	if o.URL == "" {
		o.URL = defaultRedisURL
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultDialTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = defaultRedisTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultRedisTimeout
	}
	if o.KeyPrefix == "" {
		o.KeyPrefix = DefaultKeyPrefix
	}
	if o.Capacity <= 0 {
		o.Capacity = DefaultCapacity
	}
	return o
}

// clientOptions translates the options into go-redis client options.
func (o RedisOptions) clientOptions() (*redis.Options, error) {
	ro, err := redis.ParseURL(o.URL)
	if err != nil {
		return nil, fmt.Errorf("parse cache redis url: %w", err)
	}
	if o.TLS != nil {
		ro.TLSConfig = o.TLS
	}
	ro.DialTimeout = o.ConnectTimeout
	ro.ReadTimeout = o.ReadTimeout
	ro.WriteTimeout = o.WriteTimeout
	return ro, nil
}

// NewRedis connects to Redis and returns a cache. The server must answer a
// PING within ConnectTimeout.
func NewRedis(opts RedisOptions) (*Redis, error) {
	opts = opts.withDefaults()
	ro, err := opts.clientOptions()
	if err != nil {
		return nil, err
	}

	r := &Redis{
		client:   redis.NewClient(ro),
		entries:  opts.KeyPrefix + "entries",
		order:    opts.KeyPrefix + "order",
		capacity: opts.Capacity,
	}
	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		_ = r.client.Close()
		return nil, fmt.Errorf("cache redis unreachable at %s: %w", ro.Addr, err)
	}
	return r, nil
}

// Get returns the cached value.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.HGet(ctx, r.entries, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return val, true, nil
}

// Set stores a value. An existing key keeps its insertion position.
func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := setScript.Run(ctx, r.client, []string{r.entries, r.order}, key, value, r.capacity).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

// Invalidate removes every entry.
func (r *Redis) Invalidate(ctx context.Context) error {
	if err := r.client.Del(ctx, r.entries, r.order).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}

// Len returns the number of entries.
func (r *Redis) Len(ctx context.Context) (int, error) {
	n, err := r.client.HLen(ctx, r.entries).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return int(n), nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
