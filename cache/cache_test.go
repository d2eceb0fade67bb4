package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T, capacity int) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	c, err := NewRedis(RedisOptions{
		URL:      fmt.Sprintf("redis://%s", mr.Addr()),
		Capacity: capacity,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = c.Close()
		mr.Close()
	})

	return c, mr
}

func implementations(t *testing.T, capacity int) map[string]Cache {
	t.Helper()
	r, _ := setupRedis(t, capacity)
	return map[string]Cache{
		"memory": NewMemory(capacity),
		"redis":  r,
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key("what does mimikatz do"), Key("what does mimikatz do"))
	assert.NotEqual(t, Key("a"), Key("A"))
	assert.Len(t, Key(""), 64)
}

func TestCache_GetSet(t *testing.T) {
	ctx := context.Background()
	for name, c := range implementations(t, 10) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := c.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, c.Set(ctx, "k", "v1"))
			got, ok, err := c.Get(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "v1", got)

			require.NoError(t, c.Set(ctx, "k", "v2"))
			got, _, err = c.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "v2", got)

			n, err := c.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestCache_InsertionOrderEviction(t *testing.T) {
	ctx := context.Background()
	for name, c := range implementations(t, 3) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"a", "b", "c"} {
				require.NoError(t, c.Set(ctx, k, k))
			}

			// Reading and re-setting "a" does not protect it.
			_, _, err := c.Get(ctx, "a")
			require.NoError(t, err)
			require.NoError(t, c.Set(ctx, "a", "a2"))

			require.NoError(t, c.Set(ctx, "d", "d"))

			_, ok, err := c.Get(ctx, "a")
			require.NoError(t, err)
			assert.False(t, ok, "oldest inserted key is evicted")
			for _, k := range []string{"b", "c", "d"} {
				_, ok, err := c.Get(ctx, k)
				require.NoError(t, err)
				assert.True(t, ok, k)
			}
			n, err := c.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)
		})
	}
}

func TestCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	for name, c := range implementations(t, 5) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Set(ctx, "a", "1"))
			require.NoError(t, c.Set(ctx, "b", "2"))
			require.NoError(t, c.Invalidate(ctx))

			n, err := c.Len(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)

			// Order bookkeeping is reset too.
			for _, k := range []string{"c", "d", "e", "f", "g"} {
				require.NoError(t, c.Set(ctx, k, k))
			}
			_, ok, err := c.Get(ctx, "c")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestMemory_DefaultCapacity(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(0)
	for i := 0; i < DefaultCapacity+5; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprint(i), "v"))
	}
	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultCapacity, n)
}

func TestRedis_SharedAcrossClients(t *testing.T) {
	ctx := context.Background()
	first, mr := setupRedis(t, 10)
	second, err := NewRedis(RedisOptions{URL: fmt.Sprintf("redis://%s", mr.Addr()), Capacity: 10})
	require.NoError(t, err)
	defer second.Close()

	require.NoError(t, first.Set(ctx, Key("q"), "context"))
	got, ok, err := second.Get(ctx, Key("q"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "context", got)

	assert.True(t, mr.Exists(DefaultKeyPrefix+"entries"))
	assert.True(t, mr.Exists(DefaultKeyPrefix+"order"))
}

func TestNewRedis_BadURL(t *testing.T) {
	_, err := NewRedis(RedisOptions{URL: "not-a-url://"})
	assert.Error(t, err)
}

func TestRedisOptions_WithDefaults(t *testing.T) {
	got := RedisOptions{}.withDefaults()
	assert.Equal(t, "redis://localhost:6379", got.URL)
	assert.Equal(t, 5*time.Second, got.ConnectTimeout)
	assert.Equal(t, 3*time.Second, got.ReadTimeout)
	assert.Equal(t, 3*time.Second, got.WriteTimeout)
	assert.Equal(t, DefaultKeyPrefix, got.KeyPrefix)
	assert.Equal(t, DefaultCapacity, got.Capacity)

	set := RedisOptions{URL: "redis://cache:6380/2", ReadTimeout: time.Second, KeyPrefix: "p:", Capacity: 7}.withDefaults()
	assert.Equal(t, "redis://cache:6380/2", set.URL)
	assert.Equal(t, time.Second, set.ReadTimeout)
	assert.Equal(t, "p:", set.KeyPrefix)
	assert.Equal(t, 7, set.Capacity)

	ro, err := set.clientOptions()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", ro.Addr)
	assert.Equal(t, 2, ro.DB)
	assert.Equal(t, 5*time.Second, ro.DialTimeout)
}
