package cache

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shortlink/internal/cache/cachetest"
	"shortlink/internal/config"
	"shortlink/internal/metrics"
	"shortlink/internal/model"
)

func newTestCache(t *testing.T) (*Cache, *cachetest.FakeClient, *metrics.Metrics) {
	t.Helper()
	client := cachetest.NewFakeClient()
	m := metrics.New(prometheus.NewRegistry())
	return New(client, time.Hour, 100*time.Millisecond, zap.NewNop(), m), client, m
}

func TestCache_GetSetDel(t *testing.T) {
	c, client, m := newTestCache(t)
	ctx := context.Background()

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	assert.True(t, c.Set(ctx, "k", "v", 0))
	assert.Equal(t, time.Hour, client.TTL("k"), "zero ttl falls back to the default")

	assert.True(t, c.Set(ctx, "short", "v", time.Minute))
	assert.Equal(t, time.Minute, client.TTL("short"))

	v, ok := c.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	assert.True(t, c.Exists(ctx, "k"))

	assert.True(t, c.Del(ctx, "k"))
	assert.False(t, c.Exists(ctx, "k"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheOps.WithLabelValues("get", "hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheOps.WithLabelValues("get", "miss")))
}

func TestCache_Incr(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	n, ok := c.Incr(ctx, "counter")
	require.True(t, ok)
	assert.Equal(t, int64(1), n)

	n, ok = c.Incr(ctx, "counter")
	require.True(t, ok)
	assert.Equal(t, int64(2), n)
}

func TestCache_Mapping(t *testing.T) {
	c, client, _ := newTestCache(t)
	ctx := context.Background()

	require.True(t, c.SetMapping(ctx, model.CachedMapping{OriginalURL: "https://example.com", ShortCode: "abc123"}))

	raw, ok := client.Value("url:abc123")
	require.True(t, ok)
	assert.JSONEq(t, `{"originalUrl":"https://example.com","shortCode":"abc123"}`, raw)

	got, ok := c.GetMapping(ctx, "abc123")
	require.True(t, ok)
	assert.Equal(t, "https://example.com", got.OriginalURL)
	assert.Equal(t, "abc123", got.ShortCode)

	_, ok = c.IncrClicks(ctx, "abc123")
	require.True(t, ok)

	c.DeleteMapping(ctx, "abc123")
	assert.Equal(t, []string{"del url:abc123", "del clicks:abc123"}, client.Calls()[len(client.Calls())-2:])
	_, ok = c.GetMapping(ctx, "abc123")
	assert.False(t, ok)
	_, ok = client.Value("clicks:abc123")
	assert.False(t, ok)
}

func TestCache_MalformedMappingIsMiss(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	require.True(t, c.Set(ctx, MappingKey("bad"), "not json", 0))
	_, ok := c.GetMapping(ctx, "bad")
	assert.False(t, ok)
}

func TestCache_DegradesWhenDown(t *testing.T) {
	c, client, m := newTestCache(t)
	ctx := context.Background()
	require.True(t, c.Set(ctx, "k", "v", 0))

	client.SetDown(true)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.False(t, c.Set(ctx, "k", "v2", 0))
	assert.False(t, c.Del(ctx, "k"))
	assert.False(t, c.Exists(ctx, "k"))
	n, ok := c.Incr(ctx, "counter")
	assert.False(t, ok)
	assert.Zero(t, n)
	assert.Error(t, c.Ping(ctx))
	assert.NotPanics(t, func() { c.DeleteMapping(ctx, "k") })

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheOps.WithLabelValues("get", "error")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.CacheOps.WithLabelValues("del", "error")))

	client.SetDown(false)
	v, ok := c.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestCache_Disabled(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	c := New(nil, time.Hour, time.Second, zap.NewNop(), m)
	ctx := context.Background()

	assert.False(t, c.Enabled())
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.False(t, c.Set(ctx, "k", "v", 0))
	assert.False(t, c.SetMapping(ctx, model.CachedMapping{OriginalURL: "https://x", ShortCode: "k"}))
	_, ok = c.IncrClicks(ctx, "k")
	assert.False(t, ok)
	assert.False(t, c.Exists(ctx, "k"))
	c.DeleteMapping(ctx, "k")
	assert.ErrorIs(t, c.Ping(ctx), ErrDisabled)
	assert.NoError(t, c.Close())

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheOps.WithLabelValues("get", "miss")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheOps.WithLabelValues("exists", "miss")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CacheOps.WithLabelValues("set", "disabled")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CacheOps.WithLabelValues("del", "disabled")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheOps.WithLabelValues("incr", "disabled")))
}

func TestCache_UnreachableServer(t *testing.T) {
	// Nothing listens on port 1; the gateway must answer quickly with a miss.
	client := NewClient(config.RedisConfig{Host: "127.0.0.1", Port: 1, OpTimeout: 300 * time.Millisecond})
	c := New(client, time.Hour, 300*time.Millisecond, zap.NewNop(), metrics.New(prometheus.NewRegistry()))
	t.Cleanup(func() { _ = c.Close() })

	start := time.Now()
	_, ok := c.Get(context.Background(), "url:abc")
	assert.False(t, ok)
	assert.False(t, c.Set(context.Background(), "url:abc", "x", 0))
	assert.Less(t, time.Since(start), 5*time.Second)
}
