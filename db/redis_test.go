package db_test

import (
	"context"
	"testing"
	"time"

	"link-redirect-service/db"
	"link-redirect-service/models"
	"link-redirect-service/testutils"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedis_LinkEntries(t *testing.T) {
	client := testutils.SetupRedis(t)
	cache := db.NewRedisDBFromClient(client, time.Hour, 500*time.Millisecond)
	ctx := context.Background()

	_, err := cache.GetLink(ctx, "abc123")
	assert.ErrorIs(t, err, models.ErrCacheMiss)

	entry := &models.CacheEntry{ID: 7, ShortCode: "abc123", OriginalURL: "https://example.com"}
	require.NoError(t, cache.SetLink(ctx, entry))

	got, err := cache.GetLink(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, entry, got)

	ttl, err := client.TTL(ctx, "url:abc123").Result()
	require.NoError(t, err)
	assert.InDelta(t, time.Hour.Seconds(), ttl.Seconds(), 5)

	require.NoError(t, cache.DeleteLink(ctx, "abc123"))
	_, err = cache.GetLink(ctx, "abc123")
	assert.ErrorIs(t, err, models.ErrCacheMiss)

	// deleting an absent key is fine
	require.NoError(t, cache.DeleteLink(ctx, "abc123"))
}

func TestRedis_CorruptEntryIsDropped(t *testing.T) {
	client := testutils.SetupRedis(t)
	cache := db.NewRedisDBFromClient(client, time.Hour, 500*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "url:broken", "{not json", time.Hour).Err())

	_, err := cache.GetLink(ctx, "broken")
	assert.ErrorIs(t, err, models.ErrCacheUnavailable)

	_, err = client.Get(ctx, "url:broken").Result()
	assert.ErrorIs(t, err, redis.Nil)
}

func TestRedis_UnreachableIsUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	defer client.Close()
	cache := db.NewRedisDBFromClient(client, time.Hour, 100*time.Millisecond)

	_, err := cache.GetLink(context.Background(), "abc123")
	assert.ErrorIs(t, err, models.ErrCacheUnavailable)
	assert.ErrorIs(t, cache.DeleteLink(context.Background(), "abc123"), models.ErrCacheUnavailable)
}

func TestRedis_IncrWindow(t *testing.T) {
	client := testutils.SetupRedis(t)
	cache := db.NewRedisDBFromClient(client, time.Hour, 500*time.Millisecond)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := cache.IncrWindow(ctx, "ratelimit:test", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	ttl, err := client.TTL(ctx, "ratelimit:test").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRedis_IncrWindowRepairsMissingTTL(t *testing.T) {
	client := testutils.SetupRedis(t)
	cache := db.NewRedisDBFromClient(client, time.Hour, 500*time.Millisecond)
	ctx := context.Background()

	// a counter left without expiry by an interrupted writer
	require.NoError(t, client.Set(ctx, "ratelimit:stuck", 7, 0).Err())

	n, err := cache.IncrWindow(ctx, "ratelimit:stuck", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)

	ttl, err := client.PTTL(ctx, "ratelimit:stuck").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}

func TestRedis_DeleteFencesRepopulation(t *testing.T) {
	client := testutils.SetupRedis(t)
	cache := db.NewRedisDBFromClient(client, time.Hour, 500*time.Millisecond)
	ctx := context.Background()

	stale := &models.CacheEntry{ID: 7, ShortCode: "abc123", OriginalURL: "https://old.example.com"}
	require.NoError(t, cache.SetLink(ctx, stale))
	require.NoError(t, cache.DeleteLink(ctx, "abc123"))

	// a lookup that read the store before the delete writes back late
	require.NoError(t, cache.SetLink(ctx, stale))
	_, err := cache.GetLink(ctx, "abc123")
	assert.ErrorIs(t, err, models.ErrCacheMiss)

	ttl, err := client.PTTL(ctx, "fence:url:abc123").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, models.InvalidationFence)

	// other codes are unaffected
	other := &models.CacheEntry{ID: 8, ShortCode: "xyz789", OriginalURL: "https://example.com"}
	require.NoError(t, cache.SetLink(ctx, other))
	_, err = cache.GetLink(ctx, "xyz789")
	assert.NoError(t, err)

	// once the fence lapses the key can be populated again
	require.NoError(t, client.Del(ctx, "fence:url:abc123").Err())
	require.NoError(t, cache.SetLink(ctx, stale))
	_, err = cache.GetLink(ctx, "abc123")
	assert.NoError(t, err)
}

func TestOpenRedisDB_DoesNotDial(t *testing.T) {
	cache := db.OpenRedisDB("127.0.0.1:1", time.Hour, 100*time.Millisecond)
	defer cache.Close()

	assert.Error(t, cache.Ping(context.Background()))
	_, err := cache.GetLink(context.Background(), "abc123")
	assert.ErrorIs(t, err, models.ErrCacheUnavailable)
}
