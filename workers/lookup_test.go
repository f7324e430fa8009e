package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"link-redirect-service/models"
	"link-redirect-service/testutils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_Layers(t *testing.T) {
	ctx := context.Background()
	cache := testutils.NewFakeCache()
	store := testutils.NewFakeStore()

	stored := store.Seed(models.Link{ShortCode: "fromdb", OriginalURL: "https://example.com", IsActive: true})
	cache.Put(models.CacheEntry{ID: 42, ShortCode: "cached", OriginalURL: "https://example.com"})

	l := NewLookup(cache, store, time.Minute)

	id, err := l.URLID(ctx, "cached")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Zero(t, store.ReadCount())

	id, err = l.URLID(ctx, "fromdb")
	require.NoError(t, err)
	assert.Equal(t, stored.ID, id)
	assert.Equal(t, 1, store.ReadCount())

	// served from memory now, even with both backends failing
	cache.SetError(models.ErrCacheUnavailable)
	store.SetError(errors.New("down"))
	id, err = l.URLID(ctx, "fromdb")
	require.NoError(t, err)
	assert.Equal(t, stored.ID, id)

	l.Forget("fromdb")
	_, err = l.URLID(ctx, "fromdb")
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrNotFound)
}

func TestLookup_UnknownAndInactive(t *testing.T) {
	ctx := context.Background()
	store := testutils.NewFakeStore()
	inactive := store.Seed(models.Link{ShortCode: "paused", OriginalURL: "https://example.com", IsActive: false})

	l := NewLookup(nil, store, time.Minute)

	_, err := l.URLID(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	id, err := l.URLID(ctx, "paused")
	require.NoError(t, err)
	assert.Equal(t, inactive.ID, id)
}

func TestLookup_PurgeDropsDeletedCode(t *testing.T) {
	ctx := context.Background()
	store := testutils.NewFakeStore()
	store.Seed(models.Link{ShortCode: "gone01", OriginalURL: "https://example.com", IsActive: true})

	l := NewLookup(nil, store, time.Minute)
	_, err := l.URLID(ctx, "gone01")
	require.NoError(t, err)

	require.NoError(t, store.DeleteLink(ctx, "gone01"))
	_, err = l.URLID(ctx, "gone01")
	require.NoError(t, err, "still remembered until purged")

	require.NoError(t, l.Purge(ctx, "gone01"))
	_, err = l.URLID(ctx, "gone01")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
