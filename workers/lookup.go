package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"link-redirect-service/models"

	gocache "github.com/patrickmn/go-cache"
)

// Lookup resolves short codes to link IDs for log derived clicks, checking an
// in-process cache, then the application cache, then the store.
type Lookup struct {
	local *gocache.Cache
	cache LinkCache
	store LinkStore
}

func NewLookup(cache LinkCache, store LinkStore, ttl time.Duration) *Lookup {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Lookup{
		local: gocache.New(ttl, 2*ttl),
		cache: cache,
		store: store,
	}
}

// URLID returns the link ID for shortCode, or models.ErrNotFound when the
// code does not exist. Inactive links still resolve: the edge may have served
// them before the deactivation reached it.
func (l *Lookup) URLID(ctx context.Context, shortCode string) (int64, error) {
	if v, ok := l.local.Get(shortCode); ok {
		return v.(int64), nil
	}

	if l.cache != nil {
		if entry, err := l.cache.GetLink(ctx, shortCode); err == nil {
			l.local.SetDefault(shortCode, entry.ID)
			return entry.ID, nil
		}
	}

	link, err := l.store.GetLinkByCode(ctx, shortCode)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("lookup %s: %w", shortCode, err)
	}
	l.local.SetDefault(shortCode, link.ID)
	return link.ID, nil
}

// Forget drops a code from the in-process cache.
func (l *Lookup) Forget(shortCode string) {
	l.local.Delete(shortCode)
}

// Purge forgets shortCode. It lets a link mutation evict the code here through
// the same fan-out that purges the edge.
func (l *Lookup) Purge(_ context.Context, shortCode string) error {
	l.Forget(shortCode)
	return nil
}
