// Package resolver turns a short code into a redirect decision.
//
// A lookup goes cache, then store on a miss. An unusable cache (down, slow,
// undecodable) counts as a miss, so Redis can fail without failing
// redirects. Expiry and password gates are applied to whichever copy was
// found, and an open link emits one click through the dispatcher without
// waiting for it.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"link-redirect-service/models"
	"link-redirect-service/utils"
	"link-redirect-service/workers"
)

// Cache is the application cache as seen by the resolver.
type Cache interface {
	GetLink(ctx context.Context, shortCode string) (*models.CacheEntry, error)
	SetLink(ctx context.Context, entry *models.CacheEntry) error
}

// Store is the authoritative lookup used on a cache miss.
type Store interface {
	GetActiveLinkByCode(ctx context.Context, shortCode string) (*models.Link, error)
}

// ClickSink accepts inline clicks without blocking.
type ClickSink interface {
	Dispatch(event models.ClickEvent) bool
}

// Request is one redirect attempt as seen by the HTTP layer.
type Request struct {
	ShortCode string
	EventType models.EventType
	UserAgent string
}

// OutcomeKind says which page or response a resolution leads to.
type OutcomeKind int

const (
	OutcomeRedirect OutcomeKind = iota
	OutcomePasswordRequired
	OutcomeExpired
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRedirect:
		return "redirect"
	case OutcomePasswordRequired:
		return "password_required"
	case OutcomeExpired:
		return "expired"
	}
	return "unknown"
}

// Outcome is a terminal resolution. NotFound and store failures are errors.
type Outcome struct {
	Kind        OutcomeKind
	ShortCode   string
	OriginalURL string     // set for OutcomeRedirect
	ExpiresAt   *time.Time // set for OutcomeExpired
	QR          bool       // set for OutcomePasswordRequired
}

// Stats is a snapshot of the resolver counters since start.
type Stats struct {
	Hits        int64 `json:"cache_hits"`
	Misses      int64 `json:"cache_misses"`
	CacheErrors int64 `json:"cache_errors"`
	NotFound    int64 `json:"not_found"`
	Redirects   int64 `json:"redirects"`
	Protected   int64 `json:"password_prompts"`
	Expired     int64 `json:"expired"`
}

// Resolver is safe for concurrent use.
type Resolver struct {
	cache  Cache
	store  Store
	clicks ClickSink
	logger *slog.Logger
	now    func() time.Time

	// store reads that take this long or longer are not cached
	populateWindow time.Duration

	hits        atomic.Int64
	misses      atomic.Int64
	cacheErrors atomic.Int64
	notFound    atomic.Int64
	redirects   atomic.Int64
	protected   atomic.Int64
	expired     atomic.Int64
}

// New returns a Resolver reading through cache to store and queueing clicks
// on clicks.
func New(cache Cache, store Store, clicks ClickSink, logger *slog.Logger) *Resolver {
	return &Resolver{
		cache:          cache,
		store:          store,
		clicks:         clicks,
		logger:         logger,
		now:            time.Now,
		populateWindow: models.MaxPopulateDelay,
	}
}

// Resolve runs the redirect state machine for one request. It returns
// models.ErrNotFound for unknown, malformed or inactive codes and an error
// wrapping models.ErrStoreUnavailable when the store cannot answer.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Outcome, error) {
	if !utils.IsValidShortCode(req.ShortCode) {
		r.notFound.Add(1)
		return Outcome{}, models.ErrNotFound
	}

	entry, err := r.lookup(ctx, req.ShortCode)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			r.notFound.Add(1)
		}
		return Outcome{}, err
	}

	if entry.IsExpired(r.now()) {
		r.expired.Add(1)
		return Outcome{Kind: OutcomeExpired, ShortCode: entry.ShortCode, ExpiresAt: entry.ExpiresAt}, nil
	}

	if entry.PasswordProtected {
		r.protected.Add(1)
		return Outcome{
			Kind:      OutcomePasswordRequired,
			ShortCode: entry.ShortCode,
			QR:        req.EventType == models.EventQRScan,
		}, nil
	}

	eventType := req.EventType
	if !eventType.Valid() {
		eventType = models.EventLinkClick
	}
	r.clicks.Dispatch(workers.NewClickEvent(entry.ID, eventType, req.UserAgent, r.now()))
	r.redirects.Add(1)

	return Outcome{Kind: OutcomeRedirect, ShortCode: entry.ShortCode, OriginalURL: entry.OriginalURL}, nil
}

func (r *Resolver) lookup(ctx context.Context, shortCode string) (*models.CacheEntry, error) {
	entry, err := r.cache.GetLink(ctx, shortCode)
	switch {
	case err == nil:
		r.hits.Add(1)
		return entry, nil
	case errors.Is(err, models.ErrCacheMiss):
		r.misses.Add(1)
	default:
		r.cacheErrors.Add(1)
		r.logger.Warn("cache unavailable, falling back to store", "code", shortCode, "error", err)
	}

	readStart := time.Now()
	link, err := r.store.GetActiveLinkByCode(ctx, shortCode)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		r.logger.Error("store lookup failed", "code", shortCode, "error", err)
		if errors.Is(err, models.ErrStoreUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
	}

	entry = link.CacheEntry()
	// A slow read may predate an invalidation whose fence has already lapsed.
	if elapsed := time.Since(readStart); elapsed >= r.populateWindow {
		r.logger.Warn("store read too slow to cache", "code", shortCode, "elapsed", elapsed)
		return entry, nil
	}
	if err := r.cache.SetLink(ctx, entry); err != nil {
		r.logger.Warn("failed to populate cache", "code", shortCode, "error", err)
	}
	return entry, nil
}

// Stats returns the current counters.
func (r *Resolver) Stats() Stats {
	return Stats{
		Hits:        r.hits.Load(),
		Misses:      r.misses.Load(),
		CacheErrors: r.cacheErrors.Load(),
		NotFound:    r.notFound.Load(),
		Redirects:   r.redirects.Load(),
		Protected:   r.protected.Load(),
		Expired:     r.expired.Load(),
	}
}
