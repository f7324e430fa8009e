package testutils

import (
	"context"
	"sync"
	"time"

	"link-redirect-service/models"

	"github.com/google/uuid"
)

// FakeCache is an in-memory application cache. Setting Err makes every
// operation fail with it, which simulates an unreachable Redis. Deletes fence
// the code for models.InvalidationFence like the Redis cache does.
type FakeCache struct {
	mu      sync.Mutex
	entries map[string]models.CacheEntry
	fences  map[string]time.Time

	Err error

	Gets    int
	Sets    int
	Deletes int
}

func NewFakeCache() *FakeCache {
	return &FakeCache{
		entries: make(map[string]models.CacheEntry),
		fences:  make(map[string]time.Time),
	}
}

func (c *FakeCache) GetLink(_ context.Context, shortCode string) (*models.CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gets++
	if c.Err != nil {
		return nil, c.Err
	}
	entry, ok := c.entries[shortCode]
	if !ok {
		return nil, models.ErrCacheMiss
	}
	return &entry, nil
}

func (c *FakeCache) SetLink(_ context.Context, entry *models.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sets++
	if c.Err != nil {
		return c.Err
	}
	if until, ok := c.fences[entry.ShortCode]; ok && time.Now().Before(until) {
		return nil
	}
	c.entries[entry.ShortCode] = *entry
	return nil
}

func (c *FakeCache) DeleteLink(_ context.Context, shortCode string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Deletes++
	if c.Err != nil {
		return c.Err
	}
	c.fences[shortCode] = time.Now().Add(models.InvalidationFence)
	delete(c.entries, shortCode)
	return nil
}

func (c *FakeCache) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Err
}

// Has reports whether an entry is cached for shortCode.
func (c *FakeCache) Has(shortCode string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[shortCode]
	return ok
}

// Put seeds an entry directly, bypassing counters.
func (c *FakeCache) Put(entry models.CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.ShortCode] = entry
}

// FakeStore is an in-memory authoritative store with the same contract as
// db.PostgresDB: duplicate codes fail with ErrCodeExists and click inserts are
// idempotent per event ID.
type FakeStore struct {
	mu     sync.Mutex
	links  map[string]*models.Link
	nextID int64
	clicks []models.ClickEvent
	seen   map[uuid.UUID]bool

	// Err fails every read and write. RecordErr fails only RecordClicks.
	Err       error
	RecordErr error

	Reads       int
	CreateCalls int
	RecordCalls int
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		links: make(map[string]*models.Link),
		seen:  make(map[uuid.UUID]bool),
	}
}

// Seed inserts link as is, assigning an ID when missing, and returns a copy.
func (s *FakeStore) Seed(link models.Link) models.Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	if link.ID == 0 {
		s.nextID++
		link.ID = s.nextID
	} else if link.ID > s.nextID {
		s.nextID = link.ID
	}
	now := time.Now()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = now
	}
	link.UpdatedAt = now
	stored := link
	s.links[link.ShortCode] = &stored
	return link
}

func (s *FakeStore) GetActiveLinkByCode(ctx context.Context, shortCode string) (*models.Link, error) {
	link, err := s.GetLinkByCode(ctx, shortCode)
	if err != nil {
		return nil, err
	}
	if !link.IsActive {
		return nil, models.ErrNotFound
	}
	return link, nil
}

func (s *FakeStore) GetLinkByCode(_ context.Context, shortCode string) (*models.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reads++
	if s.Err != nil {
		return nil, s.Err
	}
	link, ok := s.links[shortCode]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *link
	return &cp, nil
}

func (s *FakeStore) CreateLink(_ context.Context, link *models.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CreateCalls++
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.links[link.ShortCode]; ok {
		return models.ErrCodeExists
	}
	s.nextID++
	link.ID = s.nextID
	link.CreatedAt = time.Now()
	link.UpdatedAt = link.CreatedAt
	stored := *link
	s.links[link.ShortCode] = &stored
	return nil
}

func (s *FakeStore) UpdateLink(_ context.Context, link *models.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for code, existing := range s.links {
		if existing.ID == link.ID {
			link.UpdatedAt = time.Now()
			stored := *link
			stored.ShortCode = code
			s.links[code] = &stored
			return nil
		}
	}
	return models.ErrNotFound
}

func (s *FakeStore) SetQROptions(_ context.Context, shortCode string, opts *models.QROptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	link, ok := s.links[shortCode]
	if !ok {
		return models.ErrNotFound
	}
	link.QROptions = opts
	link.UpdatedAt = time.Now()
	return nil
}

func (s *FakeStore) DeleteLink(_ context.Context, shortCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	link, ok := s.links[shortCode]
	if !ok {
		return models.ErrNotFound
	}
	delete(s.links, shortCode)

	kept := s.clicks[:0]
	for _, c := range s.clicks {
		if c.URLID != link.ID {
			kept = append(kept, c)
		}
	}
	s.clicks = kept
	return nil
}

func (s *FakeStore) RecordClicks(_ context.Context, events []models.ClickEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RecordCalls++
	if s.Err != nil {
		return s.Err
	}
	if s.RecordErr != nil {
		return s.RecordErr
	}
	live := make(map[int64]bool, len(s.links))
	for _, l := range s.links {
		live[l.ID] = true
	}
	for _, e := range events {
		// clicks for deleted links are dropped, as the store does
		if s.seen[e.ID] || !live[e.URLID] {
			continue
		}
		s.seen[e.ID] = true
		s.clicks = append(s.clicks, e)
	}
	return nil
}

func (s *FakeStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Err
}

// Clicks returns a snapshot of recorded click events.
func (s *FakeStore) Clicks() []models.ClickEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ClickEvent, len(s.clicks))
	copy(out, s.clicks)
	return out
}

// ClickCount counts recorded clicks of one type for a link.
func (s *FakeStore) ClickCount(urlID int64, eventType models.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.clicks {
		if c.URLID == urlID && c.EventType == eventType {
			n++
		}
	}
	return n
}

// SetError swaps the failure injected into every operation.
func (s *FakeStore) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}

// SetRecordError swaps the failure injected into RecordClicks.
func (s *FakeStore) SetRecordError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RecordErr = err
}

// ReadCount returns how many lookups reached the store.
func (s *FakeStore) ReadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Reads
}

// SetError swaps the failure injected into every cache operation.
func (c *FakeCache) SetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Err = err
}

// DeleteCount returns how many deletes were attempted.
func (c *FakeCache) DeleteCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Deletes
}
