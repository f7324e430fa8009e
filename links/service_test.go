package links

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"link-redirect-service/models"
	"link-redirect-service/testutils"
	"link-redirect-service/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// steps records the order in which invalidation side effects happen.
type steps struct {
	mu  sync.Mutex
	log []string
}

func (s *steps) add(step string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, step)
}

func (s *steps) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

// observingCache checks the store state at the moment the cache is invalidated.
type observingCache struct {
	steps *steps
	store *testutils.FakeStore
	err   error
	urls  []string
}

func (c *observingCache) DeleteLink(ctx context.Context, code string) error {
	c.steps.add("cache")
	if link, err := c.store.GetLinkByCode(ctx, code); err == nil {
		c.urls = append(c.urls, link.OriginalURL)
	} else {
		c.urls = append(c.urls, "<gone>")
	}
	return c.err
}

type stepPurger struct {
	steps *steps
	err   error
}

func (p *stepPurger) Purge(context.Context, string) error {
	p.steps.add("edge")
	return p.err
}

type fixture struct {
	svc    *Service
	store  *testutils.FakeStore
	cache  *observingCache
	purger *stepPurger
	steps  *steps
}

func newFixture(gen Generator) *fixture {
	st := &steps{}
	store := testutils.NewFakeStore()
	cache := &observingCache{steps: st, store: store}
	purger := &stepPurger{steps: st}
	if gen == nil {
		gen = utils.NewCodeGenerator(6)
	}
	svc := NewService(store, cache, purger, gen, Config{MaxAttempts: 10, BcryptCost: bcrypt.MinCost}, testutils.DiscardLogger())
	return &fixture{svc: svc, store: store, cache: cache, purger: purger, steps: st}
}

func TestCreate_Generated(t *testing.T) {
	f := newFixture(nil)

	link, err := f.svc.Create(context.Background(), CreateInput{OriginalURL: "https://example.com/path"})
	require.NoError(t, err)
	assert.Len(t, link.ShortCode, 6)
	assert.True(t, link.IsActive)
	assert.False(t, link.PasswordProtected)
	assert.NotZero(t, link.ID)
	assert.Empty(t, f.steps.all(), "creation needs no invalidation")
}

func TestCreate_CustomCode(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	link, err := f.svc.Create(ctx, CreateInput{OriginalURL: "https://example.com", CustomCode: "my-link"})
	require.NoError(t, err)
	assert.Equal(t, "my-link", link.ShortCode)

	_, err = f.svc.Create(ctx, CreateInput{OriginalURL: "https://example.com", CustomCode: "my-link"})
	assert.ErrorIs(t, err, models.ErrCodeExists)
	assert.Equal(t, 2, f.store.CreateCalls, "custom code conflicts are not retried")

	_, err = f.svc.Create(ctx, CreateInput{OriginalURL: "https://example.com", CustomCode: "bad code"})
	assert.True(t, models.IsValidation(err))
}

func TestCreate_ExhaustsTinyCodeSpace(t *testing.T) {
	gen := &utils.CodeGenerator{Alphabet: "0123456789", Length: 1}
	f := newFixture(gen)
	for i := 0; i < 10; i++ {
		f.store.Seed(models.Link{ShortCode: strconv.Itoa(i), OriginalURL: "https://example.com", IsActive: true})
	}

	_, err := f.svc.Create(context.Background(), CreateInput{OriginalURL: "https://example.com"})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrCodeGenerationFailed)
	assert.EqualError(t, err, "failed to generate unique code")
	assert.Equal(t, 10, f.store.CreateCalls)
}

// sequenceGen hands out codes in order.
type sequenceGen struct{ codes []string }

func (g *sequenceGen) Generate() (string, error) {
	c := g.codes[0]
	g.codes = g.codes[1:]
	return c, nil
}

func TestCreate_RetriesOnCollision(t *testing.T) {
	f := newFixture(&sequenceGen{codes: []string{"taken1", "taken2", "free01"}})
	f.store.Seed(models.Link{ShortCode: "taken1", OriginalURL: "https://example.com", IsActive: true})
	f.store.Seed(models.Link{ShortCode: "taken2", OriginalURL: "https://example.com", IsActive: true})

	link, err := f.svc.Create(context.Background(), CreateInput{OriginalURL: "https://example.org"})
	require.NoError(t, err)
	assert.Equal(t, "free01", link.ShortCode)
	assert.Equal(t, 3, f.store.CreateCalls)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	for _, raw := range []string{"http://127.0.0.1/", "http://169.254.169.254/latest", "ftp://example.com", "http://10.0.0.5:6379"} {
		_, err := f.svc.Create(ctx, CreateInput{OriginalURL: raw})
		assert.True(t, models.IsValidation(err), raw)
	}

	past := time.Now().Add(-time.Hour)
	_, err := f.svc.Create(ctx, CreateInput{OriginalURL: "https://example.com", ExpiresAt: &past})
	assert.True(t, models.IsValidation(err))

	assert.Zero(t, f.store.CreateCalls)
}

func TestCreate_PasswordIsHashed(t *testing.T) {
	f := newFixture(nil)

	link, err := f.svc.Create(context.Background(), CreateInput{OriginalURL: "https://example.com", Password: "s3cret"})
	require.NoError(t, err)
	assert.True(t, link.PasswordProtected)
	require.NotNil(t, link.PasswordHash)
	assert.NotEqual(t, "s3cret", *link.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(*link.PasswordHash), []byte("s3cret")))
}

func TestUpdate_InvalidatesInOrder(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	f.store.Seed(models.Link{ShortCode: "abc123", OriginalURL: "https://old.example.com", IsActive: true})

	newURL := "https://new.example.com"
	link, err := f.svc.Update(ctx, "abc123", UpdateInput{OriginalURL: &newURL})
	require.NoError(t, err)
	assert.Equal(t, newURL, link.OriginalURL)

	assert.Equal(t, []string{"cache", "edge"}, f.steps.all())
	assert.Equal(t, []string{newURL}, f.cache.urls, "store write lands before the cache delete")
}

func TestUpdate_InvalidationFailureIsNotFatal(t *testing.T) {
	f := newFixture(nil)
	f.store.Seed(models.Link{ShortCode: "abc123", OriginalURL: "https://old.example.com", IsActive: true})
	f.cache.err = models.ErrCacheUnavailable
	f.purger.err = errors.New("edge down")

	newURL := "https://new.example.com"
	_, err := f.svc.Update(context.Background(), "abc123", UpdateInput{OriginalURL: &newURL})
	require.NoError(t, err)
	assert.Equal(t, []string{"cache", "edge"}, f.steps.all(), "edge purge still runs after a cache failure")
}

func TestUpdate_PasswordAndExpiry(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	f.store.Seed(models.Link{ShortCode: "abc123", OriginalURL: "https://example.com", IsActive: true})

	pw := "hunter2"
	exp := time.Now().Add(24 * time.Hour)
	link, err := f.svc.Update(ctx, "abc123", UpdateInput{Password: &pw, ExpiresAt: &exp})
	require.NoError(t, err)
	assert.True(t, link.PasswordProtected)
	assert.NotNil(t, link.PasswordHash)
	assert.NotNil(t, link.ExpiresAt)

	link, err = f.svc.Update(ctx, "abc123", UpdateInput{RemovePassword: true, ClearExpiry: true})
	require.NoError(t, err)
	assert.False(t, link.PasswordProtected)
	assert.Nil(t, link.PasswordHash)
	assert.Nil(t, link.ExpiresAt)

	empty := ""
	_, err = f.svc.Update(ctx, "abc123", UpdateInput{Password: &empty})
	assert.True(t, models.IsValidation(err))

	unsafe := "http://localhost:8080/admin"
	_, err = f.svc.Update(ctx, "abc123", UpdateInput{OriginalURL: &unsafe})
	assert.True(t, models.IsValidation(err))
}

func TestSetActive(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	f.store.Seed(models.Link{ShortCode: "abc123", OriginalURL: "https://example.com", IsActive: true})

	link, err := f.svc.SetActive(ctx, "abc123", false)
	require.NoError(t, err)
	assert.False(t, link.IsActive)

	_, err = f.store.GetActiveLinkByCode(ctx, "abc123")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, []string{"cache", "edge"}, f.steps.all())
}

func TestSetQROptions(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	f.store.Seed(models.Link{ShortCode: "abc123", OriginalURL: "https://example.com", IsActive: true})

	size := 512
	require.NoError(t, f.svc.SetQROptions(ctx, "abc123", &models.QROptions{Size: &size}))
	got, err := f.svc.Get(ctx, "abc123")
	require.NoError(t, err)
	require.NotNil(t, got.QROptions)
	assert.Equal(t, 512, *got.QROptions.Size)
	assert.Equal(t, []string{"cache", "edge"}, f.steps.all())

	assert.ErrorIs(t, f.svc.SetQROptions(ctx, "missing", nil), models.ErrNotFound)
}

func TestDelete(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	f.store.Seed(models.Link{ShortCode: "abc123", OriginalURL: "https://example.com", IsActive: true})

	require.NoError(t, f.svc.Delete(ctx, "abc123"))
	assert.Equal(t, []string{"<gone>"}, f.cache.urls)

	_, err := f.svc.Get(ctx, "abc123")
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.ErrorIs(t, f.svc.Delete(ctx, "abc123"), models.ErrNotFound)
	assert.Equal(t, []string{"cache", "edge"}, f.steps.all(), "failed deletes do not invalidate")
}
