package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"link-redirect-service/models"
	"link-redirect-service/workers"

	"golang.org/x/crypto/bcrypt"
)

// DefaultMinVerifyDuration is the floor for every Verify call.
const DefaultMinVerifyDuration = 500 * time.Millisecond

// VerifyRequest is one password submission for a short code.
type VerifyRequest struct {
	ShortCode string
	Password  string
	EventType models.EventType
	UserAgent string
}

// VerifyResult is the JSON body returned on a successful unlock.
type VerifyResult struct {
	OriginalURL string `json:"original_url"`
	ShortCode   string `json:"short_code"`
}

// PasswordGate checks passwords for protected links. Every call takes at
// least MinDuration whatever the outcome, and a missing link still costs one
// bcrypt comparison, so neither timing nor work reveals whether a code exists
// or how far the check got.
type PasswordGate struct {
	store       Store
	clicks      ClickSink
	logger      *slog.Logger
	minDuration time.Duration
	dummyHash   []byte
	now         func() time.Time
}

// PasswordGateConfig tunes NewPasswordGate. Zero values take the defaults.
type PasswordGateConfig struct {
	MinDuration time.Duration
	// BcryptCost of the dummy hash. Should match the cost of stored hashes.
	BcryptCost int
}

// NewPasswordGate hashes the dummy password up front, so it costs one bcrypt run.
func NewPasswordGate(store Store, clicks ClickSink, cfg PasswordGateConfig, logger *slog.Logger) (*PasswordGate, error) {
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = DefaultMinVerifyDuration
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to build dummy hash: %w", err)
	}
	return &PasswordGate{
		store:       store,
		clicks:      clicks,
		logger:      logger,
		minDuration: cfg.MinDuration,
		dummyHash:   dummy,
		now:         time.Now,
	}, nil
}

// Verify returns the destination when the password matches. Failures are
// models.ErrNotFound, models.ErrExpired, models.ErrNotProtected,
// models.ErrInvalidSecret or a store error.
func (g *PasswordGate) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	start := time.Now()
	res, err := g.verify(ctx, req)
	g.pad(ctx, start)
	return res, err
}

func (g *PasswordGate) verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	link, err := g.store.GetActiveLinkByCode(ctx, req.ShortCode)
	if err != nil {
		g.burn(req.Password)
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		g.logger.Error("password check lookup failed", "code", req.ShortCode, "error", err)
		return nil, err
	}

	if link.IsExpired(g.now()) {
		g.burn(req.Password)
		return nil, models.ErrExpired
	}
	if !link.PasswordProtected {
		g.burn(req.Password)
		return nil, models.ErrNotProtected
	}
	if link.PasswordHash == nil {
		g.burn(req.Password)
		g.logger.Error("protected link without password hash", "code", req.ShortCode)
		return nil, models.ErrInvalidSecret
	}

	if err := bcrypt.CompareHashAndPassword([]byte(*link.PasswordHash), []byte(req.Password)); err != nil {
		return nil, models.ErrInvalidSecret
	}

	eventType := req.EventType
	if !eventType.Valid() {
		eventType = models.EventLinkClick
	}
	g.clicks.Dispatch(workers.NewClickEvent(link.ID, eventType, req.UserAgent, g.now()))

	return &VerifyResult{OriginalURL: link.OriginalURL, ShortCode: link.ShortCode}, nil
}

// burn spends one comparison against the dummy hash.
func (g *PasswordGate) burn(password string) {
	_ = bcrypt.CompareHashAndPassword(g.dummyHash, []byte(password))
}

func (g *PasswordGate) pad(ctx context.Context, start time.Time) {
	remaining := g.minDuration - time.Since(start)
	if remaining <= 0 {
		return
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
