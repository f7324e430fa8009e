// Package links implements link mutations. Every change to an existing link
// is followed by cache invalidation in a fixed order: the store write, then
// the application cache delete, then the edge purge. Invalidation is best
// effort; a failure is logged and the entry ages out with its TTL.
package links

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"link-redirect-service/edge"
	"link-redirect-service/models"
	"link-redirect-service/utils"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultMaxAttempts = 10
	invalidateTimeout  = 2 * time.Second
)

type Store interface {
	GetLinkByCode(ctx context.Context, shortCode string) (*models.Link, error)
	CreateLink(ctx context.Context, link *models.Link) error
	UpdateLink(ctx context.Context, link *models.Link) error
	SetQROptions(ctx context.Context, shortCode string, opts *models.QROptions) error
	DeleteLink(ctx context.Context, shortCode string) error
}

type Cache interface {
	DeleteLink(ctx context.Context, shortCode string) error
}

type Generator interface {
	Generate() (string, error)
}

type Config struct {
	MaxAttempts int
	BcryptCost  int
}

type Service struct {
	store       Store
	cache       Cache
	purger      edge.Purger
	gen         Generator
	maxAttempts int
	bcryptCost  int
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(store Store, cache Cache, purger edge.Purger, gen Generator, cfg Config, logger *slog.Logger) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if purger == nil {
		purger = edge.Noop{}
	}
	return &Service{
		store:       store,
		cache:       cache,
		purger:      purger,
		gen:         gen,
		maxAttempts: cfg.MaxAttempts,
		bcryptCost:  cfg.BcryptCost,
		logger:      logger,
		now:         time.Now,
	}
}

type CreateInput struct {
	OriginalURL string
	CustomCode  string // optional, never retried on conflict
	Password    string // optional, empty means unprotected
	ExpiresAt   *time.Time
	QROptions   *models.QROptions
}

// Create stores a new link. Generated codes are retried on collision up to the
// configured attempts, after which models.ErrCodeGenerationFailed is
// returned. A conflicting custom code fails with models.ErrCodeExists.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Link, error) {
	if err := utils.ValidateDestination(in.OriginalURL); err != nil {
		return nil, err
	}
	if in.CustomCode != "" && !utils.IsValidShortCode(in.CustomCode) {
		return nil, &models.ValidationError{Field: "short_code", Message: "must match [A-Za-z0-9_-]{1,50}"}
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(s.now()) {
		return nil, &models.ValidationError{Field: "expires_at", Message: "must be in the future"}
	}

	link := &models.Link{
		OriginalURL: in.OriginalURL,
		ExpiresAt:   in.ExpiresAt,
		IsActive:    true,
		QROptions:   in.QROptions,
	}
	if in.Password != "" {
		hash, err := s.hash(in.Password)
		if err != nil {
			return nil, err
		}
		link.PasswordProtected = true
		link.PasswordHash = &hash
	}

	if in.CustomCode != "" {
		link.ShortCode = in.CustomCode
		if err := s.store.CreateLink(ctx, link); err != nil {
			return nil, err
		}
		return link, nil
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		code, err := s.gen.Generate()
		if err != nil {
			return nil, fmt.Errorf("failed to generate code: %w", err)
		}
		link.ShortCode = code

		err = s.store.CreateLink(ctx, link)
		if err == nil {
			return link, nil
		}
		if !errors.Is(err, models.ErrCodeExists) {
			return nil, err
		}
		s.logger.Debug("short code collision", "code", code, "attempt", attempt)
	}

	s.logger.Warn("short code space exhausted", "attempts", s.maxAttempts)
	return nil, models.ErrCodeGenerationFailed
}

// Get returns the link regardless of its active flag.
func (s *Service) Get(ctx context.Context, shortCode string) (*models.Link, error) {
	if !utils.IsValidShortCode(shortCode) {
		return nil, models.ErrNotFound
	}
	return s.store.GetLinkByCode(ctx, shortCode)
}

// UpdateInput lists the fields to change. Nil pointers leave a field as is.
type UpdateInput struct {
	OriginalURL    *string
	Password       *string
	RemovePassword bool
	ExpiresAt      *time.Time
	ClearExpiry    bool
	IsActive       *bool
}

func (s *Service) Update(ctx context.Context, shortCode string, in UpdateInput) (*models.Link, error) {
	link, err := s.Get(ctx, shortCode)
	if err != nil {
		return nil, err
	}

	if in.OriginalURL != nil {
		if err := utils.ValidateDestination(*in.OriginalURL); err != nil {
			return nil, err
		}
		link.OriginalURL = *in.OriginalURL
	}

	switch {
	case in.RemovePassword:
		link.PasswordProtected = false
		link.PasswordHash = nil
	case in.Password != nil:
		if *in.Password == "" {
			return nil, &models.ValidationError{Field: "password", Message: "must not be empty"}
		}
		hash, err := s.hash(*in.Password)
		if err != nil {
			return nil, err
		}
		link.PasswordProtected = true
		link.PasswordHash = &hash
	}

	switch {
	case in.ClearExpiry:
		link.ExpiresAt = nil
	case in.ExpiresAt != nil:
		link.ExpiresAt = in.ExpiresAt
	}

	if in.IsActive != nil {
		link.IsActive = *in.IsActive
	}

	if err := s.store.UpdateLink(ctx, link); err != nil {
		return nil, err
	}
	s.invalidate(ctx, shortCode)
	return link, nil
}

// SetActive toggles the active flag; an inactive link resolves as not found.
func (s *Service) SetActive(ctx context.Context, shortCode string, active bool) (*models.Link, error) {
	return s.Update(ctx, shortCode, UpdateInput{IsActive: &active})
}

func (s *Service) SetQROptions(ctx context.Context, shortCode string, opts *models.QROptions) error {
	if !utils.IsValidShortCode(shortCode) {
		return models.ErrNotFound
	}
	if err := s.store.SetQROptions(ctx, shortCode, opts); err != nil {
		return err
	}
	s.invalidate(ctx, shortCode)
	return nil
}

func (s *Service) Delete(ctx context.Context, shortCode string) error {
	if !utils.IsValidShortCode(shortCode) {
		return models.ErrNotFound
	}
	if err := s.store.DeleteLink(ctx, shortCode); err != nil {
		return err
	}
	s.invalidate(ctx, shortCode)
	return nil
}

// invalidate runs after the store write has committed. It outlives the
// request context so a disconnecting client cannot skip it.
func (s *Service) invalidate(ctx context.Context, shortCode string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()

	if err := s.cache.DeleteLink(ctx, shortCode); err != nil {
		s.logger.Warn("cache invalidation failed", "code", shortCode, "error", err)
	}
	if err := s.purger.Purge(ctx, shortCode); err != nil {
		s.logger.Warn("edge purge failed", "code", shortCode, "error", err)
	}
}

func (s *Service) hash(password string) (string, error) {
	// bcrypt only looks at the first 72 bytes
	if len(password) > 72 {
		return "", &models.ValidationError{Field: "password", Message: "must be at most 72 bytes"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
