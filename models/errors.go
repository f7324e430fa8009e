package models

import "errors"

var (
	// ErrNotFound means the code is absent or the link is inactive.
	ErrNotFound = errors.New("link not found")
	// ErrExpired means the link exists but its expiry has passed.
	ErrExpired = errors.New("link expired")
	// ErrNotProtected is returned when verifying a password on an open link.
	ErrNotProtected = errors.New("link is not password protected")
	// ErrInvalidSecret is returned for a wrong password. Carries no detail.
	ErrInvalidSecret = errors.New("invalid password")
	// ErrCodeExists signals a unique constraint violation on short_code.
	ErrCodeExists = errors.New("short code already exists")
	// ErrCodeGenerationFailed is returned once the generation retry budget is spent.
	ErrCodeGenerationFailed = errors.New("failed to generate unique code")

	ErrCacheMiss        = errors.New("cache miss")
	ErrCacheUnavailable = errors.New("cache unavailable")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ValidationError reports rejected input such as an unsafe destination URL
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
