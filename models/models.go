package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Link represents a short link record as stored in the urls table
type Link struct {
	ID                int64      `json:"id"`
	ShortCode         string     `json:"short_code"`
	OriginalURL       string     `json:"original_url"`
	PasswordProtected bool       `json:"password_protected"`
	PasswordHash      *string    `json:"-"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	IsActive          bool       `json:"is_active"`
	QROptions         *QROptions `json:"qr_code_options,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// IsExpired reports whether the link has an expiry in the past relative to now.
func (l *Link) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

// CacheEntry returns the redirect-decision projection stored in the application cache.
func (l *Link) CacheEntry() *CacheEntry {
	return &CacheEntry{
		ID:                l.ID,
		ShortCode:         l.ShortCode,
		OriginalURL:       l.OriginalURL,
		PasswordProtected: l.PasswordProtected,
		PasswordHash:      l.PasswordHash,
		ExpiresAt:         l.ExpiresAt,
	}
}

// A cache delete fences its key for InvalidationFence: writes to it are
// dropped. Store reads older than MaxPopulateDelay are never written back, so a
// read that started before an invalidation can only land inside the fence.
const (
	InvalidationFence = 5 * time.Second
	MaxPopulateDelay  = 2 * time.Second
)

// CacheEntry is the subset of a Link needed to answer a redirect decision.
// It is derived data: always reproducible from the store.
type CacheEntry struct {
	ID                int64      `json:"id"`
	ShortCode         string     `json:"short_code"`
	OriginalURL       string     `json:"original_url"`
	PasswordProtected bool       `json:"password_protected"`
	PasswordHash      *string    `json:"password_hash,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
}

// IsExpired reports whether the cached link has expired at now.
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// EventType identifies how a visit reached the link
type EventType string

const (
	EventLinkClick EventType = "link_click"
	EventQRScan    EventType = "qr_scan"
	EventAdView    EventType = "ad_view"
	EventAdClick   EventType = "ad_click"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventLinkClick, EventQRScan, EventAdView, EventAdClick:
		return true
	}
	return false
}

// EventTypeForQR maps the qr flag of a visit to its event type.
func EventTypeForQR(qr bool) EventType {
	if qr {
		return EventQRScan
	}
	return EventLinkClick
}

// ClickEvent represents one attributed visit
type ClickEvent struct {
	ID        uuid.UUID `json:"id"`
	URLID     int64     `json:"url_id"`
	EventType EventType `json:"event_type"`
	UserAgent *string   `json:"user_agent,omitempty"`
	ClickedAt time.Time `json:"clicked_at"`
}

// QROptions is the QR rendering configuration attached to a link. This service
// never interprets it; fields are optional and unknown keys survive a round trip.
type QROptions struct {
	Size            *int    `json:"size,omitempty"`
	Margin          *int    `json:"margin,omitempty"`
	ForegroundColor *string `json:"foreground_color,omitempty"`
	BackgroundColor *string `json:"background_color,omitempty"`
	ErrorCorrection *string `json:"error_correction,omitempty"`
	LogoURL         *string `json:"logo_url,omitempty"`

	// Extra holds keys this version does not know about.
	Extra map[string]json.RawMessage `json:"-"`
}

var qrKnownKeys = map[string]bool{
	"size":             true,
	"margin":           true,
	"foreground_color": true,
	"background_color": true,
	"error_correction": true,
	"logo_url":         true,
}

type qrOptionsAlias QROptions

func (o *QROptions) UnmarshalJSON(data []byte) error {
	var known qrOptionsAlias
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	*o = QROptions(known)
	for k, v := range all {
		if qrKnownKeys[k] {
			continue
		}
		if o.Extra == nil {
			o.Extra = make(map[string]json.RawMessage)
		}
		o.Extra[k] = v
	}
	return nil
}

func (o QROptions) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(qrOptionsAlias(o))
	if err != nil {
		return nil, err
	}
	if len(o.Extra) == 0 {
		return known, nil
	}
	merged := make(map[string]json.RawMessage, len(o.Extra)+len(qrKnownKeys))
	for k, v := range o.Extra {
		merged[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}
