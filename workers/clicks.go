// Package workers attributes visits to links.
//
// Two producers feed one ClickRecorder. The Dispatcher records visits that
// reached the application (cache miss at the edge). The Reconciler records
// visits the edge cache answered by itself, read back from its access log as
// lines with cache status HIT. A visit is seen by exactly one producer: a HIT
// line never reaches the application, and a request that reached the
// application is logged by the edge as MISS, EXPIRED or BYPASS.
//
// The internal tracking hook is an alternative to the Reconciler for edges
// that mirror HIT requests to the application. Running both would count those
// visits twice, so the configuration only ever enables one of them.
package workers

import (
	"context"
	"time"

	"link-redirect-service/models"

	"github.com/google/uuid"
)

// ClickRecorder persists click events. Implementations ignore events whose ID
// is already stored.
type ClickRecorder interface {
	RecordClicks(ctx context.Context, events []models.ClickEvent) error
}

// LinkCache is the read side of the application cache used for code lookups.
type LinkCache interface {
	GetLink(ctx context.Context, shortCode string) (*models.CacheEntry, error)
}

// LinkStore is the read side of the authoritative store used for code lookups.
type LinkStore interface {
	GetLinkByCode(ctx context.Context, shortCode string) (*models.Link, error)
}

// NewClickEvent builds an inline click with a random ID.
func NewClickEvent(urlID int64, eventType models.EventType, userAgent string, at time.Time) models.ClickEvent {
	return models.ClickEvent{
		ID:        uuid.New(),
		URLID:     urlID,
		EventType: eventType,
		UserAgent: optionalUA(userAgent),
		ClickedAt: at.UTC(),
	}
}

func optionalUA(ua string) *string {
	if ua == "" || ua == "-" {
		return nil
	}
	return &ua
}
