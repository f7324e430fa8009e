package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"link-redirect-service/models"
	"link-redirect-service/utils"
	"link-redirect-service/workers"

	"github.com/go-chi/chi/v5"
)

// LinkIDResolver maps a short code to its link ID.
type LinkIDResolver interface {
	URLID(ctx context.Context, shortCode string) (int64, error)
}

// ClickSink accepts click events without blocking.
type ClickSink interface {
	Dispatch(event models.ClickEvent) bool
}

// TrackHit handles GET /api/internal/track/s/{shortCode}, the mirror request
// the edge sends for every cached redirect it serves. It must only be mounted
// when log reconciliation is off, otherwise each hit would be counted twice.
func TrackHit(ids LinkIDResolver, clicks ClickSink, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shortCode := chi.URLParam(r, "shortCode")
		if !utils.IsValidShortCode(shortCode) {
			writeError(w, http.StatusNotFound, "Link not found")
			return
		}

		urlID, err := ids.URLID(r.Context(), shortCode)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				writeError(w, http.StatusNotFound, "Link not found")
				return
			}
			logger.Error("track hit lookup failed", "code", shortCode, "error", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		eventType := models.EventTypeForQR(utils.ParseQRFlag(r.URL.Query().Get("qr")))
		if !clicks.Dispatch(workers.NewClickEvent(urlID, eventType, r.UserAgent(), time.Now().UTC())) {
			logger.Warn("click queue full, hook click dropped", "code", shortCode)
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
