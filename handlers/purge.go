package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// CacheDeleter drops one application cache entry.
type CacheDeleter interface {
	DeleteLink(ctx context.Context, shortCode string) error
}

// PurgeCache handles GET /purge/s/{shortCode}. It clears the application
// cache entry so the next miss rebuilds it from the store.
func PurgeCache(cache CacheDeleter, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shortCode := chi.URLParam(r, "shortCode")

		if err := cache.DeleteLink(r.Context(), shortCode); err != nil {
			logger.Error("purge failed", "code", shortCode, "error", err)
			writeError(w, http.StatusServiceUnavailable, "Cache unavailable")
			return
		}

		logger.Info("cache purged", "code", shortCode)
		writeJSON(w, http.StatusOK, map[string]string{"purged": shortCode})
	}
}
