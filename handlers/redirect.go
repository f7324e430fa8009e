package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"link-redirect-service/models"
	"link-redirect-service/resolver"
	"link-redirect-service/utils"

	"github.com/go-chi/chi/v5"
)

// Redirect handles GET /s/{shortCode}. The click, when there is one, is
// queued by the resolver and written after the response.
func Redirect(res *resolver.Resolver, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shortCode := chi.URLParam(r, "shortCode")
		qr := utils.ParseQRFlag(r.URL.Query().Get("qr"))

		outcome, err := res.Resolve(r.Context(), resolver.Request{
			ShortCode: shortCode,
			EventType: models.EventTypeForQR(qr),
			UserAgent: r.UserAgent(),
		})
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				writeError(w, http.StatusNotFound, "Link not found")
				return
			}
			logger.Error("redirect failed", "code", shortCode, "error", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		switch outcome.Kind {
		case resolver.OutcomeRedirect:
			w.Header().Set("Location", outcome.OriginalURL)
			w.WriteHeader(http.StatusFound)
		case resolver.OutcomePasswordRequired:
			if err := renderPasswordPage(w, outcome.ShortCode, outcome.QR); err != nil {
				logger.Error("failed to render password page", "code", shortCode, "error", err)
			}
		case resolver.OutcomeExpired:
			if err := renderExpiredPage(w, outcome.ExpiresAt); err != nil {
				logger.Error("failed to render expired page", "code", shortCode, "error", err)
			}
		}
	}
}
