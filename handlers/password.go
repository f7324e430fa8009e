package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"link-redirect-service/models"
	"link-redirect-service/resolver"
	"link-redirect-service/utils"

	"github.com/go-chi/chi/v5"
)

type verifyPasswordRequest struct {
	Password string `json:"password"`
	QR       bool   `json:"qr"`
}

// VerifyPassword handles POST /api/urls/{shortCode}/verify-password.
func VerifyPassword(gate *resolver.PasswordGate, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shortCode := chi.URLParam(r, "shortCode")

		var req verifyPasswordRequest
		body := http.MaxBytesReader(w, r.Body, 4<<10)
		if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Password == "" {
			writeError(w, http.StatusBadRequest, "Password is required")
			return
		}

		qr := req.QR || utils.ParseQRFlag(r.URL.Query().Get("qr"))

		result, err := gate.Verify(r.Context(), resolver.VerifyRequest{
			ShortCode: shortCode,
			Password:  req.Password,
			EventType: models.EventTypeForQR(qr),
			UserAgent: r.UserAgent(),
		})
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}
