package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"link-redirect-service/models"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps service errors to status codes. Anything unknown is a
// 500 and gets logged; the client only sees a generic message.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Message, Field: verr.Field})
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "Link not found")
	case errors.Is(err, models.ErrExpired):
		writeError(w, http.StatusGone, "Link expired")
	case errors.Is(err, models.ErrNotProtected):
		writeError(w, http.StatusBadRequest, "Link is not password protected")
	case errors.Is(err, models.ErrInvalidSecret):
		writeError(w, http.StatusUnauthorized, "Invalid password")
	case errors.Is(err, models.ErrCodeExists):
		writeError(w, http.StatusConflict, "Short code already exists")
	case errors.Is(err, models.ErrCodeGenerationFailed):
		logger.Error("code generation exhausted", "error", err)
		writeError(w, http.StatusServiceUnavailable, models.ErrCodeGenerationFailed.Error())
	default:
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
