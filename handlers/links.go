package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"link-redirect-service/links"
	"link-redirect-service/models"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 64 << 10

type CreateLinkRequest struct {
	OriginalURL string            `json:"original_url"`
	ShortCode   string            `json:"short_code,omitempty"`
	Password    string            `json:"password,omitempty"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	QROptions   *models.QROptions `json:"qr_code_options,omitempty"`
}

type UpdateLinkRequest struct {
	OriginalURL    *string    `json:"original_url,omitempty"`
	Password       *string    `json:"password,omitempty"`
	RemovePassword bool       `json:"remove_password,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	ClearExpiry    bool       `json:"clear_expiry,omitempty"`
	IsActive       *bool      `json:"is_active,omitempty"`
}

type LinkResponse struct {
	*models.Link
	ShortURL string `json:"short_url"`
}

func newLinkResponse(link *models.Link, baseURL string) LinkResponse {
	return LinkResponse{Link: link, ShortURL: strings.TrimRight(baseURL, "/") + "/s/" + link.ShortCode}
}

// CreateLink handles POST /api/urls
func CreateLink(svc *links.Service, baseURL string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateLinkRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		link, err := svc.Create(r.Context(), links.CreateInput{
			OriginalURL: req.OriginalURL,
			CustomCode:  req.ShortCode,
			Password:    req.Password,
			ExpiresAt:   req.ExpiresAt,
			QROptions:   req.QROptions,
		})
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}

		logger.Info("link created", "code", link.ShortCode, "protected", link.PasswordProtected)
		writeJSON(w, http.StatusCreated, newLinkResponse(link, baseURL))
	}
}

// GetLink handles GET /api/urls/{shortCode}
func GetLink(svc *links.Service, baseURL string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		link, err := svc.Get(r.Context(), chi.URLParam(r, "shortCode"))
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, newLinkResponse(link, baseURL))
	}
}

// UpdateLink handles PATCH /api/urls/{shortCode}
func UpdateLink(svc *links.Service, baseURL string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateLinkRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		link, err := svc.Update(r.Context(), chi.URLParam(r, "shortCode"), links.UpdateInput{
			OriginalURL:    req.OriginalURL,
			Password:       req.Password,
			RemovePassword: req.RemovePassword,
			ExpiresAt:      req.ExpiresAt,
			ClearExpiry:    req.ClearExpiry,
			IsActive:       req.IsActive,
		})
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, newLinkResponse(link, baseURL))
	}
}

// SetQROptions handles PUT /api/urls/{shortCode}/qr-options. A JSON null
// clears the options.
func SetQROptions(svc *links.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var opts *models.QROptions
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&opts); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		shortCode := chi.URLParam(r, "shortCode")
		if err := svc.SetQROptions(r.Context(), shortCode, opts); err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"short_code": shortCode, "qr_code_options": opts})
	}
}

// DeleteLink handles DELETE /api/urls/{shortCode}
func DeleteLink(svc *links.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shortCode := chi.URLParam(r, "shortCode")
		if err := svc.Delete(r.Context(), shortCode); err != nil {
			writeDomainError(w, logger, err)
			return
		}
		logger.Info("link deleted", "code", shortCode)
		w.WriteHeader(http.StatusNoContent)
	}
}
