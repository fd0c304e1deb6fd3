package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	pkgErrors "CerberusPlatform/pkg/errors"
	"CerberusPlatform/services/auth-service/internal/middleware"
	"CerberusPlatform/services/auth-service/internal/service"
)

type createAPIKeyRequest struct {
	Name string `json:"name"`
}

func principalID(r *http.Request) (string, error) {
	principal, ok := service.PrincipalFrom(r.Context())
	if !ok {
		return "", pkgErrors.Unauthorized(middleware.MsgAuthorizationRequired)
	}
	return principal.UserID, nil
}

// CreateAPIKey POST /api-keys
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	userID, err := principalID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req createAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	created, err := h.apiKeys.Create(r.Context(), userID, req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ListAPIKeys GET /api-keys
func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	userID, err := principalID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	keys, err := h.apiKeys.List(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// RevokeAPIKey DELETE /api-keys/{id}
func (h *Handler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	userID, err := principalID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.apiKeys.Revoke(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "API key revoked"})
}
