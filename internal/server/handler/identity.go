package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sidestake/sidestake/internal/domain"
)

// IdentityService defines the methods that the identity handler requires
// from the service layer.
type IdentityService interface {
	UpsertIdentity(ctx context.Context, token, displayName string) (domain.Identity, error)
}

// IdentityHandler serves the identity registration endpoint.
type IdentityHandler struct {
	identities IdentityService
	logger     *slog.Logger
}

// NewIdentityHandler creates an IdentityHandler with the given service and logger.
func NewIdentityHandler(identities IdentityService, logger *slog.Logger) *IdentityHandler {
	return &IdentityHandler{
		identities: identities,
		logger:     logger,
	}
}

type upsertIdentityRequest struct {
	Token       string `json:"token"`
	DisplayName string `json:"displayName"`
}

type identityResponse struct {
	IdentityID  string `json:"identityId"`
	DisplayName string `json:"displayName"`
}

// UpsertIdentity registers or renames the identity bound to a token.
// POST /api/identity
func (h *IdentityHandler) UpsertIdentity(w http.ResponseWriter, r *http.Request) {
	var req upsertIdentityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ident, err := h.identities.UpsertIdentity(r.Context(), req.Token, req.DisplayName)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, identityResponse{
		IdentityID:  ident.ID,
		DisplayName: ident.DisplayName,
	})
}
