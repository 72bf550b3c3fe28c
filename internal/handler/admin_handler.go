package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dlddu/gim-auth/internal/auth"
	"github.com/dlddu/gim-auth/internal/crypto"
	"github.com/dlddu/gim-auth/internal/repository"
	"github.com/dlddu/gim-auth/internal/service"
)

// IdentityAdmin changes the status of identities
type IdentityAdmin interface {
	Revoke(ctx context.Context, publicID string) error
	Suspend(ctx context.Context, publicID string) error
	Reactivate(ctx context.Context, publicID string) error
}

// AdminHandler serves the administrative identity endpoints
type AdminHandler struct {
	identities IdentityAdmin
	logger     *zap.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(identities IdentityAdmin, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{identities: identities, logger: logger}
}

// ChangeStatus applies the {action} in the path to the identity {public_id}.
func (h *AdminHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), h.logger)
	publicID := chi.URLParam(r, "public_id")
	action := chi.URLParam(r, "action")

	var apply func(context.Context, string) error
	switch action {
	case "revoke":
		apply = h.identities.Revoke
	case "suspend":
		apply = h.identities.Suspend
	case "reactivate":
		apply = h.identities.Reactivate
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown action")
		return
	}

	err := apply(r.Context(), publicID)
	switch {
	case errors.Is(err, repository.ErrIdentityNotFound):
		writeError(w, http.StatusNotFound, "not_found", "unknown identity")
		return
	case errors.Is(err, service.ErrIdentityRevoked):
		writeError(w, http.StatusConflict, "identity_revoked", err.Error())
		return
	case err != nil:
		writeInternal(w, logger, err)
		return
	}

	logger.Info("admin identity action",
		zap.String("public_id", publicID),
		zap.String("action", action),
	)
	w.WriteHeader(http.StatusNoContent)
}

// RequireAdmin admits only requests bearing the configured admin token.
func RequireAdmin(token string) func(http.Handler) http.Handler {
	want := crypto.HashToken(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, err := auth.BearerToken(r.Header.Get("Authorization"))
			if err != nil || subtle.ConstantTimeCompare([]byte(crypto.HashToken(got)), []byte(want)) != 1 {
				writeUnauthenticated(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
