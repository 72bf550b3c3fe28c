package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dlddu/gim-auth/internal/domain"
	"github.com/dlddu/gim-auth/internal/ratelimit"
	"github.com/dlddu/gim-auth/internal/service"
)

// IdentityService manages pseudonymous identities and their bearer tokens
type IdentityService interface {
	Register(ctx context.Context, ip, description string, metadata map[string]string) (*service.IssuedIdentity, error)
	ExchangeBearer(ctx context.Context, publicID string) (*service.BearerToken, error)
	Get(ctx context.Context, internalID string) (*domain.Identity, error)
	RecordUse(ctx context.Context, internalID string, kind domain.UsageKind) error
}

type createIdentityRequest struct {
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
}

type createIdentityResponse struct {
	PublicID    string `json:"public_id"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type bearerExchangeRequest struct {
	PublicID string `json:"public_id"`
}

type whoamiResponse struct {
	Subject          string     `json:"sub"`
	ClientID         string     `json:"client_id,omitempty"`
	Scopes           []string   `json:"scopes,omitempty"`
	ExpiresAt        time.Time  `json:"expires_at"`
	Status           string     `json:"status,omitempty"`
	CreatedAt        *time.Time `json:"created_at,omitempty"`
	DailySearches    int        `json:"daily_searches"`
	DailySubmissions int        `json:"daily_submissions"`
	TotalSearches    int64      `json:"total_searches"`
	TotalSubmissions int64      `json:"total_submissions"`
}

// IdentityHandler serves the first-party identity endpoints
type IdentityHandler struct {
	identities IdentityService
	ips        *ratelimit.IPExtractor
	// limiter is consulted only for Retry-After; the service enforces it.
	limiter RateLimiter
	logger  *zap.Logger
}

// NewIdentityHandler creates a new IdentityHandler
func NewIdentityHandler(identities IdentityService, ips *ratelimit.IPExtractor, limiter RateLimiter, logger *zap.Logger) *IdentityHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityHandler{identities: identities, ips: ips, limiter: limiter, logger: logger}
}

// Create registers a new identity and returns its first bearer token
func (h *IdentityHandler) Create(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), h.logger)

	var req createIdentityRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be a JSON object")
		return
	}

	ip := h.ips.ClientIP(r)
	issued, err := h.identities.Register(r.Context(), ip, req.Description, req.Metadata)
	switch {
	case errors.Is(err, service.ErrRateLimited):
		var retry time.Duration
		if h.limiter != nil {
			retry = h.limiter.RetryAfter(ip)
		}
		logger.Warn("identity creation rate limited", zap.String("ip", ip))
		writeRateLimited(w, retry)
		return
	case errors.Is(err, service.ErrInvalidIdentityMetadata):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	case err != nil:
		writeInternal(w, logger, err)
		return
	}

	noStore(w)
	writeJSON(w, http.StatusCreated, createIdentityResponse{
		PublicID:    issued.Identity.PublicID,
		AccessToken: issued.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   issued.ExpiresIn,
	})
}

// ExchangeToken issues a fresh bearer token for an identity's public id
func (h *IdentityHandler) ExchangeToken(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), h.logger)

	var req bearerExchangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be a JSON object")
		return
	}

	token, err := h.identities.ExchangeBearer(r.Context(), req.PublicID)
	if err != nil {
		if errors.Is(err, service.ErrUnauthenticated) {
			writeUnauthenticated(w)
			return
		}
		writeInternal(w, logger, err)
		return
	}

	noStore(w)
	writeJSON(w, http.StatusOK, token)
}

// WhoAmI returns the verified claims of the caller and its usage counters
func (h *IdentityHandler) WhoAmI(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), h.logger)

	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}

	resp := whoamiResponse{
		Subject:   claims.Subject,
		ClientID:  claims.ClientID,
		Scopes:    claims.Scopes,
		ExpiresAt: claims.ExpiresAt,
	}

	identity, err := h.identities.Get(r.Context(), claims.InternalID)
	if err != nil {
		writeInternal(w, logger, err)
		return
	}
	resp.Status = string(identity.Status)
	resp.CreatedAt = &identity.CreatedAt
	resp.DailySearches = identity.DailySearches
	resp.DailySubmissions = identity.DailySubmissions
	resp.TotalSearches = identity.TotalSearches
	resp.TotalSubmissions = identity.TotalSubmissions

	writeJSON(w, http.StatusOK, resp)
}

// RecordUsage counts a successful request toward the caller's usage of kind.
// It must run after RequireBearer.
func (h *IdentityHandler) RecordUsage(kind domain.UsageKind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			claims, ok := ClaimsFromContext(r.Context())
			if !ok || sw.Status() >= http.StatusBadRequest {
				return
			}
			if err := h.identities.RecordUse(r.Context(), claims.InternalID, kind); err != nil {
				loggerFrom(r.Context(), h.logger).Warn("failed to record usage",
					zap.String("sub", claims.Subject),
					zap.String("kind", string(kind)),
					zap.Error(err),
				)
			}
		})
	}
}
