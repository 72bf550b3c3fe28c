package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dlddu/gim-auth/internal/auth"
	"github.com/dlddu/gim-auth/internal/domain"
	"github.com/dlddu/gim-auth/internal/jwt"
	"github.com/dlddu/gim-auth/internal/service"
)

// OAuthProvider is the authorization server behind the OAuth endpoints
type OAuthProvider interface {
	RegisterClient(ctx context.Context, reg service.ClientRegistration) (*service.RegisteredClient, error)
	Authorize(ctx context.Context, req service.AuthorizationRequest) (*service.AuthorizationResponse, error)
	ExchangeCode(ctx context.Context, req service.ExchangeRequest) (*service.TokenResponse, error)
	Refresh(ctx context.Context, req service.RefreshRequest) (*service.TokenResponse, error)
	Revoke(ctx context.Context, req service.RevocationRequest) error
	Metadata() service.ServerMetadata
}

// TokenVerifier authenticates bearer tokens
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*jwt.TokenInfo, error)
}

// RateLimiter is a per-IP admission budget
type RateLimiter interface {
	IsAllowed(ip string) bool
	RetryAfter(ip string) time.Duration
	Name() string
}

// registrationResponse is the RFC 7591 client information response
type registrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientSecretExpiresAt   *int64   `json:"client_secret_expires_at,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// OAuthHandler serves the authorization server endpoints
type OAuthHandler struct {
	provider OAuthProvider
	logger   *zap.Logger
}

// NewOAuthHandler creates a new OAuthHandler
func NewOAuthHandler(provider OAuthProvider, logger *zap.Logger) *OAuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OAuthHandler{provider: provider, logger: logger}
}

// Metadata serves the RFC 8414 discovery document
func (h *OAuthHandler) Metadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, h.provider.Metadata())
}

// Register handles dynamic client registration
func (h *OAuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), h.logger)

	var reg service.ClientRegistration
	if err := decodeJSON(w, r, &reg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_client_metadata", "request body must be a JSON object")
		return
	}

	registered, err := h.provider.RegisterClient(r.Context(), reg)
	if err != nil {
		writeOAuthError(w, logger, err)
		return
	}

	c := registered.Client
	resp := registrationResponse{
		ClientID:                c.ClientID,
		ClientSecret:            registered.ClientSecret,
		ClientIDIssuedAt:        c.CreatedAt.Unix(),
		ClientName:              c.ClientName,
		RedirectURIs:            c.RedirectURIs,
		GrantTypes:              c.GrantTypes,
		ResponseTypes:           []string{"code"},
		Scope:                   strings.Join(c.Scopes, " "),
		TokenEndpointAuthMethod: c.TokenEndpointAuthMethod,
	}
	if registered.ClientSecret != "" {
		never := int64(0)
		resp.ClientSecretExpiresAt = &never
	}

	noStore(w)
	writeJSON(w, http.StatusCreated, resp)
}

// Authorize handles the authorization endpoint. The caller must hold a
// first-party bearer token; its subject is the identity granting access.
func (h *OAuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), h.logger)

	claims, ok := ClaimsFromContext(r.Context())
	if !ok || claims.ClientID != "" {
		// Tokens issued to OAuth clients cannot grant further authorizations.
		writeUnauthenticated(w)
		return
	}

	q := r.URL.Query()
	resp, err := h.provider.Authorize(r.Context(), service.AuthorizationRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		Subject:             claims.Subject,
		InternalID:          claims.InternalID,
	})
	if err != nil {
		h.authorizeError(w, r, logger, err)
		return
	}

	params := url.Values{"code": {resp.Code}}
	if resp.State != "" {
		params.Set("state", resp.State)
	}
	redirect(w, r, resp.RedirectURI, params)
}

func (h *OAuthHandler) authorizeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	if errors.Is(err, service.ErrUnauthenticated) {
		writeUnauthenticated(w)
		return
	}

	var ae *service.AuthorizeError
	if !errors.As(err, &ae) {
		writeInternal(w, logger, err)
		return
	}

	if ae.RedirectURI == "" {
		// The redirect URI is not trusted, so the error goes to the user agent.
		writeError(w, http.StatusBadRequest, ae.Code, ae.Description)
		return
	}

	params := url.Values{"error": {ae.Code}}
	if ae.Description != "" {
		params.Set("error_description", ae.Description)
	}
	if ae.State != "" {
		params.Set("state", ae.State)
	}
	redirect(w, r, ae.RedirectURI, params)
}

func redirect(w http.ResponseWriter, r *http.Request, base string, params url.Values) {
	u, err := url.Parse(base)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "redirect_uri is malformed")
		return
	}
	q := u.Query()
	for k, v := range params {
		q[k] = v
	}
	u.RawQuery = q.Encode()

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, u.String(), http.StatusFound)
}

// Token handles the token endpoint for the authorization_code and
// refresh_token grants.
func (h *OAuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), h.logger)
	noStore(w)

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse form data")
		return
	}

	grantType := r.PostForm.Get("grant_type")
	if grantType == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing grant_type parameter")
		return
	}
	if grantType != domain.GrantTypeAuthorizationCode && grantType != domain.GrantTypeRefreshToken {
		writeOAuthError(w, logger, service.NewUnsupportedGrantTypeError("grant_type "+grantType+" is not supported"))
		return
	}

	creds, err := auth.ExtractClientCredentials(r)
	if err != nil {
		writeOAuthError(w, logger, service.NewInvalidClientError("client authentication failed"))
		return
	}

	var resp *service.TokenResponse
	switch grantType {
	case domain.GrantTypeAuthorizationCode:
		resp, err = h.provider.ExchangeCode(r.Context(), service.ExchangeRequest{
			Code:         r.PostForm.Get("code"),
			RedirectURI:  r.PostForm.Get("redirect_uri"),
			CodeVerifier: r.PostForm.Get("code_verifier"),
			Client:       creds,
		})
	case domain.GrantTypeRefreshToken:
		resp, err = h.provider.Refresh(r.Context(), service.RefreshRequest{
			RefreshToken: r.PostForm.Get("refresh_token"),
			Scope:        r.PostForm.Get("scope"),
			Client:       creds,
		})
	}
	if err != nil {
		writeOAuthError(w, logger, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Revoke handles RFC 7009 token revocation
func (h *OAuthHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), h.logger)
	noStore(w)

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse form data")
		return
	}

	creds, err := auth.ExtractClientCredentials(r)
	if err != nil {
		writeOAuthError(w, logger, service.NewInvalidClientError("client authentication failed"))
		return
	}

	err = h.provider.Revoke(r.Context(), service.RevocationRequest{
		Token:         r.PostForm.Get("token"),
		TokenTypeHint: r.PostForm.Get("token_type_hint"),
		Client:        creds,
	})
	if err != nil {
		writeOAuthError(w, logger, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}
