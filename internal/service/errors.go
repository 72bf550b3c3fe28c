package service

import (
	"errors"
	"net/http"
)

var (
	// ErrUnauthenticated is returned for any missing, invalid, expired or
	// revoked credential. The cause is logged, never returned to callers.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrRateLimited is returned when an IP has exhausted its budget.
	ErrRateLimited = errors.New("rate_limit_exceeded")
)

// OAuthError represents an OAuth 2.1 error response
type OAuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Status      int    `json:"-"`
}

func (e *OAuthError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// Is matches another *OAuthError with the same code, so errors.Is(err,
// ErrInvalidGrant) works regardless of description.
func (e *OAuthError) Is(target error) bool {
	t, ok := target.(*OAuthError)
	return ok && t.Code == e.Code
}

func newOAuthError(code string, status int, description string) *OAuthError {
	return &OAuthError{Code: code, Description: description, Status: status}
}

// Sentinels for errors.Is comparisons
var (
	ErrInvalidRequest          = &OAuthError{Code: "invalid_request"}
	ErrInvalidClient           = &OAuthError{Code: "invalid_client"}
	ErrInvalidGrant            = &OAuthError{Code: "invalid_grant"}
	ErrUnauthorizedClient      = &OAuthError{Code: "unauthorized_client"}
	ErrUnsupportedGrantType    = &OAuthError{Code: "unsupported_grant_type"}
	ErrInvalidScope            = &OAuthError{Code: "invalid_scope"}
	ErrUnsupportedResponseType = &OAuthError{Code: "unsupported_response_type"}
	ErrInvalidRedirectURI      = &OAuthError{Code: "invalid_redirect_uri"}
	ErrInvalidClientMetadata   = &OAuthError{Code: "invalid_client_metadata"}
	ErrServerError             = &OAuthError{Code: "server_error"}
)

// OAuth 2.1 error constructors
func NewInvalidRequestError(description string) *OAuthError {
	return newOAuthError("invalid_request", http.StatusBadRequest, description)
}

func NewInvalidClientError(description string) *OAuthError {
	return newOAuthError("invalid_client", http.StatusUnauthorized, description)
}

func NewInvalidGrantError(description string) *OAuthError {
	return newOAuthError("invalid_grant", http.StatusBadRequest, description)
}

func NewUnauthorizedClientError(description string) *OAuthError {
	return newOAuthError("unauthorized_client", http.StatusBadRequest, description)
}

func NewUnsupportedGrantTypeError(description string) *OAuthError {
	return newOAuthError("unsupported_grant_type", http.StatusBadRequest, description)
}

func NewInvalidScopeError(description string) *OAuthError {
	return newOAuthError("invalid_scope", http.StatusBadRequest, description)
}

func NewUnsupportedResponseTypeError(description string) *OAuthError {
	return newOAuthError("unsupported_response_type", http.StatusBadRequest, description)
}

func NewInvalidRedirectURIError(description string) *OAuthError {
	return newOAuthError("invalid_redirect_uri", http.StatusBadRequest, description)
}

func NewInvalidClientMetadataError(description string) *OAuthError {
	return newOAuthError("invalid_client_metadata", http.StatusBadRequest, description)
}

func NewServerError(description string) *OAuthError {
	return newOAuthError("server_error", http.StatusInternalServerError, description)
}

// AsOAuthError returns err as an *OAuthError, converting anything else to
// server_error so internal details never reach the wire.
func AsOAuthError(err error) *OAuthError {
	var oe *OAuthError
	if errors.As(err, &oe) {
		if oe.Status == 0 {
			cp := *oe
			cp.Status = http.StatusBadRequest
			return &cp
		}
		return oe
	}
	return NewServerError("internal error")
}

// AuthorizeError is an authorization endpoint failure. When RedirectURI is
// set the error is delivered to the client by redirect, otherwise directly.
type AuthorizeError struct {
	*OAuthError
	RedirectURI string
	State       string
}

func (e *AuthorizeError) Unwrap() error {
	return e.OAuthError
}
