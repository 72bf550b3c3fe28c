package domain

import (
	"time"
)

// IdentityStatus is the lifecycle state of an Identity.
type IdentityStatus string

const (
	IdentityActive    IdentityStatus = "active"
	IdentitySuspended IdentityStatus = "suspended"
	IdentityRevoked   IdentityStatus = "revoked"
)

// CanTransitionTo reports whether s may change to next. Revocation is final.
func (s IdentityStatus) CanTransitionTo(next IdentityStatus) bool {
	switch s {
	case IdentityActive:
		return next == IdentitySuspended || next == IdentityRevoked || next == IdentityActive
	case IdentitySuspended:
		return next == IdentityActive || next == IdentityRevoked || next == IdentitySuspended
	case IdentityRevoked:
		return next == IdentityRevoked
	}
	return false
}

// UsageKind classifies an authenticated operation for usage accounting.
type UsageKind string

const (
	UsageSearch     UsageKind = "search"
	UsageSubmission UsageKind = "submission"
)

// Identity represents one pseudonymous caller of the knowledge base
type Identity struct {
	ID               string            `json:"id"`
	PublicID         string            `json:"public_id"`
	Status           IdentityStatus    `json:"status"`
	Description      string            `json:"description,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	DailySearches    int               `json:"daily_searches"`
	DailySubmissions int               `json:"daily_submissions"`
	DailyResetAt     time.Time         `json:"daily_reset_at"`
	TotalSearches    int64             `json:"total_searches"`
	TotalSubmissions int64             `json:"total_submissions"`
	CreatedAt        time.Time         `json:"created_at"`
	LastUsedAt       *time.Time        `json:"last_used_at,omitempty"`
}

// IsActive reports whether the identity may authenticate.
func (i *Identity) IsActive() bool {
	return i.Status == IdentityActive
}

// RecordUse applies one use of kind at now, rolling the daily counters over
// once a day has passed since DailyResetAt.
func (i *Identity) RecordUse(kind UsageKind, now time.Time) {
	if now.Sub(i.DailyResetAt) >= 24*time.Hour {
		i.DailySearches = 0
		i.DailySubmissions = 0
		i.DailyResetAt = now
	}

	switch kind {
	case UsageSearch:
		i.DailySearches++
		i.TotalSearches++
	case UsageSubmission:
		i.DailySubmissions++
		i.TotalSubmissions++
	}

	used := now
	i.LastUsedAt = &used
}

// Token endpoint authentication methods (RFC 7591).
const (
	AuthMethodNone              = "none"
	AuthMethodClientSecretBasic = "client_secret_basic"
	AuthMethodClientSecretPost  = "client_secret_post"
)

// Grant types accepted by the authorization server.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// Client represents an OAuth 2.1 client application
type Client struct {
	ClientID                string    `json:"client_id"`
	ClientSecretHash        string    `json:"-"`
	ClientName              string    `json:"client_name"`
	RedirectURIs            []string  `json:"redirect_uris"`
	GrantTypes              []string  `json:"grant_types"`
	Scopes                  []string  `json:"scopes"`
	TokenEndpointAuthMethod string    `json:"token_endpoint_auth_method"`
	IsConfidential          bool      `json:"is_confidential"`
	CreatedAt               time.Time `json:"created_at"`
}

// HasRedirectURI reports whether uri exactly matches a registered URI.
func (c *Client) HasRedirectURI(uri string) bool {
	return contains(c.RedirectURIs, uri)
}

// AllowsGrant reports whether the client may use grantType.
func (c *Client) AllowsGrant(grantType string) bool {
	return contains(c.GrantTypes, grantType)
}

// AllowsScopes reports whether every scope is registered for the client.
func (c *Client) AllowsScopes(scopes []string) bool {
	for _, s := range scopes {
		if !contains(c.Scopes, s) {
			return false
		}
	}
	return true
}

// AuthorizationCode represents a pending single-use authorization code
type AuthorizationCode struct {
	CodeHash            string     `json:"-"`
	ClientID            string     `json:"client_id"`
	Subject             string     `json:"sub"`
	InternalID          string     `json:"-"`
	RedirectURI         string     `json:"redirect_uri"`
	Scopes              []string   `json:"scopes"`
	CodeChallenge       string     `json:"-"`
	CodeChallengeMethod string     `json:"-"`
	IssuedAt            time.Time  `json:"issued_at"`
	ExpiresAt           time.Time  `json:"expires_at"`
	UsedAt              *time.Time `json:"used_at,omitempty"`
	FamilyID            string     `json:"-"`
}

// RefreshTokenState is the lifecycle state of a RefreshToken.
type RefreshTokenState string

const (
	RefreshActive  RefreshTokenState = "active"
	RefreshRotated RefreshTokenState = "rotated"
	RefreshRevoked RefreshTokenState = "revoked"
)

// RefreshToken represents a rotating OAuth refresh token
type RefreshToken struct {
	TokenHash  string            `json:"-"`
	FamilyID   string            `json:"family_id"`
	ClientID   string            `json:"client_id"`
	Subject    string            `json:"sub"`
	InternalID string            `json:"-"`
	Scopes     []string          `json:"scopes"`
	State      RefreshTokenState `json:"state"`
	IssuedAt   time.Time         `json:"issued_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
	ParentHash string            `json:"-"`
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
