package jwt

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// TokenClaims represents the claims used to generate a token
type TokenClaims struct {
	Subject    string        `json:"sub"`
	InternalID string        `json:"iid"`
	Scopes     []string      `json:"scopes,omitempty"`
	ClientID   string        `json:"client_id,omitempty"`
	TTL        time.Duration `json:"-"`
}

// Validate validates the token claims
func (tc TokenClaims) Validate() error {
	if tc.Subject == "" {
		return errors.New("subject is required")
	}
	if _, err := uuid.Parse(tc.InternalID); err != nil {
		return errors.New("internal id must be a UUID")
	}
	if tc.TTL <= 0 {
		return errors.New("TTL must be positive")
	}
	return nil
}

// TokenInfo represents the parsed and validated token information
type TokenInfo struct {
	Subject    string    `json:"sub"`
	InternalID string    `json:"iid"`
	Issuer     string    `json:"iss"`
	Audience   []string  `json:"aud,omitempty"`
	ExpiresAt  time.Time `json:"exp"`
	IssuedAt   time.Time `json:"iat"`
	JTI        string    `json:"jti"`
	Scopes     []string  `json:"scopes,omitempty"`
	ClientID   string    `json:"client_id,omitempty"`
}

// HasScope reports whether scope was granted to the token.
func (ti *TokenInfo) HasScope(scope string) bool {
	for _, s := range ti.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
