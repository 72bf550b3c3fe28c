package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MinKeyLength is the minimum HMAC key size in bytes.
const MinKeyLength = 32

var (
	// ErrTokenExpired is returned for a well-formed token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid covers every other verification failure: malformed
	// input, bad signature, unexpected algorithm, issuer or audience mismatch.
	ErrTokenInvalid = errors.New("token invalid")
)

// claims is the wire form of an issued token.
type claims struct {
	jwt.RegisteredClaims
	InternalID string `json:"iid"`
	ClientID   string `json:"client_id,omitempty"`
	Scope      string `json:"scope,omitempty"`
}

// TokenManager issues and verifies HS256 bearer tokens.
type TokenManager struct {
	key      []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures a TokenManager.
type Option func(*TokenManager)

// WithClock overrides the time source used for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(tm *TokenManager) {
		tm.now = now
	}
}

// WithLogger sets the logger used to report verification failures.
func WithLogger(logger *zap.Logger) Option {
	return func(tm *TokenManager) {
		tm.logger = logger
	}
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(key []byte, issuer, audience string, ttl time.Duration, opts ...Option) (*TokenManager, error) {
	if len(key) < MinKeyLength {
		return nil, fmt.Errorf("signing key must be at least %d bytes", MinKeyLength)
	}
	if issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if audience == "" {
		return nil, errors.New("audience is required")
	}
	if ttl <= 0 {
		return nil, errors.New("TTL must be positive")
	}

	tm := &TokenManager{
		key:      append([]byte(nil), key...),
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(tm)
	}

	return tm, nil
}

// TTL returns the default lifetime of tokens created by CreateToken.
func (tm *TokenManager) TTL() time.Duration {
	return tm.ttl
}

// CreateToken issues a first-party bearer token for an identity.
func (tm *TokenManager) CreateToken(subject, internalID string) (string, time.Time, error) {
	token, info, err := tm.GenerateToken(TokenClaims{
		Subject:    subject,
		InternalID: internalID,
		TTL:        tm.ttl,
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return token, info.ExpiresAt, nil
}

// GenerateToken generates a signed token with the specified claims
func (tm *TokenManager) GenerateToken(tc TokenClaims) (string, *TokenInfo, error) {
	if err := tc.Validate(); err != nil {
		return "", nil, err
	}

	now := tm.now()
	expiresAt := now.Add(tc.TTL)
	jti := uuid.NewString()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tm.issuer,
			Subject:   tc.Subject,
			Audience:  jwt.ClaimStrings{tm.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
		InternalID: tc.InternalID,
		ClientID:   tc.ClientID,
		Scope:      strings.Join(tc.Scopes, " "),
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(tm.key)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, toTokenInfo(&c), nil
}

// VerifyToken validates a token and returns its claims. Expired tokens yield
// ErrTokenExpired, anything else ErrTokenInvalid.
func (tm *TokenManager) VerifyToken(tokenString string) (*TokenInfo, error) {
	if tokenString == "" {
		return nil, ErrTokenInvalid
	}

	c := &claims{}
	token, err := jwt.ParseWithClaims(tokenString, c, func(token *jwt.Token) (interface{}, error) {
		return tm.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tm.issuer),
		jwt.WithAudience(tm.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			tm.logger.Debug("bearer token expired", zap.String("sub", c.Subject))
			return nil, ErrTokenExpired
		}
		tm.logger.Debug("bearer token rejected", zap.Error(err))
		return nil, ErrTokenInvalid
	}

	if !token.Valid || c.Subject == "" || c.ID == "" {
		tm.logger.Debug("bearer token missing required claims")
		return nil, ErrTokenInvalid
	}

	return toTokenInfo(c), nil
}

// SubjectFromToken returns the subject of a fully verified token, or "".
func (tm *TokenManager) SubjectFromToken(tokenString string) string {
	info, err := tm.VerifyToken(tokenString)
	if err != nil {
		return ""
	}
	return info.Subject
}

// InternalIDFromToken returns the internal identity id of a fully verified
// token, or "" when verification fails or the embedded id is not a UUID.
func (tm *TokenManager) InternalIDFromToken(tokenString string) string {
	info, err := tm.VerifyToken(tokenString)
	if err != nil {
		return ""
	}
	id, err := uuid.Parse(info.InternalID)
	if err != nil {
		tm.logger.Warn("verified token carries malformed internal id", zap.String("sub", info.Subject))
		return ""
	}
	return id.String()
}

func toTokenInfo(c *claims) *TokenInfo {
	info := &TokenInfo{
		Subject:    c.Subject,
		InternalID: c.InternalID,
		Issuer:     c.Issuer,
		Audience:   []string(c.Audience),
		JTI:        c.ID,
		ClientID:   c.ClientID,
	}
	if c.IssuedAt != nil {
		info.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		info.ExpiresAt = c.ExpiresAt.Time
	}
	if c.Scope != "" {
		info.Scopes = strings.Fields(c.Scope)
	}
	return info
}
