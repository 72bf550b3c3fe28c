package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/dlddu/gim-auth/internal/jwt"
	"github.com/dlddu/gim-auth/internal/metrics"
)

// Hasher defines the interface for client secret hashing operations
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(hash, secret string) error
}

// TokenIssuer signs and verifies bearer tokens
type TokenIssuer interface {
	GenerateToken(tc jwt.TokenClaims) (string, *jwt.TokenInfo, error)
	VerifyToken(token string) (*jwt.TokenInfo, error)
}

// Blocklist records revoked token ids until their natural expiry
type Blocklist interface {
	Add(tokenID string, naturalExpiry time.Time)
	IsBlocked(tokenID string) bool
}

// Limiter admits or denies a request from an IP
type Limiter interface {
	IsAllowed(ip string) bool
	Name() string
}

// Option configures the services in this package.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	now        func() time.Time
	metrics    *metrics.Metrics
	identities IdentityLookup
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithMetrics sets the metrics sink. Without it nothing is recorded.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithIdentityLookup makes the Verifier reject tokens whose identity is no
// longer active.
func WithIdentityLookup(identities IdentityLookup) Option {
	return func(o *options) {
		o.identities = identities
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}
