package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/dlddu/gim-auth/internal/jwt"
	"github.com/dlddu/gim-auth/internal/metrics"
)

// Verifier authenticates bearer tokens on protected requests: signature,
// expiry, issuer and audience first, then the blocklist.
type Verifier struct {
	tokens     TokenIssuer
	blocklist  Blocklist
	identities IdentityLookup
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewVerifier creates a new Verifier
func NewVerifier(tokens TokenIssuer, blocklist Blocklist, opts ...Option) *Verifier {
	o := buildOptions(opts)
	return &Verifier{
		tokens:     tokens,
		blocklist:  blocklist,
		identities: o.identities,
		logger:     o.logger,
		metrics:    o.metrics,
	}
}

// Verify returns the claims of a valid, unrevoked token or ErrUnauthenticated.
func (v *Verifier) Verify(ctx context.Context, token string) (*jwt.TokenInfo, error) {
	if token == "" {
		v.metrics.VerificationFailed("missing")
		return nil, ErrUnauthenticated
	}

	info, err := v.tokens.VerifyToken(token)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, jwt.ErrTokenExpired) {
			reason = "expired"
		}
		v.metrics.VerificationFailed(reason)
		return nil, ErrUnauthenticated
	}

	if v.blocklist.IsBlocked(info.JTI) {
		v.logger.Info("revoked token presented", zap.String("sub", info.Subject), zap.String("jti", info.JTI))
		v.metrics.VerificationFailed("revoked")
		return nil, ErrUnauthenticated
	}

	if v.identities != nil {
		identity, err := v.identities.GetByID(ctx, info.InternalID)
		if err != nil || !identity.IsActive() {
			v.logger.Info("token for inactive identity presented", zap.String("sub", info.Subject), zap.Error(err))
			v.metrics.VerificationFailed("inactive")
			return nil, ErrUnauthenticated
		}
	}

	return info, nil
}
