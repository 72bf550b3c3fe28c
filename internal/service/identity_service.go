package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dlddu/gim-auth/internal/crypto"
	"github.com/dlddu/gim-auth/internal/domain"
	"github.com/dlddu/gim-auth/internal/metrics"
	"github.com/dlddu/gim-auth/internal/repository"
)

const (
	// PublicIDPrefix marks identity public ids.
	PublicIDPrefix = "gim_"
	publicIDBytes  = 32

	maxDescriptionLength = 500
	maxMetadataEntries   = 20
)

var (
	ErrInvalidIdentityMetadata = errors.New("invalid identity metadata")
	ErrIdentityRevoked         = errors.New("identity is revoked")
)

// BearerIssuer issues first-party bearer tokens for identities
type BearerIssuer interface {
	CreateToken(subject, internalID string) (string, time.Time, error)
	TTL() time.Duration
}

// IssuedIdentity is a newly created identity and its first bearer token
type IssuedIdentity struct {
	Identity    *domain.Identity
	AccessToken string
	ExpiresIn   int64
	ExpiresAt   time.Time
}

// BearerToken is a first-party bearer credential
type BearerToken struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	ExpiresAt   time.Time `json:"-"`
}

// IdentityService manages pseudonymous caller identities
type IdentityService struct {
	repo       repository.IdentityRepository
	tokens     BearerIssuer
	identityRL Limiter

	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewIdentityService creates a new IdentityService instance. identityLimiter
// gates Register.
func NewIdentityService(
	repo repository.IdentityRepository,
	tokens BearerIssuer,
	identityLimiter Limiter,
	opts ...Option,
) *IdentityService {
	o := buildOptions(opts)
	return &IdentityService{
		repo:       repo,
		tokens:     tokens,
		identityRL: identityLimiter,
		now:        o.now,
		logger:     o.logger,
		metrics:    o.metrics,
	}
}

// Register creates a new active identity for the caller at ip and issues its
// first bearer token. The identity limiter is consulted before anything is
// written.
func (s *IdentityService) Register(ctx context.Context, ip, description string, metadata map[string]string) (*IssuedIdentity, error) {
	const op = "service.identity.Register"

	if !s.identityRL.IsAllowed(ip) {
		s.metrics.RateLimited(s.identityRL.Name())
		return nil, ErrRateLimited
	}

	if len(description) > maxDescriptionLength {
		return nil, fmt.Errorf("%w: description exceeds %d characters", ErrInvalidIdentityMetadata, maxDescriptionLength)
	}
	if len(metadata) > maxMetadataEntries {
		return nil, fmt.Errorf("%w: at most %d metadata entries", ErrInvalidIdentityMetadata, maxMetadataEntries)
	}

	publicID, err := NewPublicID()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now().UTC()
	identity := &domain.Identity{
		ID:           uuid.NewString(),
		PublicID:     publicID,
		Status:       domain.IdentityActive,
		Description:  description,
		Metadata:     copyMetadata(metadata),
		DailyResetAt: now,
		CreatedAt:    now,
	}

	if err := s.repo.Create(ctx, identity); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	token, expiresAt, err := s.tokens.CreateToken(identity.PublicID, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.TokenIssued("identity")
	s.logger.Info("identity created", zap.String("public_id", identity.PublicID))

	return &IssuedIdentity{
		Identity:    identity,
		AccessToken: token,
		ExpiresIn:   int64(s.tokens.TTL().Seconds()),
		ExpiresAt:   expiresAt,
	}, nil
}

// ExchangeBearer issues a fresh bearer token for an active identity. Unknown,
// suspended and revoked identities are all ErrUnauthenticated.
func (s *IdentityService) ExchangeBearer(ctx context.Context, publicID string) (*BearerToken, error) {
	const op = "service.identity.ExchangeBearer"

	if publicID == "" {
		return nil, ErrUnauthenticated
	}

	identity, err := s.repo.GetByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, repository.ErrIdentityNotFound) {
			s.logger.Debug("bearer exchange for unknown identity")
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !identity.IsActive() {
		s.logger.Info("bearer exchange for inactive identity",
			zap.String("public_id", publicID),
			zap.String("status", string(identity.Status)),
		)
		return nil, ErrUnauthenticated
	}

	token, expiresAt, err := s.tokens.CreateToken(identity.PublicID, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.TokenIssued("bearer")
	return &BearerToken{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.tokens.TTL().Seconds()),
		ExpiresAt:   expiresAt,
	}, nil
}

// Get returns the identity with the given internal id.
func (s *IdentityService) Get(ctx context.Context, internalID string) (*domain.Identity, error) {
	return s.repo.GetByID(ctx, internalID)
}

// RecordUse counts one search or submission by the identity
func (s *IdentityService) RecordUse(ctx context.Context, internalID string, kind domain.UsageKind) error {
	const op = "service.identity.RecordUse"

	if kind != domain.UsageSearch && kind != domain.UsageSubmission {
		return fmt.Errorf("%s: unknown usage kind %q", op, kind)
	}
	if err := s.repo.RecordUse(ctx, internalID, kind, s.now().UTC()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Revoke permanently disables an identity
func (s *IdentityService) Revoke(ctx context.Context, publicID string) error {
	return s.setStatus(ctx, publicID, domain.IdentityRevoked)
}

// Suspend temporarily disables an identity
func (s *IdentityService) Suspend(ctx context.Context, publicID string) error {
	return s.setStatus(ctx, publicID, domain.IdentitySuspended)
}

// Reactivate restores a suspended identity. Revoked identities stay revoked.
func (s *IdentityService) Reactivate(ctx context.Context, publicID string) error {
	return s.setStatus(ctx, publicID, domain.IdentityActive)
}

func (s *IdentityService) setStatus(ctx context.Context, publicID string, status domain.IdentityStatus) error {
	const op = "service.identity.setStatus"

	identity, err := s.repo.GetByPublicID(ctx, publicID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.repo.UpdateStatus(ctx, identity.ID, status); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			return ErrIdentityRevoked
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if status == domain.IdentityRevoked {
		s.metrics.Revoked("identity")
	}
	s.logger.Info("identity status changed",
		zap.String("public_id", publicID),
		zap.String("from", string(identity.Status)),
		zap.String("to", string(status)),
	)
	return nil
}

// NewPublicID returns a fresh opaque identity public id.
func NewPublicID() (string, error) {
	secret, err := crypto.GenerateSecret(publicIDBytes)
	if err != nil {
		return "", err
	}
	return PublicIDPrefix + secret, nil
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
