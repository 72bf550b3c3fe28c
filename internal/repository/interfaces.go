package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dlddu/gim-auth/internal/domain"
)

var (
	ErrClientNotFound    = errors.New("client not found")
	ErrIdentityNotFound  = errors.New("identity not found")
	ErrAlreadyExists     = errors.New("record already exists")
	ErrInvalidTransition = errors.New("invalid identity status transition")
)

// ClientRepository defines the interface for client data access
type ClientRepository interface {
	Create(ctx context.Context, client *domain.Client) error
	GetByClientID(ctx context.Context, clientID string) (*domain.Client, error)
	Delete(ctx context.Context, clientID string) error
}

// IdentityRepository defines the interface for identity data access.
// Identities are never deleted; revocation is a status change.
type IdentityRepository interface {
	Create(ctx context.Context, identity *domain.Identity) error
	GetByID(ctx context.Context, id string) (*domain.Identity, error)
	GetByPublicID(ctx context.Context, publicID string) (*domain.Identity, error)
	UpdateStatus(ctx context.Context, id string, status domain.IdentityStatus) error
	RecordUse(ctx context.Context, id string, kind domain.UsageKind, now time.Time) error
}
