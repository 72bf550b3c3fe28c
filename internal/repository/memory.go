package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dlddu/gim-auth/internal/domain"
)

// MemoryClientRepository keeps clients in a mutex-guarded map. It is used
// when no database is configured and in tests.
type MemoryClientRepository struct {
	mu      sync.RWMutex
	clients map[string]*domain.Client
}

// NewMemoryClientRepository creates an empty in-memory ClientRepository
func NewMemoryClientRepository() *MemoryClientRepository {
	return &MemoryClientRepository{clients: make(map[string]*domain.Client)}
}

// Create stores a copy of client
func (r *MemoryClientRepository) Create(_ context.Context, client *domain.Client) error {
	const op = "repository.memory.CreateClient"

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[client.ClientID]; ok {
		return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
	}
	r.clients[client.ClientID] = copyClient(client)
	return nil
}

// GetByClientID returns a copy of the stored client
func (r *MemoryClientRepository) GetByClientID(_ context.Context, clientID string) (*domain.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[clientID]
	if !ok {
		return nil, ErrClientNotFound
	}
	return copyClient(c), nil
}

// Delete removes a client; deleting an unknown client is not an error
func (r *MemoryClientRepository) Delete(_ context.Context, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, clientID)
	return nil
}

// MemoryIdentityRepository keeps identities in mutex-guarded maps.
type MemoryIdentityRepository struct {
	mu         sync.RWMutex
	byID       map[string]*domain.Identity
	byPublicID map[string]string
}

// NewMemoryIdentityRepository creates an empty in-memory IdentityRepository
func NewMemoryIdentityRepository() *MemoryIdentityRepository {
	return &MemoryIdentityRepository{
		byID:       make(map[string]*domain.Identity),
		byPublicID: make(map[string]string),
	}
}

// Create stores a copy of identity
func (r *MemoryIdentityRepository) Create(_ context.Context, identity *domain.Identity) error {
	const op = "repository.memory.CreateIdentity"

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[identity.ID]; ok {
		return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
	}
	if _, ok := r.byPublicID[identity.PublicID]; ok {
		return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
	}

	r.byID[identity.ID] = copyIdentity(identity)
	r.byPublicID[identity.PublicID] = identity.ID
	return nil
}

// GetByID returns a copy of the identity with the given internal id
func (r *MemoryIdentityRepository) GetByID(_ context.Context, id string) (*domain.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.byID[id]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return copyIdentity(identity), nil
}

// GetByPublicID returns a copy of the identity with the given public id
func (r *MemoryIdentityRepository) GetByPublicID(_ context.Context, publicID string) (*domain.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byPublicID[publicID]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return copyIdentity(r.byID[id]), nil
}

// UpdateStatus applies a status change if the transition is allowed
func (r *MemoryIdentityRepository) UpdateStatus(_ context.Context, id string, status domain.IdentityStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.byID[id]
	if !ok {
		return ErrIdentityNotFound
	}
	if !identity.Status.CanTransitionTo(status) {
		return ErrInvalidTransition
	}
	identity.Status = status
	return nil
}

// RecordUse updates usage counters and last-used time
func (r *MemoryIdentityRepository) RecordUse(_ context.Context, id string, kind domain.UsageKind, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.byID[id]
	if !ok {
		return ErrIdentityNotFound
	}
	identity.RecordUse(kind, now)
	return nil
}

func copyClient(c *domain.Client) *domain.Client {
	cp := *c
	cp.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	cp.GrantTypes = append([]string(nil), c.GrantTypes...)
	cp.Scopes = append([]string(nil), c.Scopes...)
	return &cp
}

func copyIdentity(i *domain.Identity) *domain.Identity {
	cp := *i
	if i.Metadata != nil {
		cp.Metadata = make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			cp.Metadata[k] = v
		}
	}
	if i.LastUsedAt != nil {
		t := *i.LastUsedAt
		cp.LastUsedAt = &t
	}
	return &cp
}
