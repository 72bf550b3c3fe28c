package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dlddu/gim-auth/internal/domain"
)

type pgClientRepository struct {
	db DB
}

// NewClientRepository creates a new PostgreSQL-based ClientRepository
func NewClientRepository(db DB) ClientRepository {
	return &pgClientRepository{db: db}
}

// Create creates a new client in the database
func (r *pgClientRepository) Create(ctx context.Context, client *domain.Client) error {
	const op = "repository.postgres.CreateClient"

	query := `
		INSERT INTO oauth_clients (
			client_id, client_secret_hash, client_name,
			redirect_uris, grant_types, scopes,
			token_endpoint_auth_method, is_confidential, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Exec(
		ctx,
		query,
		client.ClientID,
		client.ClientSecretHash,
		client.ClientName,
		client.RedirectURIs,
		client.GrantTypes,
		client.Scopes,
		client.TokenEndpointAuthMethod,
		client.IsConfidential,
		client.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// GetByClientID retrieves a client by its client_id
func (r *pgClientRepository) GetByClientID(ctx context.Context, clientID string) (*domain.Client, error) {
	const op = "repository.postgres.GetClient"

	if clientID == "" {
		return nil, ErrClientNotFound
	}

	query := `
		SELECT
			client_id, client_secret_hash, client_name,
			redirect_uris, grant_types, scopes,
			token_endpoint_auth_method, is_confidential, created_at
		FROM oauth_clients
		WHERE client_id = $1
	`

	client := &domain.Client{}
	err := r.db.QueryRow(ctx, query, clientID).Scan(
		&client.ClientID,
		&client.ClientSecretHash,
		&client.ClientName,
		&client.RedirectURIs,
		&client.GrantTypes,
		&client.Scopes,
		&client.TokenEndpointAuthMethod,
		&client.IsConfidential,
		&client.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return client, nil
}

// Delete removes a client from the database
func (r *pgClientRepository) Delete(ctx context.Context, clientID string) error {
	const op = "repository.postgres.DeleteClient"

	if _, err := r.db.Exec(ctx, `DELETE FROM oauth_clients WHERE client_id = $1`, clientID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
