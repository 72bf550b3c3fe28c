package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dlddu/gim-auth/internal/domain"
)

type pgIdentityRepository struct {
	db DB
}

// NewIdentityRepository creates a new PostgreSQL-based IdentityRepository
func NewIdentityRepository(db DB) IdentityRepository {
	return &pgIdentityRepository{db: db}
}

const identityColumns = `
	id, public_id, status, description, metadata,
	daily_searches, daily_submissions, daily_reset_at,
	total_searches, total_submissions, created_at, last_used_at
`

// Create creates a new identity in the database
func (r *pgIdentityRepository) Create(ctx context.Context, identity *domain.Identity) error {
	const op = "repository.postgres.CreateIdentity"

	metadata := identity.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	query := `INSERT INTO identities (` + identityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.Exec(
		ctx,
		query,
		identity.ID,
		identity.PublicID,
		string(identity.Status),
		identity.Description,
		metadata,
		identity.DailySearches,
		identity.DailySubmissions,
		identity.DailyResetAt,
		identity.TotalSearches,
		identity.TotalSubmissions,
		identity.CreatedAt,
		identity.LastUsedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// GetByID retrieves an identity by its internal id
func (r *pgIdentityRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	return r.getBy(ctx, "repository.postgres.GetIdentityByID", "id", id)
}

// GetByPublicID retrieves an identity by its public id
func (r *pgIdentityRepository) GetByPublicID(ctx context.Context, publicID string) (*domain.Identity, error) {
	return r.getBy(ctx, "repository.postgres.GetIdentityByPublicID", "public_id", publicID)
}

func (r *pgIdentityRepository) getBy(ctx context.Context, op, column, value string) (*domain.Identity, error) {
	if value == "" {
		return nil, ErrIdentityNotFound
	}

	// column is always a literal from the two getters above.
	query := `SELECT ` + identityColumns + ` FROM identities WHERE ` + column + ` = $1`

	var (
		identity domain.Identity
		status   string
	)
	err := r.db.QueryRow(ctx, query, value).Scan(
		&identity.ID,
		&identity.PublicID,
		&status,
		&identity.Description,
		&identity.Metadata,
		&identity.DailySearches,
		&identity.DailySubmissions,
		&identity.DailyResetAt,
		&identity.TotalSearches,
		&identity.TotalSubmissions,
		&identity.CreatedAt,
		&identity.LastUsedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	identity.Status = domain.IdentityStatus(status)
	return &identity, nil
}

// UpdateStatus changes the identity status. A revoked identity stays revoked.
func (r *pgIdentityRepository) UpdateStatus(ctx context.Context, id string, status domain.IdentityStatus) error {
	const op = "repository.postgres.UpdateIdentityStatus"

	query := `
		UPDATE identities
		SET status = $2
		WHERE id = $1 AND (status <> 'revoked' OR $2 = 'revoked')
	`

	tag, err := r.db.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrInvalidTransition
}

// RecordUse updates usage counters, resetting the daily ones after 24 hours
func (r *pgIdentityRepository) RecordUse(ctx context.Context, id string, kind domain.UsageKind, now time.Time) error {
	const op = "repository.postgres.RecordIdentityUse"

	query := `
		UPDATE identities SET
			daily_searches = CASE WHEN $3::timestamptz - daily_reset_at >= interval '24 hours' THEN 0 ELSE daily_searches END
				+ CASE WHEN $2::text = 'search' THEN 1 ELSE 0 END,
			daily_submissions = CASE WHEN $3::timestamptz - daily_reset_at >= interval '24 hours' THEN 0 ELSE daily_submissions END
				+ CASE WHEN $2::text = 'submission' THEN 1 ELSE 0 END,
			daily_reset_at = CASE WHEN $3::timestamptz - daily_reset_at >= interval '24 hours' THEN $3::timestamptz ELSE daily_reset_at END,
			total_searches = total_searches + CASE WHEN $2::text = 'search' THEN 1 ELSE 0 END,
			total_submissions = total_submissions + CASE WHEN $2::text = 'submission' THEN 1 ELSE 0 END,
			last_used_at = $3::timestamptz
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id, string(kind), now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIdentityNotFound
	}
	return nil
}
