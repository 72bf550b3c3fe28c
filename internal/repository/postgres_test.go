package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlddu/gim-auth/internal/domain"
)

// testPool connects to GIM_TEST_DATABASE_URL and applies migrations.
// Tests are skipped when the variable is unset.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("GIM_TEST_DATABASE_URL")
	if dsn == "" || testing.Short() {
		t.Skip("GIM_TEST_DATABASE_URL not set, skipping database integration test")
	}

	ctx := context.Background()
	require.NoError(t, Migrate(ctx, dsn))

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestClientRepository_Postgres(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewClientRepository(pool)

	client := newTestClient("pg-" + uuid.NewString())
	require.NoError(t, repo.Create(ctx, client))
	t.Cleanup(func() { _ = repo.Delete(ctx, client.ClientID) })

	got, err := repo.GetByClientID(ctx, client.ClientID)
	require.NoError(t, err)
	assert.Equal(t, client.RedirectURIs, got.RedirectURIs)
	assert.Equal(t, client.GrantTypes, got.GrantTypes)
	assert.Equal(t, client.TokenEndpointAuthMethod, got.TokenEndpointAuthMethod)

	assert.ErrorIs(t, repo.Create(ctx, client), ErrAlreadyExists)

	_, err = repo.GetByClientID(ctx, "pg-missing-"+uuid.NewString())
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestIdentityRepository_Postgres(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewIdentityRepository(pool)

	identity := newTestIdentity(uuid.NewString(), "gim_"+uuid.NewString())
	require.NoError(t, repo.Create(ctx, identity))

	got, err := repo.GetByPublicID(ctx, identity.PublicID)
	require.NoError(t, err)
	assert.Equal(t, identity.ID, got.ID)
	assert.Equal(t, "test", got.Metadata["agent"])
	assert.Nil(t, got.LastUsedAt)

	require.NoError(t, repo.RecordUse(ctx, identity.ID, domain.UsageSearch, identity.CreatedAt.Add(time.Hour)))
	require.NoError(t, repo.RecordUse(ctx, identity.ID, domain.UsageSearch, identity.CreatedAt.Add(25*time.Hour)))

	got, err = repo.GetByID(ctx, identity.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.DailySearches)
	assert.Equal(t, int64(2), got.TotalSearches)
	require.NotNil(t, got.LastUsedAt)

	require.NoError(t, repo.UpdateStatus(ctx, identity.ID, domain.IdentityRevoked))
	assert.ErrorIs(t, repo.UpdateStatus(ctx, identity.ID, domain.IdentityActive), ErrInvalidTransition)
	assert.ErrorIs(t, repo.UpdateStatus(ctx, uuid.NewString(), domain.IdentityActive), ErrIdentityNotFound)
}
