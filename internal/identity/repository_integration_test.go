//go:build integration

package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dbz-battle/authapi/internal/identity"
	"github.com/dbz-battle/authapi/internal/infra"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("authapi_test"),
		postgres.WithUsername("authapi"),
		postgres.WithPassword("authapi"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	m, err := infra.NewMigrator(connStr)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	require.NoError(t, m.Close())

	pool, err := infra.NewPostgresPool(ctx, connStr, infra.RetryPolicy{Attempts: 3, Backoff: time.Second}, nil)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresRepository_Lifecycle(t *testing.T) {
	pool := startPostgres(t)
	repo := identity.NewPostgresRepository(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	user := identity.User{ID: uuid.NewString(), Username: "alice", Email: "alice@x.com", PasswordHash: "$2a$10$hash", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.Create(ctx, user))

	byEmail, err := repo.FindByEmail(ctx, "ALICE@x.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)
	assert.Equal(t, user.PasswordHash, byEmail.PasswordHash)

	byID, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Username)
	assert.Empty(t, byID.PasswordHash)

	_, err = repo.FindByUsernameOrEmail(ctx, "Alice", "nobody@x.com")
	require.NoError(t, err)

	dup := user
	dup.ID = uuid.NewString()
	dup.Email = "other@x.com"
	assert.ErrorIs(t, repo.Create(ctx, dup), identity.ErrConflict)

	_, err = repo.FindByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, identity.ErrNotFound)
}
