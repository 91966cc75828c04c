package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrConflict is returned when a username or email is already taken.
	ErrConflict = errors.New("username or email already exists")
)

// Repository persists users.
type Repository interface {
	Create(ctx context.Context, user User) error
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByUsernameOrEmail(ctx context.Context, username, email string) (User, error)
	// FindByID never loads the password hash.
	FindByID(ctx context.Context, id string) (User, error)
}

// Querier is the subset of pgxpool.Pool the repository needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db Querier
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db Querier) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new user.
func (r *PostgresRepository) Create(ctx context.Context, user User) error {
	_, err := r.db.Exec(ctx, `INSERT INTO users (id, username, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Username, user.Email, user.PasswordHash, user.CreatedAt.UTC(), user.UpdatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrConflict
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("username", user.Username).
			Wrap(err)
	}
	return nil
}

// FindByEmail fetches a user, including its hash, by email.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	row := r.db.QueryRow(ctx, `SELECT id::text, username, email, password_hash, created_at, updated_at
		FROM users WHERE lower(email) = lower($1)`, email)
	return scanUser(row, true, "find user by email")
}

// FindByUsernameOrEmail fetches the first user holding either unique value.
func (r *PostgresRepository) FindByUsernameOrEmail(ctx context.Context, username, email string) (User, error) {
	row := r.db.QueryRow(ctx, `SELECT id::text, username, email, password_hash, created_at, updated_at
		FROM users WHERE lower(username) = lower($1) OR lower(email) = lower($2) LIMIT 1`, username, email)
	return scanUser(row, true, "find user by username or email")
}

// FindByID fetches a user profile by id.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return User{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT id::text, username, email, created_at, updated_at
		FROM users WHERE id = $1`, id)
	return scanUser(row, false, "find user by id")
}

func scanUser(row pgx.Row, withHash bool, operation string) (User, error) {
	var user User
	dest := []any{&user.ID, &user.Username, &user.Email}
	if withHash {
		dest = append(dest, &user.PasswordHash)
	}
	dest = append(dest, &user.CreatedAt, &user.UpdatedAt)

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, oops.Code("USER_QUERY_FAILED").With("operation", operation).Wrap(err)
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return user, nil
}
