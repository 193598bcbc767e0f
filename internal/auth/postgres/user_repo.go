// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
)

const userColumns = `id, email, hashed_password, session_token, session_created_at, reset_token, created_at, updated_at`

// users_email_key is the default name PostgreSQL gives the UNIQUE (email) constraint.
const emailConstraint = "users_email_key"

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	pool Pool
	now  func() time.Time
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool Pool) *UserRepository {
	return &UserRepository{pool: pool, now: time.Now}
}

// FindByEmail retrieves a user by email.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return r.scanOne(row, "get user by email")
}

// FindByID retrieves a user by ID.
func (r *UserRepository) FindByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id.String())
	user, err := r.scanOne(row, "get user by id")
	if err != nil {
		return nil, oops.With("id", id.String()).Wrap(err)
	}
	return user, nil
}

// FindBySessionToken retrieves the user holding a single-session token.
func (r *UserRepository) FindBySessionToken(ctx context.Context, token string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE session_token = $1`, token)
	return r.scanOne(row, "get user by session token")
}

// FindByResetToken retrieves the user holding a reset token.
func (r *UserRepository) FindByResetToken(ctx context.Context, token string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE reset_token = $1`, token)
	return r.scanOne(row, "get user by reset token")
}

// Insert stores a new user.
func (r *UserRepository) Insert(ctx context.Context, email, hashedPassword string) (*auth.User, error) {
	if hashedPassword == "" {
		return nil, oops.Code("USER_INVALID_HASH").Errorf("hashed password cannot be empty")
	}

	now := r.now().UTC().Truncate(time.Microsecond)
	user := &auth.User{
		ID:             ulid.Make(),
		Email:          email,
		HashedPassword: hashedPassword,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, email, hashed_password, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`,
		user.ID.String(),
		user.Email,
		user.HashedPassword,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, emailConstraint) {
			return nil, oops.Code("USER_EMAIL_TAKEN").
				With("email", email).
				Wrap(auth.ErrUserAlreadyExists)
		}
		return nil, oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			Wrap(err)
	}
	return user, nil
}

// Update applies a partial update in a single UPDATE statement.
// When update.IfResetToken is set the statement also matches on reset_token,
// so a stale token updates zero rows and reports ErrNotFound.
func (r *UserRepository) Update(ctx context.Context, id ulid.ULID, update auth.UserUpdate) error {
	if update.HashedPassword.IsSet() && update.HashedPassword.Value() == nil {
		return oops.Code("USER_INVALID_UPDATE").Errorf("hashed password cannot be cleared")
	}
	if update.IsEmpty() {
		return nil
	}

	query, args := buildUserUpdate(id, update, r.now().UTC())

	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update user").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// buildUserUpdate renders the SET list for the fields present in update.
// $1 is always the user id.
func buildUserUpdate(id ulid.ULID, update auth.UserUpdate, now time.Time) (string, []any) {
	args := []any{id.String()}
	sets := make([]string, 0, 5)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.SessionToken.IsSet() {
		add("session_token", update.SessionToken.Value())
	}
	if update.SessionCreatedAt.IsSet() {
		add("session_created_at", update.SessionCreatedAt.Value())
	}
	if update.ResetToken.IsSet() {
		add("reset_token", update.ResetToken.Value())
	}
	if update.HashedPassword.IsSet() {
		add("hashed_password", *update.HashedPassword.Value())
	}
	add("updated_at", now)

	query := "UPDATE users SET " + strings.Join(sets, ", ") + " WHERE id = $1"
	if update.IfResetToken != "" {
		args = append(args, update.IfResetToken)
		query += fmt.Sprintf(" AND reset_token = $%d", len(args))
	}
	return query, args
}

// Count returns the number of users.
func (r *UserRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, oops.Code("USER_COUNT_FAILED").
			With("operation", "count users").
			Wrap(err)
	}
	return n, nil
}

func (r *UserRepository) scanOne(row pgx.Row, operation string) (*auth.User, error) {
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_QUERY_FAILED").
			With("operation", operation).
			Wrap(err)
	}
	return user, nil
}

// scanUser scans a single row into a User.
// Callers are responsible for handling pgx.ErrNoRows.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr            string
		email            string
		hashedPassword   string
		sessionToken     *string
		sessionCreatedAt *time.Time
		resetToken       *string
		createdAt        time.Time
		updatedAt        time.Time
	)

	err := row.Scan(&idStr, &email, &hashedPassword, &sessionToken, &sessionCreatedAt, &resetToken, &createdAt, &updatedAt)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("USER_SCAN_FAILED").
			With("operation", "scan user").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("operation", "parse user id").
			With("id", idStr).
			Wrap(err)
	}

	return &auth.User{
		ID:               id,
		Email:            email,
		HashedPassword:   hashedPassword,
		SessionToken:     sessionToken,
		SessionCreatedAt: sessionCreatedAt,
		ResetToken:       resetToken,
		CreatedAt:        createdAt,
		UpdatedAt:        updatedAt,
	}, nil
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
