// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// User is a registered identity.
type User struct {
	ID             ulid.ULID
	Email          string
	HashedPassword string
	// SessionToken is the single live session in the non-persisted modes.
	SessionToken     *string
	SessionCreatedAt *time.Time
	ResetToken       *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasSession reports whether the user holds a single-session token.
func (u *User) HasSession() bool {
	return u.SessionToken != nil && *u.SessionToken != ""
}

// Field is a partial-update slot. The zero value leaves the column untouched.
type Field[T any] struct {
	set   bool
	value *T
}

// Set returns a Field that writes v.
func Set[T any](v T) Field[T] {
	return Field[T]{set: true, value: &v}
}

// Clear returns a Field that writes NULL.
func Clear[T any]() Field[T] {
	return Field[T]{set: true}
}

// IsSet reports whether the field participates in the update.
func (f Field[T]) IsSet() bool { return f.set }

// Value returns the value to write; nil means NULL.
func (f Field[T]) Value() *T { return f.value }

// UserUpdate describes a partial update of a User. Fields left at their zero
// value are not written.
type UserUpdate struct {
	SessionToken     Field[string]
	SessionCreatedAt Field[time.Time]
	ResetToken       Field[string]
	HashedPassword   Field[string]

	// IfResetToken, when non-empty, makes the update conditional on the stored
	// reset token still equalling this value. A mismatch is reported as ErrNotFound.
	IfResetToken string
}

// IsEmpty reports whether the update writes nothing.
func (u UserUpdate) IsEmpty() bool {
	return !u.SessionToken.IsSet() &&
		!u.SessionCreatedAt.IsSet() &&
		!u.ResetToken.IsSet() &&
		!u.HashedPassword.IsSet()
}

// Apply writes the update onto u in memory. Repositories without a query
// language use it to stay in step with the SQL implementation.
func (u UserUpdate) Apply(user *User, now time.Time) {
	if u.SessionToken.IsSet() {
		user.SessionToken = copyPtr(u.SessionToken.Value())
	}
	if u.SessionCreatedAt.IsSet() {
		user.SessionCreatedAt = copyPtr(u.SessionCreatedAt.Value())
	}
	if u.ResetToken.IsSet() {
		user.ResetToken = copyPtr(u.ResetToken.Value())
	}
	if u.HashedPassword.IsSet() && u.HashedPassword.Value() != nil {
		user.HashedPassword = *u.HashedPassword.Value()
	}
	user.UpdatedAt = now
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// UserRepository manages User persistence.
// Lookups that miss return an error wrapping ErrNotFound.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id ulid.ULID) (*User, error)
	FindBySessionToken(ctx context.Context, token string) (*User, error)
	FindByResetToken(ctx context.Context, token string) (*User, error)

	// Insert creates a user. A duplicate email returns an error wrapping ErrUserAlreadyExists.
	Insert(ctx context.Context, email, hashedPassword string) (*User, error)

	// Update applies a partial update in a single statement.
	Update(ctx context.Context, id ulid.ULID, update UserUpdate) error

	Count(ctx context.Context) (int64, error)
}
