// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memory provides in-process auth repositories for development and tests.
// State is lost on restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
)

// UserRepository implements auth.UserRepository in memory.
type UserRepository struct {
	mu      sync.RWMutex
	byID    map[ulid.ULID]*auth.User
	byEmail map[string]ulid.ULID
	now     func() time.Time
}

// NewUserRepository creates an empty UserRepository.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:    make(map[ulid.ULID]*auth.User),
		byEmail: make(map[string]ulid.ULID),
		now:     time.Now,
	}
}

// FindByEmail returns the user with the given email.
func (r *UserRepository) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
	}
	return clone(r.byID[id]), nil
}

// FindByID returns the user with the given ID.
func (r *UserRepository) FindByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return clone(user), nil
}

// FindBySessionToken returns the user whose single-session token matches.
func (r *UserRepository) FindBySessionToken(_ context.Context, token string) (*auth.User, error) {
	return r.findBy(token, func(u *auth.User) *string { return u.SessionToken })
}

// FindByResetToken returns the user whose reset token matches.
func (r *UserRepository) FindByResetToken(_ context.Context, token string) (*auth.User, error) {
	return r.findBy(token, func(u *auth.User) *string { return u.ResetToken })
}

func (r *UserRepository) findBy(token string, field func(*auth.User) *string) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if token != "" {
		for _, user := range r.byID {
			if v := field(user); v != nil && *v == token {
				return clone(user), nil
			}
		}
	}
	return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
}

// Insert creates a user.
func (r *UserRepository) Insert(_ context.Context, email, hashedPassword string) (*auth.User, error) {
	if hashedPassword == "" {
		return nil, oops.Code("USER_INVALID_HASH").Errorf("hashed password cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[email]; exists {
		return nil, oops.Code("USER_EMAIL_TAKEN").With("email", email).Wrap(auth.ErrUserAlreadyExists)
	}

	now := r.now()
	user := &auth.User{
		ID:             ulid.Make(),
		Email:          email,
		HashedPassword: hashedPassword,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.byID[user.ID] = user
	r.byEmail[email] = user.ID
	return clone(user), nil
}

// Update applies a partial update under the write lock.
func (r *UserRepository) Update(_ context.Context, id ulid.ULID, update auth.UserUpdate) error {
	if update.HashedPassword.IsSet() && update.HashedPassword.Value() == nil {
		return oops.Code("USER_INVALID_UPDATE").Errorf("hashed password cannot be cleared")
	}
	if update.IsEmpty() {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if update.IfResetToken != "" && (user.ResetToken == nil || *user.ResetToken != update.IfResetToken) {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			With("reason", "reset token changed").
			Wrap(auth.ErrNotFound)
	}

	update.Apply(user, r.now())
	return nil
}

// Count returns the number of users.
func (r *UserRepository) Count(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.byID)), nil
}

func clone(u *auth.User) *auth.User {
	c := *u
	if u.SessionToken != nil {
		v := *u.SessionToken
		c.SessionToken = &v
	}
	if u.SessionCreatedAt != nil {
		v := *u.SessionCreatedAt
		c.SessionCreatedAt = &v
	}
	if u.ResetToken != nil {
		v := *u.ResetToken
		c.ResetToken = &v
	}
	return &c
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
