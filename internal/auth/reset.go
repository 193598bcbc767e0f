// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"

	"github.com/samber/oops"
)

// IssueResetToken stores a fresh reset token on the user and returns it.
// Any earlier reset token stops working. Delivering the token is the caller's job.
func (s *Service) IssueResetToken(ctx context.Context, email string) (string, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", oops.Code("AUTH_USER_NOT_FOUND").With("email", email).Wrap(ErrUserNotFound)
		}
		return "", repositoryFailure("find user by email", err)
	}

	token, err := s.tokens.NewToken()
	if err != nil {
		return "", oops.Code("RESET_REQUEST_FAILED").With("operation", "generate token").Wrap(err)
	}

	if err := s.users.Update(ctx, user.ID, UserUpdate{ResetToken: Set(token)}); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", oops.Code("AUTH_USER_NOT_FOUND").With("email", email).Wrap(ErrUserNotFound)
		}
		return "", repositoryFailure("store reset token", err)
	}
	return token, nil
}

// ConsumeResetToken sets a new password for the owner of token and clears the
// token in the same write. The write only lands while the stored token still
// matches, so two concurrent consumers cannot both succeed.
func (s *Service) ConsumeResetToken(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return oops.Code("AUTH_RESET_TOKEN_INVALID").Wrap(ErrInvalidOrExpiredToken)
	}

	user, err := s.users.FindByResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("AUTH_RESET_TOKEN_INVALID").Wrap(ErrInvalidOrExpiredToken)
		}
		return repositoryFailure("find user by reset token", err)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").With("operation", "hash password").Wrap(err)
	}

	err = s.users.Update(ctx, user.ID, UserUpdate{
		HashedPassword: Set(hash),
		ResetToken:     Clear[string](),
		IfResetToken:   token,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("AUTH_RESET_TOKEN_INVALID").Wrap(ErrInvalidOrExpiredToken)
		}
		return repositoryFailure("update password", err)
	}
	return nil
}
