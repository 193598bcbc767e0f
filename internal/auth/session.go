// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session is a persisted login, keyed by token. A user may hold many.
type Session struct {
	Token     string
	UserID    ulid.ULID
	CreatedAt time.Time
}

// NewSession creates a validated Session.
func NewSession(token string, userID ulid.ULID, createdAt time.Time) (*Session, error) {
	if token == "" {
		return nil, oops.Code("SESSION_INVALID_TOKEN").Errorf("session token cannot be empty")
	}
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if createdAt.IsZero() {
		return nil, oops.Code("SESSION_INVALID_CREATED_AT").Errorf("created_at cannot be zero")
	}
	return &Session{Token: token, UserID: userID, CreatedAt: createdAt}, nil
}

// Age returns how long ago the session was created.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// ExpiredAt reports whether the session is older than ttl at now.
// A ttl of zero or less never expires.
func (s *Session) ExpiredAt(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return s.Age(now) > ttl
}

// SessionRepository manages persisted sessions.
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error

	// GetByToken returns an error wrapping ErrNotFound on a miss.
	GetByToken(ctx context.Context, token string) (*Session, error)

	// Delete removes one session. Missing sessions return an error wrapping ErrNotFound.
	Delete(ctx context.Context, token string) error

	// DeleteByUser removes every session of a user. Zero rows is not an error.
	DeleteByUser(ctx context.Context, userID ulid.ULID) error

	// DeleteOlderThan removes sessions created before cutoff and returns the count.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
