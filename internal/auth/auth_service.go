// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Service provides registration, login, session and password reset operations.
//
// Without a SessionRepository the service runs in single-session mode: the
// live token is stored on the User record and a new login replaces it. With
// one, sessions are rows keyed by token and a user may hold several.
type Service struct {
	users    UserRepository
	sessions SessionRepository
	hasher   PasswordHasher
	tokens   TokenIssuer
	logger   *slog.Logger
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for best-effort failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSessionRepository switches the service to persisted, multi-session mode.
func WithSessionRepository(sessions SessionRepository) Option {
	return func(s *Service) { s.sessions = sessions }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewAuthService creates a new Service.
func NewAuthService(users UserRepository, hasher PasswordHasher, tokens TokenIssuer, opts ...Option) (*Service, error) {
	if users == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("user repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("password hasher is required")
	}
	if tokens == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("token issuer is required")
	}

	s := &Service{
		users:  users,
		hasher: hasher,
		tokens: tokens,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// fallbackDummyHash is used when a user doesn't exist and the configured
// hasher cannot produce one. It never matches any password.
//
//nolint:gosec // G101: intentionally fake hash for timing attack prevention, not a credential.
const fallbackDummyHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// dummy returns a hash with the same cost as real ones so unknown emails take
// as long to reject as wrong passwords.
func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash = fallbackDummyHash
		if h, err := s.hasher.Hash(ulid.Make().String()); err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}

// Persisted reports whether sessions are stored as rows.
func (s *Service) Persisted() bool {
	return s.sessions != nil
}

// Now returns the service clock reading.
func (s *Service) Now() time.Time {
	return s.now()
}

// Register creates a user with a freshly hashed password.
func (s *Service) Register(ctx context.Context, email, password string) (*User, error) {
	if strings.TrimSpace(email) == "" {
		return nil, oops.Code("AUTH_EMAIL_REQUIRED").Errorf("email cannot be empty")
	}

	_, err := s.users.FindByEmail(ctx, email)
	if err == nil {
		return nil, oops.Code("AUTH_USER_EXISTS").With("email", email).Wrap(ErrUserAlreadyExists)
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, repositoryFailure("find user by email", err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "hash password").Wrap(err)
	}

	user, err := s.users.Insert(ctx, email, hash)
	if err != nil {
		// Lost a race with a concurrent registration.
		if errors.Is(err, ErrUserAlreadyExists) {
			return nil, oops.Code("AUTH_USER_EXISTS").With("email", email).Wrap(err)
		}
		return nil, repositoryFailure("insert user", err)
	}
	return user, nil
}

// Authenticate returns the user when email and password match, and nil when
// either is wrong. Errors are reserved for repository failures.
// Unknown emails are verified against a dummy hash to keep timing uniform.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, lookupErr := s.users.FindByEmail(ctx, email)

	targetHash := s.dummy()
	exists := false
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, repositoryFailure("find user by email", lookupErr)
		}
	} else {
		targetHash = user.HashedPassword
		exists = true
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if exists {
			s.logger.WarnContext(ctx, "stored password hash is unreadable",
				"user_id", user.ID.String(),
				"error", verifyErr,
			)
		}
		return nil, nil
	}
	if !exists || !valid {
		return nil, nil
	}

	s.upgradeHash(ctx, user, password)
	return user, nil
}

// VerifyLogin reports whether email and password identify a user.
func (s *Service) VerifyLogin(ctx context.Context, email, password string) (bool, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return false, err
	}
	return user != nil, nil
}

// upgradeHash rehashes legacy or weaker hashes after a successful login.
func (s *Service) upgradeHash(ctx context.Context, user *User, password string) {
	if !s.hasher.NeedsUpgrade(user.HashedPassword) {
		return
	}
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.WarnContext(ctx, "best-effort password rehash failed",
			"operation", "hash password",
			"user_id", user.ID.String(),
			"error", err,
		)
		return
	}
	if err := s.users.Update(ctx, user.ID, UserUpdate{HashedPassword: Set(newHash)}); err != nil {
		s.logger.WarnContext(ctx, "best-effort password rehash failed",
			"operation", "update password hash",
			"user_id", user.ID.String(),
			"error", err,
		)
		return
	}
	user.HashedPassword = newHash
}

// CreateSession mints a session for the user with the given email.
// Returns ok=false when there is no such user.
func (s *Service) CreateSession(ctx context.Context, email string) (token string, ok bool, err error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", false, nil
		}
		return "", false, repositoryFailure("find user by email", err)
	}
	return s.createSessionFor(ctx, user)
}

func (s *Service) createSessionFor(ctx context.Context, user *User) (string, bool, error) {
	token, err := s.tokens.NewToken()
	if err != nil {
		return "", false, oops.Code("AUTH_SESSION_CREATE_FAILED").With("operation", "generate token").Wrap(err)
	}
	now := s.now()

	if s.sessions != nil {
		session, err := NewSession(token, user.ID, now)
		if err != nil {
			return "", false, oops.Code("AUTH_SESSION_CREATE_FAILED").With("operation", "new session").Wrap(err)
		}
		if err := s.sessions.Create(ctx, session); err != nil {
			return "", false, repositoryFailure("create session", err)
		}
		return token, true, nil
	}

	err = s.users.Update(ctx, user.ID, UserUpdate{
		SessionToken:     Set(token),
		SessionCreatedAt: Set(now),
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", false, nil
		}
		return "", false, repositoryFailure("store session token", err)
	}
	return token, true, nil
}

// ResolveSession returns the user and session behind token, or nils on a miss.
// In single-session mode the Session is synthesized from the User record and
// its CreatedAt is zero if the record carries no timestamp.
func (s *Service) ResolveSession(ctx context.Context, token string) (*User, *Session, error) {
	if token == "" {
		return nil, nil, nil
	}

	if s.sessions != nil {
		session, err := s.sessions.GetByToken(ctx, token)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, nil, nil
			}
			return nil, nil, repositoryFailure("get session by token", err)
		}
		user, err := s.users.FindByID(ctx, session.UserID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, nil, nil
			}
			return nil, nil, repositoryFailure("find user by id", err)
		}
		return user, session, nil
	}

	user, err := s.users.FindBySessionToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, nil
		}
		return nil, nil, repositoryFailure("find user by session token", err)
	}
	session := &Session{Token: token, UserID: user.ID}
	if user.SessionCreatedAt != nil {
		session.CreatedAt = *user.SessionCreatedAt
	}
	return user, session, nil
}

// ResolveBySession returns the user owning token, or nil.
func (s *Service) ResolveBySession(ctx context.Context, token string) (*User, error) {
	user, _, err := s.ResolveSession(ctx, token)
	return user, err
}

// DestroySession ends every session of a user. Calling it again is a no-op.
func (s *Service) DestroySession(ctx context.Context, userID ulid.ULID) error {
	if s.sessions != nil {
		if err := s.sessions.DeleteByUser(ctx, userID); err != nil {
			return repositoryFailure("delete sessions by user", err)
		}
		return nil
	}

	err := s.users.Update(ctx, userID, UserUpdate{
		SessionToken:     Clear[string](),
		SessionCreatedAt: Clear[time.Time](),
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return repositoryFailure("clear session token", err)
	}
	return nil
}

// EndSession logs out a single session by token.
// Returns false when the token matched nothing.
func (s *Service) EndSession(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	if s.sessions != nil {
		err := s.sessions.Delete(ctx, token)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return false, nil
			}
			return false, repositoryFailure("delete session", err)
		}
		return true, nil
	}

	user, err := s.users.FindBySessionToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, repositoryFailure("find user by session token", err)
	}
	if err := s.DestroySession(ctx, user.ID); err != nil {
		return false, err
	}
	return true, nil
}

// PruneSessions deletes persisted sessions older than ttl.
func (s *Service) PruneSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	if s.sessions == nil {
		return 0, oops.Code("AUTH_SESSIONS_NOT_PERSISTED").Errorf("session pruning requires a session repository")
	}
	if ttl <= 0 {
		return 0, oops.Code("AUTH_INVALID_TTL").With("ttl", ttl.String()).Errorf("ttl must be positive")
	}
	n, err := s.sessions.DeleteOlderThan(ctx, s.now().Add(-ttl))
	if err != nil {
		return 0, repositoryFailure("delete old sessions", err)
	}
	return n, nil
}

// CountUsers returns the number of registered users.
func (s *Service) CountUsers(ctx context.Context) (int64, error) {
	n, err := s.users.Count(ctx)
	if err != nil {
		return 0, repositoryFailure("count users", err)
	}
	return n, nil
}
