// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/auth/memory"
	"github.com/holomush/gatekeeper/internal/auth/mocks"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

// plainHasher keeps service tests fast. It is not a real hash.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", auth.ErrEmptyPassword
	}
	return "plain:" + password, nil
}

func (plainHasher) Verify(password, hash string) (bool, error) {
	if !strings.HasPrefix(hash, "plain:") {
		return false, errors.New("unknown hash")
	}
	return hash == "plain:"+password, nil
}

func (plainHasher) NeedsUpgrade(string) bool { return false }

func sequentialTokens() auth.TokenIssuer {
	var n atomic.Int64
	return auth.TokenIssuerFunc(func() (string, error) {
		return fmt.Sprintf("token-%d", n.Add(1)), nil
	})
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newService(t *testing.T, opts ...auth.Option) *auth.Service {
	t.Helper()
	svc, err := auth.NewAuthService(memory.NewUserRepository(), plainHasher{}, sequentialTokens(), opts...)
	require.NoError(t, err)
	return svc
}

func TestNewAuthService_NilDependencies(t *testing.T) {
	tests := []struct {
		name        string
		users       auth.UserRepository
		hasher      auth.PasswordHasher
		tokens      auth.TokenIssuer
		expectError string
	}{
		{"nil user repository", nil, plainHasher{}, sequentialTokens(), "user repository is required"},
		{"nil password hasher", memory.NewUserRepository(), nil, sequentialTokens(), "password hasher is required"},
		{"nil token issuer", memory.NewUserRepository(), plainHasher{}, nil, "token issuer is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := auth.NewAuthService(tt.users, tt.hasher, tt.tokens)
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tt.expectError)
			errutil.AssertErrorCode(t, err, "AUTH_INVALID_CONFIG")
		})
	}
}

func TestAuthService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("creates user with hashed password", func(t *testing.T) {
		svc := newService(t)
		user, err := svc.Register(ctx, "ada@example.com", "s3cret")
		require.NoError(t, err)
		assert.Equal(t, "ada@example.com", user.Email)
		assert.Equal(t, "plain:s3cret", user.HashedPassword)
		assert.False(t, user.HasSession())

		n, err := svc.CountUsers(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("duplicate email", func(t *testing.T) {
		svc := newService(t)
		_, err := svc.Register(ctx, "ada@example.com", "one")
		require.NoError(t, err)

		_, err = svc.Register(ctx, "ada@example.com", "two")
		require.ErrorIs(t, err, auth.ErrUserAlreadyExists)
		errutil.AssertErrorCode(t, err, "AUTH_USER_EXISTS")

		n, err := svc.CountUsers(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("empty email", func(t *testing.T) {
		svc := newService(t)
		_, err := svc.Register(ctx, "  ", "pw")
		errutil.AssertErrorCode(t, err, "AUTH_EMAIL_REQUIRED")
	})

	t.Run("empty password", func(t *testing.T) {
		svc := newService(t)
		_, err := svc.Register(ctx, "ada@example.com", "")
		require.ErrorIs(t, err, auth.ErrEmptyPassword)
		errutil.AssertErrorCode(t, err, "AUTH_REGISTER_FAILED")
	})

	t.Run("repository failure", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		svc, err := auth.NewAuthService(users, plainHasher{}, sequentialTokens())
		require.NoError(t, err)

		users.On("FindByEmail", ctx, "ada@example.com").Return(nil, errors.New("connection reset"))

		_, err = svc.Register(ctx, "ada@example.com", "pw")
		require.Error(t, err)
		assert.True(t, auth.IsRepositoryFailure(err))
		assert.NotErrorIs(t, err, auth.ErrUserAlreadyExists)
	})

	t.Run("insert race maps to already exists", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		svc, err := auth.NewAuthService(users, plainHasher{}, sequentialTokens())
		require.NoError(t, err)

		users.On("FindByEmail", ctx, "ada@example.com").Return(nil, auth.ErrNotFound)
		users.On("Insert", ctx, "ada@example.com", "plain:pw").Return(nil, auth.ErrUserAlreadyExists)

		_, err = svc.Register(ctx, "ada@example.com", "pw")
		require.ErrorIs(t, err, auth.ErrUserAlreadyExists)
	})
}

func TestAuthService_Authenticate(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	registered, err := svc.Register(ctx, "ada@example.com", "s3cret")
	require.NoError(t, err)

	t.Run("correct password", func(t *testing.T) {
		user, err := svc.Authenticate(ctx, "ada@example.com", "s3cret")
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, registered.ID, user.ID)

		ok, err := svc.VerifyLogin(ctx, "ada@example.com", "s3cret")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("wrong password", func(t *testing.T) {
		user, err := svc.Authenticate(ctx, "ada@example.com", "nope")
		require.NoError(t, err)
		assert.Nil(t, user)
	})

	t.Run("unknown email", func(t *testing.T) {
		ok, err := svc.VerifyLogin(ctx, "bob@example.com", "s3cret")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestAuthService_Authenticate_UnknownEmailVerifiesDummyHash(t *testing.T) {
	ctx := context.Background()
	users := mocks.NewMockUserRepository(t)
	hasher := mocks.NewMockPasswordHasher(t)
	svc, err := auth.NewAuthService(users, hasher, sequentialTokens())
	require.NoError(t, err)

	users.On("FindByEmail", ctx, "ghost@example.com").Return(nil, auth.ErrNotFound)
	hasher.On("Hash", mock.AnythingOfType("string")).Return("$argon2id$dummy", nil).Once()
	// Verify runs even though the user is missing so timing does not leak existence.
	hasher.On("Verify", "pw", "$argon2id$dummy").Return(false, nil).Once()

	user, err := svc.Authenticate(ctx, "ghost@example.com", "pw")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestAuthService_Authenticate_RepositoryFailure(t *testing.T) {
	ctx := context.Background()
	users := mocks.NewMockUserRepository(t)
	svc, err := auth.NewAuthService(users, plainHasher{}, sequentialTokens())
	require.NoError(t, err)

	users.On("FindByEmail", ctx, "ada@example.com").Return(nil, errors.New("db down"))

	ok, err := svc.VerifyLogin(ctx, "ada@example.com", "pw")
	require.Error(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, err, auth.ErrRepositoryFailure)
	errutil.AssertErrorCode(t, err, "AUTH_REPOSITORY_FAILURE")
}

func TestAuthService_Authenticate_UpgradesHash(t *testing.T) {
	ctx := context.Background()
	user := &auth.User{ID: ulid.Make(), Email: "ada@example.com", HashedPassword: "$2a$legacy"}

	t.Run("stores the new hash", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewAuthService(users, hasher, sequentialTokens())
		require.NoError(t, err)

		u := *user
		users.On("FindByEmail", ctx, u.Email).Return(&u, nil)
		hasher.On("Hash", mock.AnythingOfType("string")).Return("$argon2id$dummy", nil).Once()
		hasher.On("Verify", "pw", "$2a$legacy").Return(true, nil)
		hasher.On("NeedsUpgrade", "$2a$legacy").Return(true)
		hasher.On("Hash", "pw").Return("$argon2id$fresh", nil)
		users.On("Update", ctx, u.ID, auth.UserUpdate{HashedPassword: auth.Set("$argon2id$fresh")}).Return(nil)

		got, err := svc.Authenticate(ctx, u.Email, "pw")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "$argon2id$fresh", got.HashedPassword)
	})

	t.Run("update failure is logged and login still succeeds", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))

		users := mocks.NewMockUserRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewAuthService(users, hasher, sequentialTokens(), auth.WithLogger(logger))
		require.NoError(t, err)

		u := *user
		users.On("FindByEmail", ctx, u.Email).Return(&u, nil)
		hasher.On("Hash", mock.AnythingOfType("string")).Return("$argon2id$dummy", nil).Once()
		hasher.On("Verify", "pw", "$2a$legacy").Return(true, nil)
		hasher.On("NeedsUpgrade", "$2a$legacy").Return(true)
		hasher.On("Hash", "pw").Return("$argon2id$fresh", nil)
		users.On("Update", ctx, u.ID, mock.Anything).Return(errors.New("read only"))

		got, err := svc.Authenticate(ctx, u.Email, "pw")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "$2a$legacy", got.HashedPassword)
		assert.Contains(t, buf.String(), "level=WARN")
		assert.Contains(t, buf.String(), "best-effort password rehash failed")
		assert.Contains(t, buf.String(), "operation=\"update password hash\"")
	})
}

func TestAuthService_SingleSession(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	svc := newService(t, auth.WithClock(clock.Now))
	_, err := svc.Register(ctx, "ada@example.com", "pw")
	require.NoError(t, err)

	assert.False(t, svc.Persisted())

	t.Run("unknown email yields no session", func(t *testing.T) {
		token, ok, err := svc.CreateSession(ctx, "nobody@example.com")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, token)
	})

	first, ok, err := svc.CreateSession(ctx, "ada@example.com")
	require.NoError(t, err)
	require.True(t, ok)

	t.Run("token resolves with its creation time", func(t *testing.T) {
		user, session, err := svc.ResolveSession(ctx, first)
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, "ada@example.com", user.Email)
		assert.True(t, clock.Now().Equal(session.CreatedAt))
	})

	clock.Advance(time.Minute)
	second, ok, err := svc.CreateSession(ctx, "ada@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, first, second)

	t.Run("new login replaces the old token", func(t *testing.T) {
		user, err := svc.ResolveBySession(ctx, first)
		require.NoError(t, err)
		assert.Nil(t, user)

		user, err = svc.ResolveBySession(ctx, second)
		require.NoError(t, err)
		assert.NotNil(t, user)
	})

	t.Run("destroy clears the token and is idempotent", func(t *testing.T) {
		user, err := svc.ResolveBySession(ctx, second)
		require.NoError(t, err)

		require.NoError(t, svc.DestroySession(ctx, user.ID))
		require.NoError(t, svc.DestroySession(ctx, user.ID))

		got, err := svc.ResolveBySession(ctx, second)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("empty token never resolves", func(t *testing.T) {
		user, err := svc.ResolveBySession(ctx, "")
		require.NoError(t, err)
		assert.Nil(t, user)
	})

	t.Run("pruning requires persisted sessions", func(t *testing.T) {
		_, err := svc.PruneSessions(ctx, time.Hour)
		errutil.AssertErrorCode(t, err, "AUTH_SESSIONS_NOT_PERSISTED")
	})
}

func TestAuthService_EndSession_SingleMode(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	_, err := svc.Register(ctx, "ada@example.com", "pw")
	require.NoError(t, err)
	token, _, err := svc.CreateSession(ctx, "ada@example.com")
	require.NoError(t, err)

	ended, err := svc.EndSession(ctx, token)
	require.NoError(t, err)
	assert.True(t, ended)

	ended, err = svc.EndSession(ctx, token)
	require.NoError(t, err)
	assert.False(t, ended)
}

func TestAuthService_PersistedSessions(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	svc := newService(t,
		auth.WithSessionRepository(memory.NewSessionRepository()),
		auth.WithClock(clock.Now),
	)
	require.True(t, svc.Persisted())

	user, err := svc.Register(ctx, "ada@example.com", "pw")
	require.NoError(t, err)

	laptop, _, err := svc.CreateSession(ctx, "ada@example.com")
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)
	phone, _, err := svc.CreateSession(ctx, "ada@example.com")
	require.NoError(t, err)

	t.Run("sessions coexist", func(t *testing.T) {
		for _, token := range []string{laptop, phone} {
			got, session, err := svc.ResolveSession(ctx, token)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, user.ID, session.UserID)
		}
	})

	t.Run("prune removes only old sessions", func(t *testing.T) {
		_, err := svc.PruneSessions(ctx, 0)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_TTL")

		n, err := svc.PruneSessions(ctx, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := svc.ResolveBySession(ctx, laptop)
		require.NoError(t, err)
		assert.Nil(t, got)
		got, err = svc.ResolveBySession(ctx, phone)
		require.NoError(t, err)
		assert.NotNil(t, got)
	})

	t.Run("destroy ends every session", func(t *testing.T) {
		_, _, err := svc.CreateSession(ctx, "ada@example.com")
		require.NoError(t, err)

		require.NoError(t, svc.DestroySession(ctx, user.ID))
		got, err := svc.ResolveBySession(ctx, phone)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestAuthService_PersistedSessionFailures(t *testing.T) {
	ctx := context.Background()
	users := mocks.NewMockUserRepository(t)
	sessions := mocks.NewMockSessionRepository(t)
	svc, err := auth.NewAuthService(users, plainHasher{}, sequentialTokens(), auth.WithSessionRepository(sessions))
	require.NoError(t, err)

	sessions.On("GetByToken", ctx, "tok").Return(nil, errors.New("timeout"))
	_, _, err = svc.ResolveSession(ctx, "tok")
	assert.True(t, auth.IsRepositoryFailure(err))

	sessions.On("Delete", ctx, "gone").Return(auth.ErrNotFound)
	ended, err := svc.EndSession(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ended)
}

func TestAuthService_ResetPassword(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) *auth.Service {
		svc := newService(t)
		_, err := svc.Register(ctx, "ada@example.com", "old")
		require.NoError(t, err)
		return svc
	}

	t.Run("token changes the password once", func(t *testing.T) {
		svc := setup(t)
		token, err := svc.IssueResetToken(ctx, "ada@example.com")
		require.NoError(t, err)
		require.NotEmpty(t, token)

		require.NoError(t, svc.ConsumeResetToken(ctx, token, "new"))

		ok, err := svc.VerifyLogin(ctx, "ada@example.com", "new")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = svc.VerifyLogin(ctx, "ada@example.com", "old")
		require.NoError(t, err)
		assert.False(t, ok)

		err = svc.ConsumeResetToken(ctx, token, "again")
		require.ErrorIs(t, err, auth.ErrInvalidOrExpiredToken)
		errutil.AssertErrorCode(t, err, "AUTH_RESET_TOKEN_INVALID")
	})

	t.Run("reissue invalidates the earlier token", func(t *testing.T) {
		svc := setup(t)
		first, err := svc.IssueResetToken(ctx, "ada@example.com")
		require.NoError(t, err)
		second, err := svc.IssueResetToken(ctx, "ada@example.com")
		require.NoError(t, err)

		assert.ErrorIs(t, svc.ConsumeResetToken(ctx, first, "x"), auth.ErrInvalidOrExpiredToken)
		assert.NoError(t, svc.ConsumeResetToken(ctx, second, "x"))
	})

	t.Run("unknown email", func(t *testing.T) {
		svc := setup(t)
		_, err := svc.IssueResetToken(ctx, "nobody@example.com")
		require.ErrorIs(t, err, auth.ErrUserNotFound)
		errutil.AssertErrorCode(t, err, "AUTH_USER_NOT_FOUND")
	})

	t.Run("empty token", func(t *testing.T) {
		svc := setup(t)
		assert.ErrorIs(t, svc.ConsumeResetToken(ctx, "", "x"), auth.ErrInvalidOrExpiredToken)
	})

	t.Run("empty new password leaves token usable", func(t *testing.T) {
		svc := setup(t)
		token, err := svc.IssueResetToken(ctx, "ada@example.com")
		require.NoError(t, err)

		err = svc.ConsumeResetToken(ctx, token, "")
		errutil.AssertErrorCode(t, err, "RESET_PASSWORD_FAILED")
		assert.NoError(t, svc.ConsumeResetToken(ctx, token, "new"))
	})

	t.Run("concurrent consumers", func(t *testing.T) {
		svc := setup(t)
		token, err := svc.IssueResetToken(ctx, "ada@example.com")
		require.NoError(t, err)

		const workers = 8
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if svc.ConsumeResetToken(ctx, token, fmt.Sprintf("pw-%d", i)) == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}

func TestContextUser(t *testing.T) {
	_, ok := auth.UserFromContext(context.Background())
	assert.False(t, ok)

	user := &auth.User{ID: ulid.Make()}
	got, ok := auth.UserFromContext(auth.WithUser(context.Background(), user))
	require.True(t, ok)
	assert.Same(t, user, got)

	_, ok = auth.UserFromContext(auth.WithUser(context.Background(), nil))
	assert.False(t, ok)
}

func TestSession(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	_, err := auth.NewSession("", ulid.Make(), now)
	errutil.AssertErrorCode(t, err, "SESSION_INVALID_TOKEN")
	_, err = auth.NewSession("t", ulid.ULID{}, now)
	errutil.AssertErrorCode(t, err, "SESSION_INVALID_USER")
	_, err = auth.NewSession("t", ulid.Make(), time.Time{})
	errutil.AssertErrorCode(t, err, "SESSION_INVALID_CREATED_AT")

	s, err := auth.NewSession("t", ulid.Make(), now)
	require.NoError(t, err)
	assert.False(t, s.ExpiredAt(now.Add(time.Hour), time.Hour), "exactly ttl old is still valid")
	assert.True(t, s.ExpiredAt(now.Add(time.Hour+time.Nanosecond), time.Hour))
	assert.False(t, s.ExpiredAt(now.Add(1000*time.Hour), 0))
}
