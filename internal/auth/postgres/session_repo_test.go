// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

func TestSessionRepository_GetByToken(t *testing.T) {
	userID := ulid.Make()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("returns session", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT user_id, created_at FROM user_sessions WHERE token = \$1`).
			WithArgs("tok").
			WillReturnRows(pgxmock.NewRows([]string{"user_id", "created_at"}).AddRow(userID.String(), created))

		repo := NewSessionRepository(mock)
		session, err := repo.GetByToken(context.Background(), "tok")
		require.NoError(t, err)
		assert.Equal(t, "tok", session.Token)
		assert.Equal(t, userID, session.UserID)
		assert.True(t, created.Equal(session.CreatedAt))
	})

	t.Run("miss maps to ErrNotFound", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT user_id, created_at FROM user_sessions`).
			WithArgs("nope").
			WillReturnError(pgx.ErrNoRows)

		repo := NewSessionRepository(mock)
		_, err = repo.GetByToken(context.Background(), "nope")
		assert.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, "SESSION_NOT_FOUND")
	})

	t.Run("corrupt user id is reported", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT user_id, created_at FROM user_sessions`).
			WithArgs("tok").
			WillReturnRows(pgxmock.NewRows([]string{"user_id", "created_at"}).AddRow("not-a-ulid", created))

		repo := NewSessionRepository(mock)
		_, err = repo.GetByToken(context.Background(), "tok")
		errutil.AssertErrorCode(t, err, "SESSION_INVALID_USER_ID")
	})
}

func TestSessionRepository_Delete(t *testing.T) {
	tests := []struct {
		name     string
		result   pgxmockResult
		wantCode string
		notFound bool
	}{
		{name: "deletes existing session", result: pgxmockResult{rows: 1}},
		{name: "missing session is ErrNotFound", result: pgxmockResult{rows: 0}, wantCode: "SESSION_NOT_FOUND", notFound: true},
		{name: "driver error", result: pgxmockResult{err: errors.New("boom")}, wantCode: "SESSION_DELETE_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			exp := mock.ExpectExec(`DELETE FROM user_sessions WHERE token = \$1`).WithArgs("tok")
			if tt.result.err != nil {
				exp.WillReturnError(tt.result.err)
			} else {
				exp.WillReturnResult(pgxmock.NewResult("DELETE", tt.result.rows))
			}

			repo := NewSessionRepository(mock)
			err = repo.Delete(context.Background(), "tok")
			if tt.wantCode == "" {
				require.NoError(t, err)
			} else {
				errutil.AssertErrorCode(t, err, tt.wantCode)
				assert.Equal(t, tt.notFound, errors.Is(err, auth.ErrNotFound))
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

type pgxmockResult struct {
	rows int64
	err  error
}

func TestSessionRepository_DeleteByUserAndAge(t *testing.T) {
	userID := ulid.Make()

	t.Run("delete by user tolerates zero rows", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`DELETE FROM user_sessions WHERE user_id = \$1`).
			WithArgs(userID.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		repo := NewSessionRepository(mock)
		assert.NoError(t, repo.DeleteByUser(context.Background(), userID))
	})

	t.Run("delete older than returns count", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		mock.ExpectExec(`DELETE FROM user_sessions WHERE created_at < \$1`).
			WithArgs(cutoff).
			WillReturnResult(pgxmock.NewResult("DELETE", 4))

		repo := NewSessionRepository(mock)
		n, err := repo.DeleteOlderThan(context.Background(), cutoff)
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)
	})

	t.Run("create wraps driver errors", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`INSERT INTO user_sessions`).
			WithArgs("tok", userID.String(), pgxmock.AnyArg()).
			WillReturnError(errors.New("fk violation"))

		repo := NewSessionRepository(mock)
		err = repo.Create(context.Background(), &auth.Session{Token: "tok", UserID: userID, CreatedAt: time.Now()})
		errutil.AssertErrorCode(t, err, "SESSION_CREATE_FAILED")
		errutil.AssertErrorContext(t, err, "user_id", userID.String())
	})
}
