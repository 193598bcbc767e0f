// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package redis implements auth.SessionRepository on Redis.
//
// Layout, with the configured prefix:
//
//	<prefix>session:<token>        JSON {token, user_id, created_at}, optional TTL
//	<prefix>user_sessions:<user>   set of tokens held by a user
//	<prefix>sessions_by_created    sorted set of tokens scored by creation time (unix nanoseconds)
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
)

// DefaultPrefix namespaces gatekeeper keys.
const DefaultPrefix = "gatekeeper:"

// SessionRepository implements auth.SessionRepository using Redis.
type SessionRepository struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// Option configures a SessionRepository.
type Option func(*SessionRepository)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(r *SessionRepository) { r.prefix = prefix }
}

// WithKeyTTL lets Redis evict session keys after ttl. Zero keeps them until deleted.
func WithKeyTTL(ttl time.Duration) Option {
	return func(r *SessionRepository) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(client redis.UniversalClient, opts ...Option) *SessionRepository {
	r := &SessionRepository{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type storedSession struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *SessionRepository) sessionKey(token string) string {
	return r.prefix + "session:" + token
}

func (r *SessionRepository) userKey(userID string) string {
	return r.prefix + "user_sessions:" + userID
}

func (r *SessionRepository) createdIndexKey() string {
	return r.prefix + "sessions_by_created"
}

// Create stores a session and indexes it by user and creation time.
func (r *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	data, err := json.Marshal(storedSession{
		Token:     session.Token,
		UserID:    session.UserID.String(),
		CreatedAt: session.CreatedAt.UTC(),
	})
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").With("operation", "marshal session").Wrap(err)
	}

	userKey := r.userKey(session.UserID.String())
	var setNX *redis.BoolCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		setNX = pipe.SetNX(ctx, r.sessionKey(session.Token), data, r.ttl)
		pipe.SAdd(ctx, userKey, session.Token)
		pipe.ZAdd(ctx, r.createdIndexKey(), redis.Z{
			Score:  float64(session.CreatedAt.UnixNano()),
			Member: session.Token,
		})
		if r.ttl > 0 {
			pipe.Expire(ctx, userKey, r.ttl)
		}
		return nil
	})
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "store session").
			With("user_id", session.UserID.String()).
			Wrap(err)
	}
	if !setNX.Val() {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "store session").
			Errorf("duplicate session token")
	}
	return nil
}

// GetByToken retrieves a session by token.
func (r *SessionRepository) GetByToken(ctx context.Context, token string) (*auth.Session, error) {
	stored, err := r.load(ctx, token)
	if err != nil {
		return nil, err
	}

	userID, err := ulid.Parse(stored.UserID)
	if err != nil {
		return nil, oops.Code("SESSION_INVALID_USER_ID").
			With("operation", "parse user id").
			With("user_id", stored.UserID).
			Wrap(err)
	}
	return &auth.Session{Token: token, UserID: userID, CreatedAt: stored.CreatedAt}, nil
}

func (r *SessionRepository) load(ctx context.Context, token string) (*storedSession, error) {
	data, err := r.client.Get(ctx, r.sessionKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_BY_TOKEN_FAILED").
			With("operation", "get session").
			Wrap(err)
	}

	var stored storedSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, oops.Code("SESSION_DECODE_FAILED").
			With("operation", "unmarshal session").
			Wrap(err)
	}
	return &stored, nil
}

// Delete removes a session and its index entries.
func (r *SessionRepository) Delete(ctx context.Context, token string) error {
	stored, err := r.load(ctx, token)
	if err != nil {
		return err
	}

	var del *redis.IntCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.sessionKey(token))
		pipe.SRem(ctx, r.userKey(stored.UserID), token)
		pipe.ZRem(ctx, r.createdIndexKey(), token)
		return nil
	})
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete session").
			Wrap(err)
	}
	// Deleted concurrently between load and the transaction.
	if del.Val() == 0 {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteByUser removes all sessions for a user.
func (r *SessionRepository) DeleteByUser(ctx context.Context, userID ulid.ULID) error {
	userKey := r.userKey(userID.String())
	tokens, err := r.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return oops.Code("SESSION_DELETE_BY_USER_FAILED").
			With("operation", "list user sessions").
			With("user_id", userID.String()).
			Wrap(err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, token := range tokens {
			pipe.Del(ctx, r.sessionKey(token))
			pipe.ZRem(ctx, r.createdIndexKey(), token)
		}
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return oops.Code("SESSION_DELETE_BY_USER_FAILED").
			With("operation", "delete user sessions").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// DeleteOlderThan removes sessions created before cutoff and returns how many
// session keys were still present.
func (r *SessionRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tokens, err := r.client.ZRangeByScore(ctx, r.createdIndexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixNano(), 10),
	}).Result()
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_OLD_FAILED").
			With("operation", "range sessions by age").
			Wrap(err)
	}
	if len(tokens) == 0 {
		return 0, nil
	}

	keys := make([]string, len(tokens))
	for i, token := range tokens {
		keys[i] = r.sessionKey(token)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_OLD_FAILED").
			With("operation", "load old sessions").
			Wrap(err)
	}

	dels := make([]*redis.IntCmd, 0, len(tokens))
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, token := range tokens {
			dels = append(dels, pipe.Del(ctx, keys[i]))
			pipe.ZRem(ctx, r.createdIndexKey(), token)
			if s, ok := values[i].(string); ok {
				var stored storedSession
				if json.Unmarshal([]byte(s), &stored) == nil {
					pipe.SRem(ctx, r.userKey(stored.UserID), token)
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_OLD_FAILED").
			With("operation", "delete old sessions").
			Wrap(err)
	}

	var n int64
	for _, del := range dels {
		n += del.Val()
	}
	return n, nil
}

// Compile-time interface check.
var _ auth.SessionRepository = (*SessionRepository)(nil)
