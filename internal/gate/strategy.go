// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
)

// Mode names a Strategy variant in configuration.
type Mode string

// Supported modes. ModeDisabled turns the gate off.
const (
	ModeDisabled         Mode = ""
	ModeNoAuth           Mode = "auth"
	ModeBasic            Mode = "basic_auth"
	ModeSession          Mode = "session_auth"
	ModeSessionExpiry    Mode = "session_exp_auth"
	ModePersistedSession Mode = "session_db_auth"
)

// Modes lists every enabled mode.
func Modes() []Mode {
	return []Mode{ModeNoAuth, ModeBasic, ModeSession, ModeSessionExpiry, ModePersistedSession}
}

// ParseMode validates a configured mode name.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.TrimSpace(s))
	if m == ModeDisabled {
		return m, nil
	}
	for _, known := range Modes() {
		if m == known {
			return m, nil
		}
	}
	return ModeDisabled, oops.Code("GATE_UNKNOWN_MODE").With("mode", s).Errorf("unknown auth mode %q", s)
}

// DefaultSessionCookie is the cookie carrying session tokens.
const DefaultSessionCookie = "_my_session_id"

// AuthorizationHeader carries HTTP Basic credentials.
const AuthorizationHeader = "Authorization"

// Strategy decides how a request proves who it is. Strategies only read state.
type Strategy interface {
	Mode() Mode
	RequiresAuth(path string, excluded []string) bool
	ExtractCredential(req RequestView) (string, bool)
	ResolveUser(ctx context.Context, req RequestView) (*auth.User, error)
}

// Authenticator checks an email and password pair.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (*auth.User, error)
}

// SessionResolver looks up the user and session behind a token.
type SessionResolver interface {
	ResolveSession(ctx context.Context, token string) (*auth.User, *auth.Session, error)
}

// Service is what NewStrategy needs from auth.Service.
type Service interface {
	Authenticator
	SessionResolver
	Persisted() bool
}

// Deps carries what the variants need.
type Deps struct {
	Service Service
	// Cookie defaults to DefaultSessionCookie.
	Cookie string
	// TTL bounds session age for the expiring variants. Zero or less never expires.
	TTL time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewStrategy builds the variant for mode. ModeDisabled returns nil.
func NewStrategy(mode Mode, deps Deps) (Strategy, error) {
	if deps.Cookie == "" {
		deps.Cookie = DefaultSessionCookie
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if mode != ModeDisabled && mode != ModeNoAuth && deps.Service == nil {
		return nil, oops.Code("GATE_INVALID_CONFIG").With("mode", string(mode)).Errorf("auth service is required")
	}

	switch mode {
	case ModeDisabled:
		return nil, nil
	case ModeNoAuth:
		return NoAuth{}, nil
	case ModeBasic:
		return &HeaderCredentialAuth{auth: deps.Service}, nil
	case ModeSession:
		return &SessionAuth{sessions: deps.Service, cookie: deps.Cookie}, nil
	case ModeSessionExpiry:
		return &SessionAuthWithExpiry{
			SessionAuth: SessionAuth{sessions: deps.Service, cookie: deps.Cookie},
			ttl:         deps.TTL,
			now:         deps.Now,
		}, nil
	case ModePersistedSession:
		if !deps.Service.Persisted() {
			return nil, oops.Code("GATE_INVALID_CONFIG").
				With("mode", string(mode)).
				Errorf("mode requires persisted sessions")
		}
		return &PersistedSessionAuth{
			SessionAuthWithExpiry: SessionAuthWithExpiry{
				SessionAuth: SessionAuth{sessions: deps.Service, cookie: deps.Cookie},
				ttl:         deps.TTL,
				now:         deps.Now,
			},
		}, nil
	default:
		return nil, oops.Code("GATE_UNKNOWN_MODE").With("mode", string(mode)).Errorf("unknown auth mode %q", mode)
	}
}

// NoAuth resolves nobody. Gated paths are rejected.
type NoAuth struct{}

// Mode implements Strategy.
func (NoAuth) Mode() Mode { return ModeNoAuth }

// RequiresAuth implements Strategy.
func (NoAuth) RequiresAuth(path string, excluded []string) bool { return RequiresAuth(path, excluded) }

// ExtractCredential returns the Authorization header.
func (NoAuth) ExtractCredential(req RequestView) (string, bool) {
	return req.Header(AuthorizationHeader)
}

// ResolveUser implements Strategy.
func (NoAuth) ResolveUser(context.Context, RequestView) (*auth.User, error) { return nil, nil }

// HeaderCredentialAuth reads "Basic base64(email:password)" from the
// Authorization header.
type HeaderCredentialAuth struct {
	auth Authenticator
}

// Mode implements Strategy.
func (*HeaderCredentialAuth) Mode() Mode { return ModeBasic }

// RequiresAuth implements Strategy.
func (*HeaderCredentialAuth) RequiresAuth(path string, excluded []string) bool {
	return RequiresAuth(path, excluded)
}

// ExtractCredential returns the Authorization header verbatim.
func (*HeaderCredentialAuth) ExtractCredential(req RequestView) (string, bool) {
	return req.Header(AuthorizationHeader)
}

// ResolveUser implements Strategy. Malformed headers resolve to nobody.
func (h *HeaderCredentialAuth) ResolveUser(ctx context.Context, req RequestView) (*auth.User, error) {
	header, ok := h.ExtractCredential(req)
	if !ok {
		return nil, nil
	}
	email, password, ok := DecodeBasic(header)
	if !ok {
		return nil, nil
	}
	return h.auth.Authenticate(ctx, email, password)
}

// DecodeBasic splits a Basic authorization header into email and password.
// The password may contain colons.
func DecodeBasic(header string) (email, password string, ok bool) {
	encoded, found := strings.CutPrefix(header, "Basic ")
	if !found || encoded == "" {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", false
	}
	email, password, ok = strings.Cut(string(raw), ":")
	if !ok || email == "" {
		return "", "", false
	}
	return email, password, true
}

// SessionAuth resolves the session cookie against the single-session token.
type SessionAuth struct {
	sessions SessionResolver
	cookie   string
}

// Mode implements Strategy.
func (*SessionAuth) Mode() Mode { return ModeSession }

// RequiresAuth implements Strategy.
func (*SessionAuth) RequiresAuth(path string, excluded []string) bool {
	return RequiresAuth(path, excluded)
}

// ExtractCredential returns the session cookie.
func (s *SessionAuth) ExtractCredential(req RequestView) (string, bool) {
	return req.Cookie(s.cookie)
}

// ResolveUser implements Strategy.
func (s *SessionAuth) ResolveUser(ctx context.Context, req RequestView) (*auth.User, error) {
	user, _, err := s.resolve(ctx, req)
	return user, err
}

func (s *SessionAuth) resolve(ctx context.Context, req RequestView) (*auth.User, *auth.Session, error) {
	token, ok := s.ExtractCredential(req)
	if !ok || token == "" {
		return nil, nil, nil
	}
	return s.sessions.ResolveSession(ctx, token)
}

// SessionAuthWithExpiry is SessionAuth that ignores sessions older than a TTL.
// Expired sessions are left in storage.
type SessionAuthWithExpiry struct {
	SessionAuth
	ttl time.Duration
	now func() time.Time
}

// Mode implements Strategy.
func (*SessionAuthWithExpiry) Mode() Mode { return ModeSessionExpiry }

// TTL returns the configured session lifetime.
func (s *SessionAuthWithExpiry) TTL() time.Duration { return s.ttl }

// ResolveUser implements Strategy.
func (s *SessionAuthWithExpiry) ResolveUser(ctx context.Context, req RequestView) (*auth.User, error) {
	user, session, err := s.resolve(ctx, req)
	if err != nil || user == nil {
		return nil, err
	}
	if s.ttl <= 0 {
		return user, nil
	}
	// A session without a creation time cannot be aged.
	if session == nil || session.CreatedAt.IsZero() {
		return nil, nil
	}
	if session.ExpiredAt(s.now(), s.ttl) {
		return nil, nil
	}
	return user, nil
}

// PersistedSessionAuth resolves tokens against stored session rows, so a user
// may be logged in from several places.
type PersistedSessionAuth struct {
	SessionAuthWithExpiry
}

// Mode implements Strategy.
func (*PersistedSessionAuth) Mode() Mode { return ModePersistedSession }

var (
	_ Strategy = NoAuth{}
	_ Strategy = (*HeaderCredentialAuth)(nil)
	_ Strategy = (*SessionAuth)(nil)
	_ Strategy = (*SessionAuthWithExpiry)(nil)
	_ Strategy = (*PersistedSessionAuth)(nil)
)
