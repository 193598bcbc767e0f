// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package gate decides, per request, whether a credential is required and
// who the caller is.
//
// A Gate wraps one Strategy chosen at startup. Gated requests without any
// credential are Unauthorized; requests whose credential does not resolve to
// a user are Forbidden.
package gate

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

// Outcome is the verdict of a Gate.
type Outcome int

// Outcomes.
const (
	Allow Outcome = iota
	RejectUnauthorized
	RejectForbidden
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case RejectUnauthorized:
		return "unauthorized"
	case RejectForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Decision is the result of Gate.Decide. User is nil for allowed requests on
// excluded paths and when gating is disabled.
type Decision struct {
	Outcome Outcome
	User    *auth.User
}

// DefaultExcludedPaths are reachable without a credential.
func DefaultExcludedPaths() []string {
	return []string{
		"/",
		"/api/v1/stat*",
		"/api/v1/unauthorized/",
		"/api/v1/forbidden/",
		"/api/v1/auth_session/login/",
		"/api/v1/users/",
		"/api/v1/sessions/",
		"/api/v1/reset_password/",
	}
}

// Gate enforces a Strategy on inbound requests.
type Gate struct {
	strategy Strategy
	excluded []string
	cookie   string
	logger   *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger for resolution failures.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithSessionCookie sets the cookie whose presence turns a missing credential
// from Unauthorized into Forbidden. Defaults to DefaultSessionCookie.
func WithSessionCookie(name string) Option {
	return func(g *Gate) {
		if name != "" {
			g.cookie = name
		}
	}
}

// New creates a Gate. A nil strategy disables gating.
func New(strategy Strategy, excluded []string, opts ...Option) (*Gate, error) {
	if _, err := compiled(excluded); err != nil {
		return nil, err
	}
	g := &Gate{
		strategy: strategy,
		excluded: append([]string(nil), excluded...),
		cookie:   DefaultSessionCookie,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Mode returns the active mode.
func (g *Gate) Mode() Mode {
	if g.strategy == nil {
		return ModeDisabled
	}
	return g.strategy.Mode()
}

// Decide runs the gate for one request. Resolution errors never escape;
// they are logged and the request is Forbidden.
func (g *Gate) Decide(ctx context.Context, path string, req RequestView) Decision {
	d := g.decide(ctx, path, req)
	RecordDecision(g.Mode(), d.Outcome)
	return d
}

func (g *Gate) decide(ctx context.Context, path string, req RequestView) Decision {
	if g.strategy == nil || !g.strategy.RequiresAuth(path, g.excluded) {
		return Decision{Outcome: Allow}
	}

	_, hasCredential := g.strategy.ExtractCredential(req)
	_, hasCookie := req.Cookie(g.cookie)
	if !hasCredential && !hasCookie {
		return Decision{Outcome: RejectUnauthorized}
	}

	user, err := g.strategy.ResolveUser(ctx, req)
	if err != nil {
		errutil.LogError(g.logger, "identity resolution failed",
			oops.Code("GATE_RESOLVE_FAILED").
				With("mode", string(g.strategy.Mode())).
				With("path", path).
				Wrap(err))
		return Decision{Outcome: RejectForbidden}
	}
	if user == nil {
		return Decision{Outcome: RejectForbidden}
	}
	return Decision{Outcome: Allow, User: user}
}
