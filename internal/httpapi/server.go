// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package httpapi exposes the auth service over HTTP behind the request gate.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/gate"
	"github.com/holomush/gatekeeper/internal/observability"
)

// AuthService is the subset of auth.Service the handlers call.
type AuthService interface {
	Register(ctx context.Context, email, password string) (*auth.User, error)
	Authenticate(ctx context.Context, email, password string) (*auth.User, error)
	CreateSession(ctx context.Context, email string) (string, bool, error)
	ResolveBySession(ctx context.Context, token string) (*auth.User, error)
	EndSession(ctx context.Context, token string) (bool, error)
	DestroySession(ctx context.Context, userID ulid.ULID) error
	IssueResetToken(ctx context.Context, email string) (string, error)
	ConsumeResetToken(ctx context.Context, token, newPassword string) error
	CountUsers(ctx context.Context) (int64, error)
}

// Decider decides whether a request may proceed.
type Decider interface {
	Decide(ctx context.Context, path string, req gate.RequestView) gate.Decision
}

// Server serves the gatekeeper HTTP API.
type Server struct {
	service     AuthService
	gate        Decider
	logger      *slog.Logger
	metrics     *observability.Metrics
	cookie      string
	cookieTTL   time.Duration
	secure      bool
	corsOrigins []string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and error logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records request and auth operation counters.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithSessionCookie sets the session cookie name.
func WithSessionCookie(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.cookie = name
		}
	}
}

// WithCookieTTL sets the session cookie Max-Age. Zero issues a browser-session cookie.
func WithCookieTTL(ttl time.Duration) Option {
	return func(s *Server) { s.cookieTTL = ttl }
}

// WithSecureCookie marks the session cookie Secure.
func WithSecureCookie(secure bool) Option {
	return func(s *Server) { s.secure = secure }
}

// WithCORSOrigins enables CORS for the given origins. "*" allows any origin.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = append([]string(nil), origins...) }
}

// New creates a Server. A nil gate lets every request through.
func New(service AuthService, g Decider, opts ...Option) *Server {
	s := &Server{
		service: service,
		gate:    g,
		logger:  slog.Default(),
		cookie:  gate.DefaultSessionCookie,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the gin engine.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(s.recovery(), s.requestLog(), s.countRequests())
	if len(s.corsOrigins) > 0 {
		r.Use(s.cors())
	}
	r.Use(s.enforceGate())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	r.GET("/", s.handleIndex)

	v1 := r.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/stats", s.handleStats)
	v1.GET("/unauthorized", func(c *gin.Context) { abortUnauthorized(c) })
	v1.GET("/forbidden", func(c *gin.Context) { abortForbidden(c) })

	v1.POST("/users", s.handleRegister)
	v1.GET("/users/me", s.handleMe)
	v1.DELETE("/users/me/sessions", s.handleLogoutAll)

	v1.POST("/sessions", s.handleLogin)
	v1.POST("/auth_session/login", s.handleLogin)
	v1.DELETE("/sessions", s.handleLogout)
	v1.DELETE("/auth_session/logout", s.handleLogout)

	v1.POST("/reset_password", s.handleResetRequest)
	v1.PUT("/reset_password", s.handleResetConsume)

	return r
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
}

func abortForbidden(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
}

func abortInternal(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}
