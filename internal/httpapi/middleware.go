// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/gate"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

// userKey is the gin context key holding the gate-resolved *auth.User.
const userKey = "user"

// enforceGate runs the gate before any handler and attaches the resolved user.
func (s *Server) enforceGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.gate == nil {
			c.Next()
			return
		}

		d := s.gate.Decide(c.Request.Context(), c.Request.URL.Path, gate.FromHTTP(c.Request))
		switch d.Outcome {
		case gate.RejectUnauthorized:
			abortUnauthorized(c)
			return
		case gate.RejectForbidden:
			abortForbidden(c)
			return
		}

		if d.User != nil {
			c.Set(userKey, d.User)
			c.Request = c.Request.WithContext(auth.WithUser(c.Request.Context(), d.User))
		}
		c.Next()
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.DebugContext(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				errutil.LogError(s.logger, "http handler panicked",
					oops.Code("HTTP_PANIC").
						With("method", c.Request.Method).
						With("path", c.Request.URL.Path).
						Errorf("%v", r))
				abortInternal(c)
			}
		}()
		c.Next()
	}
}

func (s *Server) countRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordRequest(c.Request.Method, route, c.Writer.Status())
	}
}

// cors answers preflight requests and echoes allowed origins.
func (s *Server) cors() gin.HandlerFunc {
	anyOrigin := slices.Contains(s.corsOrigins, "*")
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (anyOrigin || slices.Contains(s.corsOrigins, origin)) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Origin")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Add("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
