// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/observability"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

// Auth operation labels.
const (
	opRegister     = "register"
	opLogin        = "login"
	opLogout       = "logout"
	opResetRequest = "reset_request"
	opResetConsume = "reset_consume"
)

// credentials accepts either form fields or a JSON body.
type credentials struct {
	Email       string `form:"email" json:"email"`
	Password    string `form:"password" json:"password"`
	ResetToken  string `form:"reset_token" json:"reset_token"`
	NewPassword string `form:"new_password" json:"new_password"`
}

func bindCredentials(c *gin.Context) (credentials, bool) {
	var req credentials
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "malformed request body"})
		return req, false
	}
	req.Email = strings.TrimSpace(req.Email)
	return req, true
}

// fail logs err as an internal failure of op and answers 500.
func (s *Server) fail(c *gin.Context, op string, err error) {
	s.metrics.RecordAuth(op, observability.ResultError)
	errutil.LogError(s.logger, "request failed",
		oops.Code("HTTP_HANDLER_FAILED").
			With("operation", op).
			With("path", c.Request.URL.Path).
			Wrap(err))
	abortInternal(c)
}

func (s *Server) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Bienvenue"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

func (s *Server) handleStats(c *gin.Context) {
	n, err := s.service.CountUsers(c.Request.Context())
	if err != nil {
		s.fail(c, "stats", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": n})
}

func (s *Server) handleRegister(c *gin.Context) {
	req, ok := bindCredentials(c)
	if !ok {
		return
	}
	if req.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "email missing"})
		return
	}
	if req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "password missing"})
		return
	}

	user, err := s.service.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUserAlreadyExists) {
			s.metrics.RecordAuth(opRegister, observability.ResultRejected)
			c.JSON(http.StatusBadRequest, gin.H{"message": "email already registered"})
			return
		}
		s.fail(c, opRegister, err)
		return
	}
	s.metrics.RecordAuth(opRegister, observability.ResultSuccess)
	c.JSON(http.StatusOK, gin.H{"email": user.Email, "message": "user created"})
}

func (s *Server) handleLogin(c *gin.Context) {
	req, ok := bindCredentials(c)
	if !ok {
		return
	}
	if req.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email missing"})
		return
	}
	if req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password missing"})
		return
	}

	ctx := c.Request.Context()
	user, err := s.service.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		s.fail(c, opLogin, err)
		return
	}
	if user == nil {
		s.metrics.RecordAuth(opLogin, observability.ResultRejected)
		abortUnauthorized(c)
		return
	}

	token, ok, err := s.service.CreateSession(ctx, user.Email)
	if err != nil {
		s.fail(c, opLogin, err)
		return
	}
	if !ok {
		// User vanished between verification and session creation.
		s.metrics.RecordAuth(opLogin, observability.ResultRejected)
		abortUnauthorized(c)
		return
	}

	s.metrics.RecordAuth(opLogin, observability.ResultSuccess)
	s.setSessionCookie(c, token)
	c.JSON(http.StatusOK, gin.H{"email": user.Email, "message": "logged in"})
}

func (s *Server) handleLogout(c *gin.Context) {
	token, err := c.Cookie(s.cookie)
	if err != nil || token == "" {
		s.metrics.RecordAuth(opLogout, observability.ResultRejected)
		abortForbidden(c)
		return
	}

	ended, err := s.service.EndSession(c.Request.Context(), token)
	if err != nil {
		s.fail(c, opLogout, err)
		return
	}
	if !ended {
		s.metrics.RecordAuth(opLogout, observability.ResultRejected)
		abortForbidden(c)
		return
	}

	s.metrics.RecordAuth(opLogout, observability.ResultSuccess)
	s.clearSessionCookie(c)
	c.Redirect(http.StatusFound, "/")
}

// currentUser returns the gate-resolved user, falling back to the session
// cookie when the gate is disabled. It aborts the request when there is none.
func (s *Server) currentUser(c *gin.Context, op string) (*auth.User, bool) {
	if user, ok := auth.UserFromContext(c.Request.Context()); ok {
		return user, true
	}
	token, err := c.Cookie(s.cookie)
	if err != nil || token == "" {
		abortForbidden(c)
		return nil, false
	}
	user, err := s.service.ResolveBySession(c.Request.Context(), token)
	if err != nil {
		s.fail(c, op, err)
		return nil, false
	}
	if user == nil {
		abortForbidden(c)
		return nil, false
	}
	return user, true
}

func (s *Server) handleMe(c *gin.Context) {
	user, ok := s.currentUser(c, "profile")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": user.ID.String(), "email": user.Email})
}

// handleLogoutAll ends every session of the current user.
func (s *Server) handleLogoutAll(c *gin.Context) {
	user, ok := s.currentUser(c, opLogout)
	if !ok {
		return
	}
	if err := s.service.DestroySession(c.Request.Context(), user.ID); err != nil {
		s.fail(c, opLogout, err)
		return
	}
	s.metrics.RecordAuth(opLogout, observability.ResultSuccess)
	s.clearSessionCookie(c)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleResetRequest(c *gin.Context) {
	req, ok := bindCredentials(c)
	if !ok {
		return
	}

	token, err := s.service.IssueResetToken(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			s.metrics.RecordAuth(opResetRequest, observability.ResultRejected)
			abortForbidden(c)
			return
		}
		s.fail(c, opResetRequest, err)
		return
	}
	s.metrics.RecordAuth(opResetRequest, observability.ResultSuccess)
	c.JSON(http.StatusOK, gin.H{"email": req.Email, "reset_token": token})
}

func (s *Server) handleResetConsume(c *gin.Context) {
	req, ok := bindCredentials(c)
	if !ok {
		return
	}
	if req.NewPassword == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "new_password missing"})
		return
	}

	err := s.service.ConsumeResetToken(c.Request.Context(), req.ResetToken, req.NewPassword)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidOrExpiredToken) {
			s.metrics.RecordAuth(opResetConsume, observability.ResultRejected)
			abortForbidden(c)
			return
		}
		s.fail(c, opResetConsume, err)
		return
	}
	s.metrics.RecordAuth(opResetConsume, observability.ResultSuccess)
	c.JSON(http.StatusOK, gin.H{"email": req.Email, "message": "Password updated"})
}

func (s *Server) setSessionCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cookie, token, int(s.cookieTTL.Seconds()), "/", "", s.secure, true)
}

func (s *Server) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cookie, "", -1, "/", "", s.secure, true)
}
