// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"github.com/google/uuid"
	"github.com/samber/oops"
)

// TokenIssuer mints opaque tokens for sessions and password resets.
type TokenIssuer interface {
	NewToken() (string, error)
}

// UUIDTokenIssuer issues random (version 4) UUIDs in canonical form.
type UUIDTokenIssuer struct{}

// NewUUIDTokenIssuer creates a UUIDTokenIssuer.
func NewUUIDTokenIssuer() *UUIDTokenIssuer {
	return &UUIDTokenIssuer{}
}

// NewToken returns a fresh 128-bit identifier, 122 bits of which are random.
func (UUIDTokenIssuer) NewToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", oops.Code("AUTH_TOKEN_FAILED").With("operation", "generate token").Wrap(err)
	}
	return id.String(), nil
}

// TokenIssuerFunc adapts a function to TokenIssuer.
type TokenIssuerFunc func() (string, error)

// NewToken calls f.
func (f TokenIssuerFunc) NewToken() (string, error) { return f() }

var (
	_ TokenIssuer = UUIDTokenIssuer{}
	_ TokenIssuer = TokenIssuerFunc(nil)
)
