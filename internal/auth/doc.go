// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth provides credential and session primitives for gatekeeper.
//
// # Domain Types
//
//   - User - a registered identity; in single-session mode it also carries the live session token
//   - Session - a persisted login row, created with NewSession
//   - UserUpdate - a partial update built from Field values (Set, Clear)
//
// Repository implementations live in the postgres, redis and memory
// subpackages. Misses wrap ErrNotFound; storage faults surface from the
// Service as errors matching ErrRepositoryFailure.
//
// # Services
//
// Service coordinates registration, login verification, session lifecycle
// and the password reset flow. It is created with NewAuthService, which
// validates its dependencies.
package auth
