// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// Sentinel errors. Returned errors carry an oops code and wrap one of these,
// so callers match with errors.Is.
var (
	// ErrNotFound is returned by repositories when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUserAlreadyExists is returned when registering an email that is taken.
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrUserNotFound is returned by operations that need an existing user.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidOrExpiredToken is returned when a reset token does not match any user.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")

	// ErrRepositoryFailure marks storage-layer faults.
	ErrRepositoryFailure = errors.New("repository failure")
)

// RepositoryError wraps a storage fault with the operation that hit it.
// It matches ErrRepositoryFailure under errors.Is while still unwrapping
// to the driver error.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return "repository failure: " + e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying storage error.
func (e *RepositoryError) Unwrap() error { return e.Err }

// Is reports whether target is ErrRepositoryFailure.
func (e *RepositoryError) Is(target error) bool { return target == ErrRepositoryFailure }

// IsRepositoryFailure reports whether err is a storage-layer fault.
func IsRepositoryFailure(err error) bool {
	return errors.Is(err, ErrRepositoryFailure)
}

func repositoryFailure(op string, err error) error {
	return oops.Code("AUTH_REPOSITORY_FAILURE").
		With("operation", op).
		Wrap(&RepositoryError{Op: op, Err: err})
}
