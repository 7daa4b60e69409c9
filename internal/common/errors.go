// Package common defines shared constants and sentinel errors used across
// the safety engine. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Recoverable input errors, surfaced to the caller.
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrLimitExceeded = errors.New("limit exceeded")

	// ErrIsolationViolation means a storage path resolved outside the
	// profile's designated directory. Treated as a security incident:
	// logged, never silently swallowed.
	ErrIsolationViolation = errors.New("profile isolation violation")

	// Session lifecycle errors.
	ErrSessionClosed = errors.New("session closed")
	ErrProfileLocked = errors.New("profile locked")

	// ErrConfiguration means the policy bundle is unreadable or corrupt.
	// Fatal: the classifier fails closed while this condition holds.
	ErrConfiguration = errors.New("configuration error")

	// Auth errors (wrong password, invalid or expired tokens).
	ErrAuthentication      = errors.New("authentication failed")
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// Generic internal flow control.
	ErrInternal = errors.New("internal error")
)
