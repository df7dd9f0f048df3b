// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across store/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoSession indicates no user is currently logged in on this device.
	ErrNoSession = errors.New("no active session")

	// ErrUnauthorized indicates failed authentication against the vendor or the control API.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict indicates an alert rule collides with an existing one.
	ErrConflict = errors.New("conflicting alert rule")

	// ErrValidation indicates a request failed input validation.
	ErrValidation = errors.New("validation failed")

	// ErrRemoteUnavailable indicates the vendor service returned no usable response.
	ErrRemoteUnavailable = errors.New("remote service unavailable")
)
