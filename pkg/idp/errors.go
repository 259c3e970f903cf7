package idp

import "errors"

var (
	// ErrInitialization indicates the provider handshake could not complete
	// at boot. Callers degrade to an unauthenticated session instead of
	// failing the application.
	ErrInitialization = errors.New("identity provider initialization failed")

	// ErrRefresh indicates the remote refresh call failed (network error or
	// revoked refresh token). The adapter has already taken the logout path
	// when this is returned.
	ErrRefresh = errors.New("token refresh failed")

	// ErrNotAuthenticated indicates an operation that requires an
	// authenticated session was called without one.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrInvalidState indicates a callback carried an unknown or reused
	// state parameter.
	ErrInvalidState = errors.New("invalid or expired state parameter")
)
