package auth

import "errors"

var (
	// ErrInvalidCredentials covers both an unknown username and a wrong password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrStoreUnavailable wraps driver and connection failures.
	ErrStoreUnavailable = errors.New("auth: credential store unavailable")
	// ErrNotFound is returned by a CredentialStore when no account matches.
	ErrNotFound     = errors.New("auth: not found")
	ErrInvalidInput = errors.New("auth: invalid input")
)
