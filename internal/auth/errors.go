package auth

import "errors"

var (
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrConflict           = errors.New("auth: already exists")
	ErrNotFound           = errors.New("auth: not found")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrForbidden          = errors.New("auth: forbidden")
	// ErrStorage wraps failures of the user store other than not-found and conflict.
	ErrStorage = errors.New("auth: storage failure")
)
