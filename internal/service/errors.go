package service

import "errors"

// Service-level errors. Handlers map these, together with the approval
// package sentinels, to HTTP statuses.
var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired refresh token")
	ErrOpenRequest        = errors.New("an approval request is already open for this entity")
	ErrForbidden          = errors.New("operation not allowed")
)
