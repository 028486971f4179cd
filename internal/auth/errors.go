package auth

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput   = errors.New("auth: invalid input")
	ErrNotFound       = errors.New("auth: not found")
	ErrConflict       = errors.New("auth: already exists")
	ErrAuthFailed     = errors.New("auth: authentication failed")
	ErrAccessDenied   = errors.New("auth: access denied")
	ErrInfrastructure = errors.New("auth: backing store unavailable")

	// ErrThrottled is returned when too many attempts were made for one
	// email. It matches ErrAuthFailed.
	ErrThrottled = fmt.Errorf("%w: too many attempts", ErrAuthFailed)
)

func infraError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInfrastructure, op, err)
}
