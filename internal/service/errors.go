package service

import (
	"errors"
	"fmt"

	"github.com/Skotchmaster/auth_gateway/internal/repo"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("user already exists")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrUnauthorized)
	ErrExpired      = fmt.Errorf("%w: token expired", ErrInvalidToken)
	ErrNotFound     = errors.New("user not found")
	ErrUnavailable  = errors.New("user store unavailable")
)

// storeErr maps a user store failure that is not part of the caller's
// expected flow. Anything other than a missing record is treated as the store
// being unavailable.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repo.ErrDuplicate):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	default:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}
