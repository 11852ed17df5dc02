package oauth

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedProvider   = errors.New("unsupported oauth2 provider")
	ErrProviderNotConfigured = errors.New("oauth2 provider not configured")
	ErrEmailUnavailable      = errors.New("email unavailable")
	ErrMissingProviderID     = errors.New("provider user id unavailable")
	ErrInvalidState          = errors.New("invalid or expired oauth2 state")
	ErrMissingIDToken        = errors.New("no id_token in token response")
	ErrUsernameExhausted     = errors.New("could not allocate a unique username")
)

// Error wraps a failure talking to a provider. Its message is for logs only;
// handlers show clients an opaque message.
type Error struct {
	Provider Provider
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("oauth2 %s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func providerErr(p Provider, op string, err error) error {
	return &Error{Provider: p, Op: op, Err: err}
}
