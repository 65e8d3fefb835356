package session

import (
	"errors"

	"github.com/lalith-99/qssma-portal/internal/gateway"
)

var (
	ErrEmptyBadge         = errors.New("badge number is required")
	ErrInvalidCredentials = errors.New("email and password are required")
	// ErrSuperseded means a logout or newer login ran while this attempt
	// was waiting on the gateway. Its result was dropped.
	ErrSuperseded = errors.New("login attempt superseded")
)

type LoginErrorKind int

const (
	// NotFound: no worker holds the badge.
	NotFound LoginErrorKind = iota
	// Deactivated: the worker exists but is no longer active.
	Deactivated
	// Transient: the gateway could not be reached. Retry later.
	Transient
	// Rejected: the identity provider refused the manager credentials.
	Rejected
)

func (k LoginErrorKind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Deactivated:
		return "deactivated"
	case Transient:
		return "transient"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

type LoginError struct {
	Kind LoginErrorKind
	// Auth is set for manager logins that reached the identity provider.
	Auth *gateway.AuthError
	Err  error
}

func (e *LoginError) Error() string {
	if e.Err != nil {
		return "login " + e.Kind.String() + ": " + e.Err.Error()
	}
	return "login " + e.Kind.String()
}

func (e *LoginError) Unwrap() error { return e.Err }
