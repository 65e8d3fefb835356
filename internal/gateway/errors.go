package gateway

import (
	"errors"
	"fmt"

	"github.com/lalith-99/qssma-portal/internal/identity"
)

// AuthErrorKind is the closed set of manager sign-in failures.
type AuthErrorKind int

const (
	AuthUnknown AuthErrorKind = iota
	AuthInvalidCredential
	AuthAccountDisabled
	AuthTooManyAttempts
	AuthNetworkUnavailable
)

func (k AuthErrorKind) String() string {
	switch k {
	case AuthInvalidCredential:
		return "invalid credential"
	case AuthAccountDisabled:
		return "account disabled"
	case AuthTooManyAttempts:
		return "too many attempts"
	case AuthNetworkUnavailable:
		return "network unavailable"
	default:
		return "unknown"
	}
}

// AuthError never carries provider text; Error() is safe to show.
type AuthError struct {
	Kind AuthErrorKind
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Kind.String()
}

// ErrorKind classifies read and write failures.
type ErrorKind int

const (
	Unauthenticated ErrorKind = iota + 1
	Unauthorized
	NetworkUnavailable
	NotFound
	// InvalidInput rejects a draft or patch before it reaches storage.
	InvalidInput
)

func (k ErrorKind) String() string {
	switch k {
	case Unauthenticated:
		return "not signed in"
	case Unauthorized:
		return "not allowed"
	case NetworkUnavailable:
		return "network unavailable"
	case NotFound:
		return "not found"
	case InvalidInput:
		return "invalid input"
	default:
		return fmt.Sprintf("error kind %d", int(k))
	}
}

type ReadError struct {
	Kind ErrorKind
	Err  error
}

func (e *ReadError) Error() string { return "read failed: " + e.Kind.String() }
func (e *ReadError) Unwrap() error { return e.Err }

// WriteError is surfaced to the operator, so Kind must be specific enough
// to act on.
type WriteError struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *WriteError) Error() string {
	if e.Reason != "" {
		return "write failed: " + e.Kind.String() + ": " + e.Reason
	}
	return "write failed: " + e.Kind.String()
}

func (e *WriteError) Unwrap() error { return e.Err }

// KindOf returns the kind of a ReadError or WriteError, or 0.
func KindOf(err error) ErrorKind {
	var re *ReadError
	if errors.As(err, &re) {
		return re.Kind
	}
	var we *WriteError
	if errors.As(err, &we) {
		return we.Kind
	}
	return 0
}

// authKind translates provider codes. Codes the gateway does not know map
// to AuthUnknown.
func authKind(err error) AuthErrorKind {
	switch identity.Code(err) {
	case identity.CodeWrongPassword, identity.CodeUserNotFound, identity.CodeInvalidEmail:
		return AuthInvalidCredential
	case identity.CodeUserDisabled:
		return AuthAccountDisabled
	case identity.CodeTooManyRequests:
		return AuthTooManyAttempts
	case identity.CodeNetworkFailed:
		return AuthNetworkUnavailable
	default:
		return AuthUnknown
	}
}

// tokenKind maps a token verification failure.
func tokenKind(err error) ErrorKind {
	switch identity.Code(err) {
	case identity.CodeNetworkFailed, identity.CodeInternal:
		return NetworkUnavailable
	default:
		return Unauthenticated
	}
}
