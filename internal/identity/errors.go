package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Provider error codes. They follow the email/password provider's own
// vocabulary; the gateway translates them into its closed taxonomy.
const (
	CodeInvalidEmail    = "auth/invalid-email"
	CodeUserNotFound    = "auth/user-not-found"
	CodeWrongPassword   = "auth/wrong-password"
	CodeUserDisabled    = "auth/user-disabled"
	CodeTooManyRequests = "auth/too-many-requests"
	CodeNetworkFailed   = "auth/network-request-failed"
	CodeInvalidToken    = "auth/invalid-user-token"
	CodeTokenExpired    = "auth/user-token-expired"
	CodeTokenRevoked    = "auth/user-token-revoked"
	CodeInternal        = "auth/internal-error"
)

// ProviderError is the only error type the provider returns.
type ProviderError struct {
	Code string
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *ProviderError) Unwrap() error { return e.Err }

func providerErr(code string, err error) *ProviderError {
	return &ProviderError{Code: code, Err: err}
}

// infraErr classifies a storage failure as a network failure when the
// cause is a transport problem, otherwise as an internal error.
func infraErr(err error) *ProviderError {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return providerErr(CodeNetworkFailed, err)
	}
	return providerErr(CodeInternal, err)
}

// Code extracts the provider code from err, or "" if err is not a
// ProviderError.
func Code(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
