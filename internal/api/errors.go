package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/qssma-portal/internal/gateway"
	"github.com/lalith-99/qssma-portal/internal/session"
)

// loginFailure maps a login error to a status and a message the operator
// can act on. Not-found and deactivated badges read differently on purpose.
func loginFailure(err error) (int, gin.H) {
	switch {
	case errors.Is(err, session.ErrEmptyBadge), errors.Is(err, session.ErrInvalidCredentials):
		return http.StatusBadRequest, gin.H{"error": err.Error()}
	case errors.Is(err, session.ErrSuperseded):
		return http.StatusConflict, gin.H{"error": "login cancelled"}
	}

	var le *session.LoginError
	if !errors.As(err, &le) {
		return http.StatusInternalServerError, gin.H{"error": "login failed"}
	}
	switch le.Kind {
	case session.NotFound:
		return http.StatusNotFound, gin.H{"error": "badge not recognized — contact HR", "kind": le.Kind.String()}
	case session.Deactivated:
		return http.StatusForbidden, gin.H{"error": "badge deactivated — contact your manager", "kind": le.Kind.String()}
	case session.Transient:
		return http.StatusServiceUnavailable, gin.H{"error": "service unreachable, try again", "kind": le.Kind.String(), "retry": true}
	}

	// Rejected manager sign-in.
	body := gin.H{"error": "sign-in rejected", "kind": le.Kind.String()}
	if le.Auth == nil {
		return http.StatusUnauthorized, body
	}
	body["reason"] = le.Auth.Kind.String()
	switch le.Auth.Kind {
	case gateway.AuthInvalidCredential:
		body["error"] = "invalid email or password"
		return http.StatusUnauthorized, body
	case gateway.AuthAccountDisabled:
		body["error"] = "account disabled"
		return http.StatusForbidden, body
	case gateway.AuthTooManyAttempts:
		body["error"] = "too many attempts, try again later"
		return http.StatusTooManyRequests, body
	default:
		return http.StatusUnauthorized, body
	}
}

// gatewayFailure maps ReadError and WriteError kinds. Authorization
// failures carry the screen the UI should route to.
func gatewayFailure(err error) (int, gin.H) {
	body := gin.H{"error": err.Error()}
	switch gateway.KindOf(err) {
	case gateway.Unauthenticated:
		body["screen"] = "manager-login"
		return http.StatusUnauthorized, body
	case gateway.Unauthorized:
		body["screen"] = "manager-login"
		return http.StatusForbidden, body
	case gateway.NotFound:
		return http.StatusNotFound, body
	case gateway.InvalidInput:
		return http.StatusBadRequest, body
	case gateway.NetworkUnavailable:
		body["retry"] = true
		return http.StatusServiceUnavailable, body
	default:
		return http.StatusInternalServerError, gin.H{"error": "request failed"}
	}
}
