package auth

import (
	"errors"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/golang-jwt/jwt/v5"
)

func TestTokenRoundTrip(t *testing.T) {
	c := qt.New(t)
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	signed, issued, err := GenerateToken("uid-1", "gestor@example.com", "secret", time.Hour, now)
	c.Assert(err, qt.IsNil)
	c.Assert(issued.ID, qt.Not(qt.Equals), "")

	claims, err := ParseToken(signed, "secret", now.Add(30*time.Minute))
	c.Assert(err, qt.IsNil)
	c.Assert(claims.UID, qt.Equals, "uid-1")
	c.Assert(claims.Email, qt.Equals, "gestor@example.com")
	c.Assert(claims.ID, qt.Equals, issued.ID)
}

func TestParseTokenRejects(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	signed, _, err := GenerateToken("uid-1", "gestor@example.com", "secret", time.Hour, now)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	tests := []struct {
		name   string
		token  string
		secret string
		at     time.Time
		isErr  error
	}{
		{name: "expired", token: signed, secret: "secret", at: now.Add(2 * time.Hour), isErr: jwt.ErrTokenExpired},
		{name: "wrong secret", token: signed, secret: "other", at: now, isErr: jwt.ErrTokenSignatureInvalid},
		{name: "garbage", token: "not-a-token", secret: "secret", at: now, isErr: jwt.ErrTokenMalformed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseToken(tc.token, tc.secret, tc.at)
			if !errors.Is(err, tc.isErr) {
				t.Fatalf("expected %v, got %v", tc.isErr, err)
			}
		})
	}
}
