// Package identity is the email/password identity provider. It knows
// credentials and tokens, nothing about manager roles: role checks belong
// to the gateway.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lalith-99/qssma-portal/internal/auth"
	"github.com/lalith-99/qssma-portal/internal/models"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// CredentialStore looks up provider accounts by email.
type CredentialStore interface {
	GetCredentialByEmail(ctx context.Context, email string) (*models.ManagerCredential, error)
}

// Principal is an authenticated account.
type Principal struct {
	UID       string
	Email     string
	Token     string
	ExpiresAt time.Time
}

type Options struct {
	Secret      string
	TokenTTL    time.Duration
	MaxAttempts int
	Window      time.Duration
	Now         func() time.Time
}

type Provider struct {
	creds  CredentialStore
	guard  Guard
	opts   Options
	logger *zap.Logger
}

func NewProvider(creds CredentialStore, guard Guard, opts Options, logger *zap.Logger) *Provider {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 12 * time.Hour
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Window <= 0 {
		opts.Window = 15 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{creds: creds, guard: guard, opts: opts, logger: logger}
}

// SignIn checks email/password and issues a token.
//
// Unknown email and wrong password both count towards the per-email
// attempt limit; once it is reached every attempt fails with
// CodeTooManyRequests until the window expires, even with the right
// password.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*Principal, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, providerErr(CodeInvalidEmail, nil)
	}

	failures, err := p.guard.Failures(ctx, email)
	if err != nil {
		return nil, infraErr(err)
	}
	if failures >= p.opts.MaxAttempts {
		return nil, providerErr(CodeTooManyRequests, nil)
	}

	cred, err := p.creds.GetCredentialByEmail(ctx, email)
	if err != nil {
		return nil, infraErr(err)
	}
	if cred == nil {
		p.recordFailure(ctx, email)
		return nil, providerErr(CodeUserNotFound, nil)
	}
	if cred.Disabled {
		return nil, providerErr(CodeUserDisabled, nil)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		p.recordFailure(ctx, email)
		return nil, providerErr(CodeWrongPassword, nil)
	}

	if err := p.guard.ResetFailures(ctx, email); err != nil {
		p.logger.Warn("reset sign-in failures", zap.String("email", email), zap.Error(err))
	}

	signed, claims, err := auth.GenerateToken(cred.UID, cred.Email, p.opts.Secret, p.opts.TokenTTL, p.opts.Now())
	if err != nil {
		return nil, providerErr(CodeInternal, err)
	}
	return &Principal{
		UID:       cred.UID,
		Email:     cred.Email,
		Token:     signed,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Verify reports the principal a token still represents.
func (p *Provider) Verify(ctx context.Context, token string) (*Principal, error) {
	claims, err := auth.ParseToken(token, p.opts.Secret, p.opts.Now())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, providerErr(CodeTokenExpired, err)
		}
		return nil, providerErr(CodeInvalidToken, err)
	}

	revoked, err := p.guard.Revoked(ctx, claims.ID)
	if err != nil {
		return nil, infraErr(err)
	}
	if revoked {
		return nil, providerErr(CodeTokenRevoked, nil)
	}

	return &Principal{
		UID:       claims.UID,
		Email:     claims.Email,
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// SignOut revokes token until it would have expired. Tokens that no longer
// parse are already unusable, so signing them out is a no-op.
func (p *Provider) SignOut(ctx context.Context, token string) error {
	claims, err := auth.ParseToken(token, p.opts.Secret, p.opts.Now())
	if err != nil {
		return nil
	}
	ttl := claims.ExpiresAt.Time.Sub(p.opts.Now())
	if err := p.guard.Revoke(ctx, claims.ID, ttl); err != nil {
		return infraErr(err)
	}
	return nil
}

func (p *Provider) recordFailure(ctx context.Context, email string) {
	if err := p.guard.RecordFailure(ctx, email, p.opts.Window); err != nil {
		p.logger.Warn("record sign-in failure", zap.String("email", email), zap.Error(err))
	}
}
