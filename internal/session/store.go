// Package session owns "who is signed in on this device". Store is the
// single writer of the session namespace in device storage.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/lalith-99/qssma-portal/internal/gateway"
	"github.com/lalith-99/qssma-portal/internal/models"
	"go.uber.org/zap"
)

// Session keys. They are written and cleared together.
const (
	Prefix          = "session."
	KeyRole         = "session.role"
	KeyWorkerID     = "session.workerId"
	KeyManagerEmail = "session.managerEmail"
	KeyManagerToken = "session.managerToken"
)

// Gateway is the part of the remote gateway the store needs.
type Gateway interface {
	FindWorkerByBadge(ctx context.Context, id string) (*models.Worker, error)
	AuthenticateManager(ctx context.Context, email, password string) (*gateway.ManagerToken, error)
	VerifyManager(ctx context.Context, token string) (*gateway.ManagerToken, error)
	SignOut(ctx context.Context, token string)
}

// Storage is durable device storage.
type Storage interface {
	All(ctx context.Context, prefix string) (map[string]string, error)
	ReplacePrefix(ctx context.Context, prefix string, values map[string]string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// Feed is the notice feed subscription the session drives.
type Feed interface {
	Start()
	Stop()
}

// Credentials selects the login flow by Role.
type Credentials struct {
	Role     models.Role
	Badge    string
	Email    string
	Password string
}

func WorkerCredentials(badge string) Credentials {
	return Credentials{Role: models.RoleWorker, Badge: badge}
}

func ManagerCredentials(email, password string) Credentials {
	return Credentials{Role: models.RoleManager, Email: email, Password: password}
}

type Store struct {
	gw      Gateway
	storage Storage
	feed    Feed
	logger  *zap.Logger

	mu      sync.Mutex
	current models.Session
	// attempt increments on every login, restore and logout. An async step
	// whose attempt is no longer current drops its result.
	attempt uint64
}

func NewStore(gw Gateway, storage Storage, feed Feed, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		gw:      gw,
		storage: storage,
		feed:    feed,
		logger:  logger,
		current: models.Guest(),
	}
}

// Current returns the signed-in session, or a guest session.
func (s *Store) Current() models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Login signs a worker in by badge or a manager in by email/password.
func (s *Store) Login(ctx context.Context, creds Credentials) (models.Session, error) {
	switch creds.Role {
	case models.RoleWorker:
		return s.loginWorker(ctx, creds.Badge)
	case models.RoleManager:
		return s.loginManager(ctx, creds.Email, creds.Password)
	default:
		return models.Guest(), fmt.Errorf("%w: cannot log in as %q", ErrInvalidCredentials, creds.Role)
	}
}

func (s *Store) loginWorker(ctx context.Context, badge string) (models.Session, error) {
	badge = gateway.NormalizeBadge(badge)
	if badge == "" {
		return models.Guest(), ErrEmptyBadge
	}

	attempt := s.begin()
	w, err := s.gw.FindWorkerByBadge(ctx, badge)
	if !s.isCurrent(attempt) {
		return models.Guest(), ErrSuperseded
	}
	if err != nil {
		return models.Guest(), &LoginError{Kind: Transient, Err: err}
	}
	if w == nil {
		return models.Guest(), &LoginError{Kind: NotFound}
	}
	if !w.Active {
		return models.Guest(), &LoginError{Kind: Deactivated}
	}

	sess := models.Session{
		Role:        models.RoleWorker,
		WorkerID:    badge,
		DisplayName: w.Name,
		JobTitle:    w.JobTitle,
	}
	if err := s.commit(ctx, attempt, sess); err != nil {
		return models.Guest(), err
	}
	s.logger.Info("worker signed in", zap.String("badge", badge))
	return sess, nil
}

func (s *Store) loginManager(ctx context.Context, email, password string) (models.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return models.Guest(), ErrInvalidCredentials
	}

	attempt := s.begin()
	tok, err := s.gw.AuthenticateManager(ctx, email, password)
	if !s.isCurrent(attempt) {
		if tok != nil {
			s.gw.SignOut(ctx, tok.Token)
		}
		return models.Guest(), ErrSuperseded
	}
	if err != nil {
		var authErr *gateway.AuthError
		if errors.As(err, &authErr) {
			kind := Rejected
			if authErr.Kind == gateway.AuthNetworkUnavailable {
				kind = Transient
			}
			return models.Guest(), &LoginError{Kind: kind, Auth: authErr, Err: err}
		}
		return models.Guest(), &LoginError{Kind: Transient, Err: err}
	}

	sess := models.Session{
		Role:         models.RoleManager,
		ManagerEmail: tok.Email,
		ManagerToken: tok.Token,
		DisplayName:  tok.DisplayName,
	}
	if err := s.commit(ctx, attempt, sess); err != nil {
		s.gw.SignOut(ctx, tok.Token)
		return models.Guest(), err
	}
	s.logger.Info("manager signed in", zap.String("email", tok.Email))
	return sess, nil
}

// Restore rehydrates the session persisted by a previous run and
// revalidates it: a worker must still exist and be active, a manager token
// must still verify. Any failure clears the session keys and reports no
// session; there is no degraded session.
func (s *Store) Restore(ctx context.Context) (models.Session, bool) {
	attempt := s.begin()

	kv, err := s.storage.All(ctx, Prefix)
	if err != nil {
		s.logger.Warn("read persisted session failed", zap.Error(err))
		return s.discard(ctx, attempt)
	}

	var sess models.Session
	switch models.Role(kv[KeyRole]) {
	case models.RoleWorker:
		badge := kv[KeyWorkerID]
		if badge == "" {
			return s.discard(ctx, attempt)
		}
		w, err := s.gw.FindWorkerByBadge(ctx, badge)
		if !s.isCurrent(attempt) {
			return models.Guest(), false
		}
		if err != nil || w == nil || !w.Active {
			s.logger.Info("persisted worker session rejected", zap.String("badge", badge), zap.Error(err))
			return s.discard(ctx, attempt)
		}
		sess = models.Session{Role: models.RoleWorker, WorkerID: badge, DisplayName: w.Name, JobTitle: w.JobTitle}

	case models.RoleManager:
		token, email := kv[KeyManagerToken], kv[KeyManagerEmail]
		if token == "" || email == "" {
			return s.discard(ctx, attempt)
		}
		tok, err := s.gw.VerifyManager(ctx, token)
		if !s.isCurrent(attempt) {
			return models.Guest(), false
		}
		if err != nil || !strings.EqualFold(tok.Email, email) {
			s.logger.Info("persisted manager session rejected", zap.String("email", email), zap.Error(err))
			return s.discard(ctx, attempt)
		}
		sess = models.Session{Role: models.RoleManager, ManagerEmail: tok.Email, ManagerToken: token, DisplayName: tok.DisplayName}

	case "":
		return s.discard(ctx, attempt)

	default:
		s.logger.Warn("unknown persisted role", zap.String("role", kv[KeyRole]))
		return s.discard(ctx, attempt)
	}

	if err := s.commit(ctx, attempt, sess); err != nil {
		s.logger.Warn("restore commit failed", zap.Error(err))
		return models.Guest(), false
	}
	return sess, true
}

// Logout stops the feed, clears the session keys in one transaction and
// signs a manager out of the identity provider. Any login or restore in
// flight is superseded.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.attempt++
	prev := s.current
	s.current = models.Guest()
	s.feed.Stop()
	err := s.storage.DeletePrefix(ctx, Prefix)
	s.mu.Unlock()

	if prev.ManagerToken != "" {
		s.gw.SignOut(ctx, prev.ManagerToken)
	}
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	if prev.Role != models.RoleGuest {
		s.logger.Info("signed out", zap.String("role", string(prev.Role)))
	}
	return nil
}

func (s *Store) begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt++
	return s.attempt
}

func (s *Store) isCurrent(attempt uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt == attempt
}

// commit persists sess and makes it current, unless attempt was superseded
// while the caller was waiting on the gateway.
func (s *Store) commit(ctx context.Context, attempt uint64, sess models.Session) error {
	s.mu.Lock()
	if s.attempt != attempt {
		s.mu.Unlock()
		return ErrSuperseded
	}
	if err := s.storage.ReplacePrefix(ctx, Prefix, persisted(sess)); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("persist session: %w", err)
	}
	prev := s.current
	s.current = sess
	if prev.Role != models.RoleGuest && !sameIdentity(prev, sess) {
		s.feed.Stop()
	}
	s.feed.Start()
	s.mu.Unlock()

	if prev.ManagerToken != "" && prev.ManagerToken != sess.ManagerToken {
		s.gw.SignOut(ctx, prev.ManagerToken)
	}
	return nil
}

// discard clears the persisted session after a failed restore.
func (s *Store) discard(ctx context.Context, attempt uint64) (models.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt != attempt {
		return models.Guest(), false
	}
	if err := s.storage.DeletePrefix(ctx, Prefix); err != nil {
		s.logger.Warn("clear persisted session failed", zap.Error(err))
	}
	if s.current.Role != models.RoleGuest {
		s.feed.Stop()
		s.current = models.Guest()
	}
	return models.Guest(), false
}

// persisted is what survives a restart: the role and its identifier, plus
// the manager token so restore can revalidate it. Never a password.
func persisted(sess models.Session) map[string]string {
	kv := map[string]string{KeyRole: string(sess.Role)}
	switch sess.Role {
	case models.RoleWorker:
		kv[KeyWorkerID] = sess.WorkerID
	case models.RoleManager:
		kv[KeyManagerEmail] = sess.ManagerEmail
		kv[KeyManagerToken] = sess.ManagerToken
	}
	return kv
}

func sameIdentity(a, b models.Session) bool {
	return a.Role == b.Role && a.WorkerID == b.WorkerID && strings.EqualFold(a.ManagerEmail, b.ManagerEmail)
}
