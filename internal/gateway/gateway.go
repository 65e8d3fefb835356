// Package gateway is the only code that talks to the identity provider,
// the document store and the change bus. Everything above it sees typed
// results and the closed error taxonomy in errors.go.
package gateway

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lalith-99/qssma-portal/internal/bus"
	"github.com/lalith-99/qssma-portal/internal/identity"
	"github.com/lalith-99/qssma-portal/internal/models"
	"github.com/lalith-99/qssma-portal/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// IdentityProvider is the email/password provider the gateway wraps.
type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (*identity.Principal, error)
	Verify(ctx context.Context, token string) (*identity.Principal, error)
	SignOut(ctx context.Context, token string) error
}

// ManagerToken is a signed-in manager: provider principal plus role record.
type ManagerToken struct {
	UID         string
	Email       string
	DisplayName string
	Token       string
	ExpiresAt   time.Time
}

// Subscription cancels a live notice subscription. Cancel is idempotent
// and does not wait for an in-flight delivery to finish.
type Subscription interface {
	Cancel()
}

type Deps struct {
	Identity IdentityProvider
	Workers  repository.WorkerRepository
	Managers repository.ManagerRepository
	Notices  repository.NoticeRepository
	Bus      bus.Bus
	Logger   *zap.Logger
	Now      func() time.Time
}

type Gateway struct {
	idp      IdentityProvider
	workers  repository.WorkerRepository
	managers repository.ManagerRepository
	notices  repository.NoticeRepository
	bus      bus.Bus
	logger   *zap.Logger
	now      func() time.Time
}

func New(d Deps) *Gateway {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Gateway{
		idp:      d.Identity,
		workers:  d.Workers,
		managers: d.Managers,
		notices:  d.Notices,
		bus:      d.Bus,
		logger:   d.Logger,
		now:      d.Now,
	}
}

// NormalizeBadge trims and upper-cases a badge number. Badges are
// case-insensitive; storage keeps the upper-case form.
func NormalizeBadge(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// FindWorkerByBadge returns nil, nil when no worker has that badge. id must
// already be normalized.
func (g *Gateway) FindWorkerByBadge(ctx context.Context, id string) (*models.Worker, error) {
	w, err := g.workers.GetByBadge(ctx, id)
	if err != nil {
		g.logger.Warn("worker lookup failed", zap.String("badge", id), zap.Error(err))
		return nil, &ReadError{Kind: NetworkUnavailable, Err: err}
	}
	return w, nil
}

// AuthenticateManager signs in with the provider and then requires a
// manager role record. An authenticated principal without one is signed
// back out before returning, and the caller sees InvalidCredential.
func (g *Gateway) AuthenticateManager(ctx context.Context, email, password string) (*ManagerToken, error) {
	principal, err := g.idp.SignIn(ctx, email, password)
	if err != nil {
		kind := authKind(err)
		if kind == AuthUnknown {
			g.logger.Error("unexpected identity provider failure", zap.Error(err))
		}
		return nil, &AuthError{Kind: kind}
	}

	mgr, err := g.managers.GetByUID(ctx, principal.UID)
	if err != nil {
		g.signOut(ctx, principal.Token)
		g.logger.Warn("manager role lookup failed", zap.String("uid", principal.UID), zap.Error(err))
		return nil, &AuthError{Kind: AuthNetworkUnavailable}
	}
	if mgr == nil {
		g.signOut(ctx, principal.Token)
		g.logger.Warn("principal without manager role rejected", zap.String("uid", principal.UID))
		return nil, &AuthError{Kind: AuthInvalidCredential}
	}

	return &ManagerToken{
		UID:         principal.UID,
		Email:       principal.Email,
		DisplayName: mgr.DisplayName,
		Token:       principal.Token,
		ExpiresAt:   principal.ExpiresAt,
	}, nil
}

// VerifyManager checks that token still represents a signed-in principal
// holding a manager role record.
func (g *Gateway) VerifyManager(ctx context.Context, token string) (*ManagerToken, error) {
	principal, mgr, kind, err := g.authorize(ctx, token)
	if err != nil {
		return nil, &ReadError{Kind: kind, Err: err}
	}
	return &ManagerToken{
		UID:         principal.UID,
		Email:       principal.Email,
		DisplayName: mgr.DisplayName,
		Token:       token,
		ExpiresAt:   principal.ExpiresAt,
	}, nil
}

// SignOut revokes token with the provider. Failures are logged only: the
// device forgets the token either way.
func (g *Gateway) SignOut(ctx context.Context, token string) {
	if token == "" {
		return
	}
	g.signOut(ctx, token)
}

func (g *Gateway) signOut(ctx context.Context, token string) {
	if err := g.idp.SignOut(ctx, token); err != nil {
		g.logger.Warn("identity provider sign-out failed", zap.Error(err))
	}
}

var errNoToken = errors.New("no manager token attached")

// authorize is the server-side check behind every manager operation.
func (g *Gateway) authorize(ctx context.Context, token string) (*identity.Principal, *models.Manager, ErrorKind, error) {
	if token == "" {
		return nil, nil, Unauthenticated, errNoToken
	}
	principal, err := g.idp.Verify(ctx, token)
	if err != nil {
		return nil, nil, tokenKind(err), err
	}
	mgr, err := g.managers.GetByUID(ctx, principal.UID)
	if err != nil {
		return nil, nil, NetworkUnavailable, err
	}
	if mgr == nil {
		return nil, nil, Unauthorized, errors.New("principal has no manager role")
	}
	return principal, mgr, 0, nil
}

// CreateNotice stores draft authored by the token's principal and returns
// the new notice ID.
func (g *Gateway) CreateNotice(ctx context.Context, token string, draft models.NoticeDraft) (string, error) {
	principal, _, kind, err := g.authorize(ctx, token)
	if err != nil {
		return "", &WriteError{Kind: kind, Err: err}
	}

	draft, reason := normalizeDraft(draft)
	if reason != "" {
		return "", &WriteError{Kind: InvalidInput, Reason: reason}
	}

	n, err := g.notices.Create(ctx, draft, principal.Email)
	if err != nil {
		g.logger.Error("create notice failed", zap.Error(err))
		return "", &WriteError{Kind: NetworkUnavailable, Err: err}
	}

	g.logger.Info("notice created", zap.String("id", n.ID), zap.String("author", principal.Email))
	g.publish(ctx)
	return n.ID, nil
}

// UpdateNotice applies patch, stamping the editor from the token.
func (g *Gateway) UpdateNotice(ctx context.Context, token, id string, patch models.NoticePatch) error {
	principal, _, kind, err := g.authorize(ctx, token)
	if err != nil {
		return &WriteError{Kind: kind, Err: err}
	}

	patch, reason := normalizePatch(patch)
	if reason != "" {
		return &WriteError{Kind: InvalidInput, Reason: reason}
	}

	if err := g.notices.Update(ctx, id, patch, principal.Email); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &WriteError{Kind: NotFound, Err: err}
		}
		g.logger.Error("update notice failed", zap.String("id", id), zap.Error(err))
		return &WriteError{Kind: NetworkUnavailable, Err: err}
	}

	g.logger.Info("notice updated", zap.String("id", id), zap.String("by", principal.Email))
	g.publish(ctx)
	return nil
}

// DeleteNotice hard-deletes a notice.
func (g *Gateway) DeleteNotice(ctx context.Context, token, id string) error {
	principal, _, kind, err := g.authorize(ctx, token)
	if err != nil {
		return &WriteError{Kind: kind, Err: err}
	}

	if err := g.notices.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &WriteError{Kind: NotFound, Err: err}
		}
		g.logger.Error("delete notice failed", zap.String("id", id), zap.Error(err))
		return &WriteError{Kind: NetworkUnavailable, Err: err}
	}

	g.logger.Info("notice deleted", zap.String("id", id), zap.String("by", principal.Email))
	g.publish(ctx)
	return nil
}

// ListNotices returns every notice, inactive included, newest first. It is
// the manager administration view.
func (g *Gateway) ListNotices(ctx context.Context, token string) ([]models.Notice, error) {
	if _, _, kind, err := g.authorize(ctx, token); err != nil {
		return nil, &ReadError{Kind: kind, Err: err}
	}
	notices, err := g.notices.List(ctx)
	if err != nil {
		g.logger.Error("list notices failed", zap.Error(err))
		return nil, &ReadError{Kind: NetworkUnavailable, Err: err}
	}
	sortNewestFirst(notices)
	return notices, nil
}

// publish tells other devices to re-read. The write already succeeded, so
// a failure here only delays their refresh until the next event.
func (g *Gateway) publish(ctx context.Context) {
	if g.bus == nil {
		return
	}
	if err := g.bus.Publish(ctx, bus.TopicNotices); err != nil {
		g.logger.Warn("publish notice change failed", zap.Error(err))
	}
}

// DashboardStats counts active workers and active notices concurrently.
// Stats are advisory: if either count fails both are reported as zero.
// The only error is a cancelled caller context.
func (g *Gateway) DashboardStats(ctx context.Context) (models.Stats, error) {
	var workers, notices int
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		n, err := g.workers.CountActive(egCtx)
		workers = n
		return err
	})
	eg.Go(func() error {
		n, err := g.notices.CountActive(egCtx)
		notices = n
		return err
	})

	stats := models.Stats{UpdatedAt: g.now()}
	if err := eg.Wait(); err != nil {
		if ctx.Err() != nil {
			return stats, &ReadError{Kind: NetworkUnavailable, Err: ctx.Err()}
		}
		g.logger.Warn("dashboard stats degraded to zero", zap.Error(err))
		return stats, nil
	}
	stats.WorkerCount = workers
	stats.ActiveNoticeCount = notices
	return stats, nil
}

// SubscribeActiveNotices pushes the full active snapshot, newest first, on
// attach and after every change event. It never fails: a failed read is
// logged and delivered as an empty snapshot. onChange is called from a
// single goroutine, so snapshots of one subscription arrive in order.
func (g *Gateway) SubscribeActiveNotices(onChange func([]models.Notice)) Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{cancel: cancel}

	// Subscribe before the first read so no change between them is lost.
	var events <-chan struct{}
	if g.bus != nil {
		events, sub.unsubscribe = g.bus.Subscribe(ctx, bus.TopicNotices)
	}

	go func() {
		g.deliver(ctx, onChange)
		if events == nil {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				g.deliver(ctx, onChange)
			}
		}
	}()

	return sub
}

func (g *Gateway) deliver(ctx context.Context, onChange func([]models.Notice)) {
	notices, err := g.notices.ListActive(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		g.logger.Warn("active notices read failed, delivering empty snapshot", zap.Error(err))
		notices = nil
	}
	onChange(activeNewestFirst(notices))
}

type subscription struct {
	once        sync.Once
	cancel      context.CancelFunc
	unsubscribe func()
}

func (s *subscription) Cancel() {
	s.once.Do(func() {
		s.cancel()
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
	})
}

// activeNewestFirst filters to active notices and orders them by
// CreatedAt descending. It always returns a non-nil slice.
func activeNewestFirst(in []models.Notice) []models.Notice {
	out := make([]models.Notice, 0, len(in))
	for _, n := range in {
		if n.Active {
			out = append(out, n)
		}
	}
	sortNewestFirst(out)
	return out
}

func sortNewestFirst(notices []models.Notice) {
	sort.SliceStable(notices, func(i, j int) bool {
		return notices[i].CreatedAt.After(notices[j].CreatedAt)
	})
}

func normalizeDraft(d models.NoticeDraft) (models.NoticeDraft, string) {
	d.Title = strings.TrimSpace(d.Title)
	d.Body = strings.TrimSpace(d.Body)
	if d.Audience == "" {
		d.Audience = models.AudienceAll
	}
	if d.Priority == "" {
		d.Priority = models.PriorityInformative
	}
	switch {
	case d.Title == "":
		return d, "title is required"
	case d.Body == "":
		return d, "body is required"
	case !d.Audience.Valid():
		return d, "unknown audience " + string(d.Audience)
	case !d.Priority.Valid():
		return d, "unknown priority " + string(d.Priority)
	}
	return d, ""
}

func normalizePatch(p models.NoticePatch) (models.NoticePatch, string) {
	if p.Empty() {
		return p, "nothing to update"
	}
	if p.Title != nil {
		t := strings.TrimSpace(*p.Title)
		if t == "" {
			return p, "title cannot be empty"
		}
		p.Title = &t
	}
	if p.Body != nil {
		b := strings.TrimSpace(*p.Body)
		if b == "" {
			return p, "body cannot be empty"
		}
		p.Body = &b
	}
	if p.Audience != nil && !p.Audience.Valid() {
		return p, "unknown audience " + string(*p.Audience)
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return p, "unknown priority " + string(*p.Priority)
	}
	return p, ""
}
