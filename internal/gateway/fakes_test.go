package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lalith-99/qssma-portal/internal/identity"
	"github.com/lalith-99/qssma-portal/internal/models"
	"github.com/lalith-99/qssma-portal/internal/repository"
)

type identityStub struct {
	mu         sync.Mutex
	principals map[string]*identity.Principal // keyed by token
	signInErr  error
	signInAs   *identity.Principal
	signedOut  []string
}

func (s *identityStub) SignIn(_ context.Context, _, _ string) (*identity.Principal, error) {
	if s.signInErr != nil {
		return nil, s.signInErr
	}
	return s.signInAs, nil
}

func (s *identityStub) Verify(_ context.Context, token string) (*identity.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[token]
	if !ok {
		return nil, &identity.ProviderError{Code: identity.CodeInvalidToken}
	}
	return p, nil
}

func (s *identityStub) SignOut(_ context.Context, token string) error {
	s.mu.Lock()
	s.signedOut = append(s.signedOut, token)
	s.mu.Unlock()
	return nil
}

type workerRepoStub struct {
	workers map[string]*models.Worker
	err     error
}

func (r *workerRepoStub) GetByBadge(_ context.Context, badge string) (*models.Worker, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.workers[badge], nil
}

func (r *workerRepoStub) CountActive(context.Context) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	n := 0
	for _, w := range r.workers {
		if w.Active {
			n++
		}
	}
	return n, nil
}

type managerRepoStub struct {
	managers map[string]*models.Manager
}

func (r *managerRepoStub) GetByUID(_ context.Context, uid string) (*models.Manager, error) {
	return r.managers[uid], nil
}

func (r *managerRepoStub) GetCredentialByEmail(context.Context, string) (*models.ManagerCredential, error) {
	return nil, nil
}

// noticeRepoFake is an in-memory notices collection.
type noticeRepoFake struct {
	mu      sync.Mutex
	notices map[string]models.Notice
	seq     int
	now     time.Time
	listErr error
}

func newNoticeRepoFake() *noticeRepoFake {
	return &noticeRepoFake{
		notices: make(map[string]models.Notice),
		now:     time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC),
	}
}

func (r *noticeRepoFake) Create(_ context.Context, d models.NoticeDraft, author string) (*models.Notice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	n := models.Notice{
		ID:             fmt.Sprintf("n-%d", r.seq),
		Title:          d.Title,
		Body:           d.Body,
		Audience:       d.Audience,
		Priority:       d.Priority,
		Active:         d.Active,
		CreatedAt:      r.now.Add(time.Duration(r.seq) * time.Minute),
		AuthorIdentity: author,
	}
	r.notices[n.ID] = n
	return &n, nil
}

func (r *noticeRepoFake) Update(_ context.Context, id string, p models.NoticePatch, by string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notices[id]
	if !ok {
		return repository.ErrNotFound
	}
	if p.Title != nil {
		n.Title = *p.Title
	}
	if p.Body != nil {
		n.Body = *p.Body
	}
	if p.Active != nil {
		n.Active = *p.Active
	}
	t := r.now
	n.UpdatedAt = &t
	n.UpdatedBy = by
	r.notices[id] = n
	return nil
}

func (r *noticeRepoFake) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.notices[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.notices, id)
	return nil
}

func (r *noticeRepoFake) List(context.Context) ([]models.Notice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]models.Notice, 0, len(r.notices))
	for _, n := range r.notices {
		out = append(out, n)
	}
	return out, nil
}

// ListActive deliberately returns everything unordered, so tests prove the
// gateway filters and orders on its own.
func (r *noticeRepoFake) ListActive(ctx context.Context) ([]models.Notice, error) {
	return r.List(ctx)
}

func (r *noticeRepoFake) CountActive(context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return 0, r.listErr
	}
	n := 0
	for _, notice := range r.notices {
		if notice.Active {
			n++
		}
	}
	return n, nil
}

func (r *noticeRepoFake) put(n models.Notice) {
	r.mu.Lock()
	r.notices[n.ID] = n
	r.mu.Unlock()
}

func (r *noticeRepoFake) setListErr(err error) {
	r.mu.Lock()
	r.listErr = err
	r.mu.Unlock()
}
