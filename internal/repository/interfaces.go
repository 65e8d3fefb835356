package repository

import (
	"context"
	"errors"

	"github.com/lalith-99/qssma-portal/internal/models"
)

// ErrNotFound is returned by mutations that target a row that does not
// exist. Lookups return nil, nil instead.
var ErrNotFound = errors.New("not found")

// Every method takes ctx first: the gateway passes the caller's context so
// a cancelled request cancels the query.

// WorkerRepository reads the workers collection. Badges are stored
// upper-cased; callers normalize before lookup.
type WorkerRepository interface {
	// GetByBadge returns nil, nil when no worker has that badge.
	GetByBadge(ctx context.Context, badge string) (*models.Worker, error)

	// CountActive counts workers with active = true.
	CountActive(ctx context.Context) (int, error)
}

// ManagerRepository reads manager role records and the identity
// provider's credential rows.
type ManagerRepository interface {
	// GetByUID returns nil, nil when the principal has no role record.
	GetByUID(ctx context.Context, uid string) (*models.Manager, error)

	// GetCredentialByEmail returns nil, nil for unknown emails.
	GetCredentialByEmail(ctx context.Context, email string) (*models.ManagerCredential, error)
}

// NoticeRepository handles the notices collection.
type NoticeRepository interface {
	// Create inserts a notice and returns it with ID and CreatedAt populated.
	Create(ctx context.Context, draft models.NoticeDraft, author string) (*models.Notice, error)

	// Update applies patch and stamps updated_at/updated_by. Returns
	// ErrNotFound when id does not exist.
	Update(ctx context.Context, id string, patch models.NoticePatch, updatedBy string) error

	// Delete hard-deletes. Returns ErrNotFound when id does not exist.
	Delete(ctx context.Context, id string) error

	// List returns every notice, newest first. Empty slice, never nil.
	List(ctx context.Context) ([]models.Notice, error)

	// ListActive returns active notices, newest first.
	ListActive(ctx context.Context) ([]models.Notice, error)

	// CountActive counts active notices.
	CountActive(ctx context.Context) (int, error)
}
