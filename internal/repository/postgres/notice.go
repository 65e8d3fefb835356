package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/qssma-portal/internal/models"
	"github.com/lalith-99/qssma-portal/internal/repository"
)

type NoticeStore struct {
	pool *pgxpool.Pool
}

func NewNoticeStore(pool *pgxpool.Pool) *NoticeStore {
	return &NoticeStore{pool: pool}
}

const noticeColumns = `id::text, title, body, audience, priority, active, created_at, updated_at, author_identity, coalesce(updated_by, '')`

func (s *NoticeStore) Create(ctx context.Context, draft models.NoticeDraft, author string) (*models.Notice, error) {
	query := `
		INSERT INTO notices (id, title, body, audience, priority, active, author_identity, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, now())
		RETURNING ` + noticeColumns

	n, err := scanNotice(s.pool.QueryRow(ctx, query,
		draft.Title,
		draft.Body,
		string(draft.Audience),
		string(draft.Priority),
		draft.Active,
		author,
	))
	if err != nil {
		return nil, fmt.Errorf("insert notice: %w", err)
	}
	return &n, nil
}

func (s *NoticeStore) Update(ctx context.Context, id string, patch models.NoticePatch, updatedBy string) error {
	// NULL parameters keep the stored value, so one statement covers every
	// partial edit.
	query := `
		UPDATE notices SET
			title      = coalesce($2, title),
			body       = coalesce($3, body),
			audience   = coalesce($4, audience),
			priority   = coalesce($5, priority),
			active     = coalesce($6, active),
			updated_at = now(),
			updated_by = $7
		WHERE id = $1::uuid`

	var audience, priority *string
	if patch.Audience != nil {
		v := string(*patch.Audience)
		audience = &v
	}
	if patch.Priority != nil {
		v := string(*patch.Priority)
		priority = &v
	}

	tag, err := s.pool.Exec(ctx, query, id, patch.Title, patch.Body, audience, priority, patch.Active, updatedBy)
	if err != nil {
		return fmt.Errorf("update notice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *NoticeStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notices WHERE id = $1::uuid`, id)
	if err != nil {
		return fmt.Errorf("delete notice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *NoticeStore) List(ctx context.Context) ([]models.Notice, error) {
	return s.list(ctx, `SELECT `+noticeColumns+` FROM notices ORDER BY created_at DESC, id`)
}

func (s *NoticeStore) ListActive(ctx context.Context) ([]models.Notice, error) {
	return s.list(ctx, `SELECT `+noticeColumns+` FROM notices WHERE active ORDER BY created_at DESC, id`)
}

func (s *NoticeStore) CountActive(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM notices WHERE active`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count notices: %w", err)
	}
	return n, nil
}

func (s *NoticeStore) list(ctx context.Context, query string) ([]models.Notice, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list notices: %w", err)
	}
	defer rows.Close()

	notices := make([]models.Notice, 0)
	for rows.Next() {
		n, err := scanNotice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notice: %w", err)
		}
		notices = append(notices, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notices: %w", err)
	}

	return notices, nil
}

func scanNotice(row pgx.Row) (models.Notice, error) {
	var (
		n                  models.Notice
		audience, priority string
	)
	err := row.Scan(
		&n.ID,
		&n.Title,
		&n.Body,
		&audience,
		&priority,
		&n.Active,
		&n.CreatedAt,
		&n.UpdatedAt,
		&n.AuthorIdentity,
		&n.UpdatedBy,
	)
	n.Audience = models.Audience(audience)
	n.Priority = models.Priority(priority)
	return n, err
}
