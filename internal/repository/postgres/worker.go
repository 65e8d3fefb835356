package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/qssma-portal/internal/models"
)

type WorkerStore struct {
	pool *pgxpool.Pool
}

func NewWorkerStore(pool *pgxpool.Pool) *WorkerStore {
	return &WorkerStore{pool: pool}
}

func (s *WorkerStore) GetByBadge(ctx context.Context, badge string) (*models.Worker, error) {
	query := `
		SELECT badge, name, job_title, email, department, active, created_at
		FROM workers
		WHERE badge = $1`

	var w models.Worker
	err := s.pool.QueryRow(ctx, query, badge).Scan(
		&w.Badge,
		&w.Name,
		&w.JobTitle,
		&w.Email,
		&w.Department,
		&w.Active,
		&w.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get worker: %w", err)
	}
	return &w, nil
}

func (s *WorkerStore) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM workers WHERE active`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count workers: %w", err)
	}
	return n, nil
}
