package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/qssma-portal/internal/models"
)

// ManagerStore reads the managers (role records) and manager_credentials
// (identity provider accounts) tables.
type ManagerStore struct {
	pool *pgxpool.Pool
}

func NewManagerStore(pool *pgxpool.Pool) *ManagerStore {
	return &ManagerStore{pool: pool}
}

func (s *ManagerStore) GetByUID(ctx context.Context, uid string) (*models.Manager, error) {
	query := `
		SELECT uid, email, display_name, role, created_at
		FROM managers
		WHERE uid = $1 AND role IN ('manager', 'admin')`

	var m models.Manager
	err := s.pool.QueryRow(ctx, query, uid).Scan(
		&m.UID,
		&m.Email,
		&m.DisplayName,
		&m.Role,
		&m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get manager: %w", err)
	}
	return &m, nil
}

// GetCredentialByEmail looks up an identity provider account. Emails are
// compared case-insensitively.
func (s *ManagerStore) GetCredentialByEmail(ctx context.Context, email string) (*models.ManagerCredential, error) {
	query := `
		SELECT uid, email, password_hash, disabled
		FROM manager_credentials
		WHERE lower(email) = lower($1)`

	var cred models.ManagerCredential
	err := s.pool.QueryRow(ctx, query, email).Scan(
		&cred.UID,
		&cred.Email,
		&cred.PasswordHash,
		&cred.Disabled,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get credential by email: %w", err)
	}
	return &cred, nil
}
