package secrets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/dbx"
	"github.com/dmitrijs2005/vaultcore/internal/server/models"
	"github.com/google/uuid"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Upsert(ctx context.Context, s *models.SharedSecret) (*models.SharedSecret, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}

	query :=
		`INSERT INTO shared_secrets (id, name, kind, value)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO UPDATE SET kind = EXCLUDED.kind, value = EXCLUDED.value, updated_at = now()
		 RETURNING id, created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query, s.ID, s.Name, string(s.Kind), s.Value).
		Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) GetByName(ctx context.Context, name string) (*models.SharedSecret, error) {
	query := `SELECT id, name, kind, value, created_at, updated_at FROM shared_secrets WHERE name = $1`

	var (
		s    models.SharedSecret
		kind string
	)
	err := r.db.QueryRowContext(ctx, query, name).
		Scan(&s.ID, &s.Name, &kind, &s.Value, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	s.Kind = models.SecretKind(kind)
	return &s, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]models.SharedSecret, error) {
	query := `SELECT id, name, kind, value, created_at, updated_at FROM shared_secrets ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.SharedSecret
	for rows.Next() {
		var (
			s    models.SharedSecret
			kind string
		)
		if err := rows.Scan(&s.ID, &s.Name, &kind, &s.Value, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		s.Kind = models.SecretKind(kind)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) UpdateValue(ctx context.Context, id, oldValue, newValue string) (bool, error) {
	query := `UPDATE shared_secrets SET value = $1, updated_at = now() WHERE id = $2 AND value = $3`

	res, err := r.db.ExecContext(ctx, query, newValue, id, oldValue)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, name string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM shared_secrets WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
