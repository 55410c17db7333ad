package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/dbx"
	"github.com/dmitrijs2005/vaultcore/internal/server/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id, username, password_hash, personal_salt, wrapped_dek, mfa_secret, state, dek_generation, version, created_at, updated_at`

func (r *PostgresRepository) Create(ctx context.Context, rec *models.CredentialRecord) (*models.CredentialRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	query :=
		`INSERT INTO credentials (id, username, password_hash, personal_salt, wrapped_dek, mfa_secret, state, dek_generation)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING version, created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		rec.ID, rec.Username, rec.PasswordHash, rec.PersonalSalt, rec.WrappedDEK,
		nullString(rec.MFASecret), string(rec.State), rec.DEKGeneration,
	).Scan(&rec.Version, &rec.CreatedAt, &rec.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return rec, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.CredentialRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM credentials WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*models.CredentialRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM credentials WHERE username = $1`
	return r.getOne(ctx, query, username)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*models.CredentialRecord, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

// Update applies u if the stored version still equals expectedVersion and
// returns the new version. A lost race yields ErrVersionConflict.
func (r *PostgresRepository) Update(ctx context.Context, id string, expectedVersion int64, u models.CredentialUpdate) (int64, error) {
	if err := u.Validate(); err != nil {
		return 0, err
	}

	var (
		sets []string
		args []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if v, ok := u.PasswordHash.Value(); ok {
		add("password_hash", v)
	}
	if v, ok := u.PersonalSalt.Value(); ok {
		add("personal_salt", v)
	}
	if v, ok := u.WrappedDEK.Value(); ok {
		add("wrapped_dek", v)
	}
	if v, ok := u.MFASecret.Value(); ok {
		add("mfa_secret", v)
	} else if u.MFASecret.IsCleared() {
		sets = append(sets, "mfa_secret = NULL")
	}
	if v, ok := u.State.Value(); ok {
		add("state", string(v))
	}
	if v, ok := u.DEKGeneration.Value(); ok {
		add("dek_generation", v)
	}
	sets = append(sets, "version = version + 1", "updated_at = now()")

	args = append(args, id, expectedVersion)
	query := fmt.Sprintf(`UPDATE credentials SET %s WHERE id = $%d AND version = $%d RETURNING version`,
		strings.Join(sets, ", "), len(args)-1, len(args))

	var version int64
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrVersionConflict
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return version, nil
}

func (r *PostgresRepository) ListMFASecrets(ctx context.Context) ([]models.CredentialRecord, error) {
	query := `SELECT id, version, mfa_secret FROM credentials WHERE mfa_secret IS NOT NULL ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.CredentialRecord
	for rows.Next() {
		var (
			rec models.CredentialRecord
			mfa sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Version, &mfa); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if mfa.Valid {
			rec.MFASecret = &mfa.String
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func scanRecord(row *sql.Row) (*models.CredentialRecord, error) {
	var (
		rec   models.CredentialRecord
		mfa   sql.NullString
		state string
	)
	err := row.Scan(&rec.ID, &rec.Username, &rec.PasswordHash, &rec.PersonalSalt, &rec.WrappedDEK,
		&mfa, &state, &rec.DEKGeneration, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if mfa.Valid {
		rec.MFASecret = &mfa.String
	}
	rec.State = models.CredentialState(state)
	return &rec, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
