// Package credentials stores per-user credential records.
package credentials

import (
	"context"

	"github.com/dmitrijs2005/vaultcore/internal/server/models"
)

// Repository persists CredentialRecords. Update is a compare-and-swap on
// Version; callers wanting several writes to land together run them on one
// transaction handle.
type Repository interface {
	Create(ctx context.Context, rec *models.CredentialRecord) (*models.CredentialRecord, error)
	GetByID(ctx context.Context, id string) (*models.CredentialRecord, error)
	GetByUsername(ctx context.Context, username string) (*models.CredentialRecord, error)
	Update(ctx context.Context, id string, expectedVersion int64, u models.CredentialUpdate) (int64, error)
	ListMFASecrets(ctx context.Context) ([]models.CredentialRecord, error)
}
