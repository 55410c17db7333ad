// Package secrets stores machine credentials shared across users.
package secrets

import (
	"context"

	"github.com/dmitrijs2005/vaultcore/internal/server/models"
)

type Repository interface {
	// Upsert inserts s or replaces the kind and value of the secret with
	// the same name.
	Upsert(ctx context.Context, s *models.SharedSecret) (*models.SharedSecret, error)
	GetByName(ctx context.Context, name string) (*models.SharedSecret, error)
	List(ctx context.Context) ([]models.SharedSecret, error)
	// UpdateValue replaces the value only if it still equals oldValue and
	// reports whether a row was changed.
	UpdateValue(ctx context.Context, id, oldValue, newValue string) (bool, error)
	Delete(ctx context.Context, name string) error
}
