package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/vaultcore/internal/dbx"
	"github.com/dmitrijs2005/vaultcore/internal/server/repositories/credentials"
	"github.com/dmitrijs2005/vaultcore/internal/server/repositories/secrets"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Credentials(db dbx.DBTX) credentials.Repository
	Secrets(db dbx.DBTX) secrets.Repository
}
