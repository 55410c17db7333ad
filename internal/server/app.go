// Package server wires the vault together: storage, key management,
// credential services and the gRPC host, and runs them until shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/vaultcore/internal/envelope"
	"github.com/dmitrijs2005/vaultcore/internal/keys"
	"github.com/dmitrijs2005/vaultcore/internal/logging"
	"github.com/dmitrijs2005/vaultcore/internal/passwordx"
	"github.com/dmitrijs2005/vaultcore/internal/permits"
	"github.com/dmitrijs2005/vaultcore/internal/server/config"
	"github.com/dmitrijs2005/vaultcore/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/vaultcore/internal/server/services"

	gs "github.com/dmitrijs2005/vaultcore/internal/server/grpc"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// sqlOpen is a seam for tests.
var sqlOpen = sql.Open

type App struct {
	config        *config.Config
	logger        logging.Logger
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	keys          *keys.Manager
	credentials   *services.CredentialService
	sharedSecrets *services.SharedSecretService
}

func NewApp(c *config.Config, logger logging.Logger) (*App, error) {
	db, err := sqlOpen("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()

	// password hashing and key derivation share one bound
	pool := permits.New(c.HashingPermits)
	hasher := passwordx.NewHasher(pool)
	env := envelope.New(hasher, pool)
	km := keys.NewManager(keys.StaticPepper(c.Pepper), logger)

	return &App{
		config:        c,
		logger:        logger,
		db:            db,
		repomanager:   rm,
		keys:          km,
		credentials:   services.NewCredentialService(db, rm, env, hasher, logger),
		sharedSecrets: services.NewSharedSecretService(db, rm, km, logger),
	}, nil
}

// Credentials is the entry point for the authentication collaborator.
func (app *App) Credentials() *services.CredentialService { return app.credentials }

// SharedSecrets is the entry point for machine credential and MFA callers.
func (app *App) SharedSecrets() *services.SharedSecretService { return app.sharedSecrets }

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// prepare migrates the schema and derives the system key. A missing pepper
// is logged, not returned: the process keeps running and reports the vault
// as not serving.
func (app *App) prepare(ctx context.Context) error {
	if err := app.repomanager.RunMigrations(ctx, app.db); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	if err := app.keys.Warmup(ctx); err != nil {
		app.logger.Error(ctx, "system key unavailable, vault will report NOT_SERVING", "error", err)
		return nil
	}

	if app.config.MigrateLegacyOnStart {
		if _, err := app.sharedSecrets.MigrateLegacy(ctx); err != nil {
			app.logger.Error(ctx, "legacy migration failed", "error", err)
		}
	}
	return nil
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.keys,
		gs.WithShutdownTimeout(app.config.ShutdownTimeout))

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run blocks until ctx is canceled, a termination signal arrives or the
// gRPC server fails.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	defer app.db.Close()

	app.logger.Info(ctx, "Starting app...",
		"grpc_address", app.config.EndpointAddrGRPC,
		"hashing_permits", app.config.HashingPermits,
		"migrate_legacy_on_start", app.config.MigrateLegacyOnStart)

	app.initSignalHandler(cancelFunc)

	if err := app.prepare(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()
	app.logger.Info(ctx, "App stopped")
	return nil
}
