// Package vaultctl implements the operator command line: hashing and
// verifying passwords, sealing values under the system key, checking the
// pepper and running the legacy migration sweep.
package vaultctl

import (
	"database/sql"
	"io"
	"log/slog"
	"strings"

	"github.com/dmitrijs2005/vaultcore/internal/keys"
	"github.com/dmitrijs2005/vaultcore/internal/logging"
	"github.com/dmitrijs2005/vaultcore/internal/server/repositories/repomanager"
	"github.com/spf13/cobra"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PepperEnv names the variable the pepper is read from.
const PepperEnv = "VAULT_PEPPER"

// Env holds what the commands need from the outside world.
type Env struct {
	Pepper     keys.PepperSource
	KeyOptions []keys.Option
	OpenDB     func(dsn string) (*sql.DB, error)
	Repos      repomanager.RepositoryManager
}

// DefaultEnv reads the pepper from VAULT_PEPPER and talks to Postgres.
func DefaultEnv() Env {
	return Env{
		Pepper: keys.EnvPepper(PepperEnv),
		OpenDB: func(dsn string) (*sql.DB, error) { return sql.Open("pgx", dsn) },
		Repos:  repomanager.NewPostgresRepositoryManager(),
	}
}

type cli struct {
	env     Env
	verbose bool
}

// NewRootCmd builds the vaultctl command tree.
func NewRootCmd(env Env) *cobra.Command {
	c := &cli{env: env}

	root := &cobra.Command{
		Use:           "vaultctl",
		Short:         "Operate the vault's key hierarchy",
		Long:          `Hashes and verifies passwords, seals and opens values under the system key, and migrates legacy plaintext secrets.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable verbose output")

	root.AddCommand(c.hashCmd())
	root.AddCommand(c.verifyCmd())
	root.AddCommand(c.encryptCmd())
	root.AddCommand(c.decryptCmd())
	root.AddCommand(c.keyCheckCmd())
	root.AddCommand(c.migrateCmd())
	return root
}

// logger writes logfmt to stderr. Without -v only errors are shown.
func (c *cli) logger(cmd *cobra.Command) logging.Logger {
	level := slog.LevelError
	if c.verbose {
		level = slog.LevelDebug
	}
	return logging.NewTextLogger(cmd.ErrOrStderr(), level)
}

func (c *cli) keyManager(cmd *cobra.Command) *keys.Manager {
	return keys.NewManager(c.env.Pepper, c.logger(cmd), c.env.KeyOptions...)
}

func readAllTrimmed(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return trimTrailingNewline(string(b)), nil
}

func trimTrailingNewline(s string) string {
	return strings.TrimRight(s, "\r\n")
}
