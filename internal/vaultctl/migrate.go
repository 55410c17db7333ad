package vaultctl

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vaultcore/internal/server/services"
	"github.com/spf13/cobra"
)

func (c *cli) migrateCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Encrypt legacy plaintext secrets in place",
		Long:  `Walks machine credentials and MFA seeds and seals every plaintext value under the system key. Safe to run repeatedly.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				return errors.New("--dsn is required")
			}
			db, err := c.env.OpenDB(dsn)
			if err != nil {
				return fmt.Errorf("db init error: %w", err)
			}
			defer db.Close()

			logger := c.logger(cmd)
			svc := services.NewSharedSecretService(db, c.env.Repos, c.keyManager(cmd), logger)

			report, err := svc.MigrateLegacy(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d migrated=%d already_enveloped=%d conflicts=%d\n",
				report.Scanned, report.Migrated, report.AlreadyEnveloped, report.Conflicts)
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN")
	return cmd
}
