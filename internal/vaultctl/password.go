package vaultctl

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/passwordx"
	"github.com/dmitrijs2005/vaultcore/internal/permits"
	"github.com/spf13/cobra"
)

var errMismatch = errors.New("password does not match")

func (c *cli) hashCmd() *cobra.Command {
	var fromStdin bool
	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Hash a password for storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := getPassword(cmd.ErrOrStderr(), cmd.InOrStdin(), "Enter password: ", fromStdin)
			if err != nil {
				return err
			}
			defer common.WipeByteArray(pw)

			h, err := passwordx.NewHasher(permits.New(1)).Hash(cmd.Context(), pw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func (c *cli) verifyCmd() *cobra.Command {
	var fromStdin bool
	cmd := &cobra.Command{
		Use:   "verify <hash>",
		Short: "Check a password against a stored hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := getPassword(cmd.ErrOrStderr(), cmd.InOrStdin(), "Enter password: ", fromStdin)
			if err != nil {
				return err
			}
			defer common.WipeByteArray(pw)

			hasher := passwordx.NewHasher(permits.New(1))
			if !hasher.Verify(cmd.Context(), pw, args[0]) {
				return errMismatch
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			if hasher.NeedsRehash(args[0]) {
				fmt.Fprintln(cmd.ErrOrStderr(), "note: hash uses outdated parameters")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}
