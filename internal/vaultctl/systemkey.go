package vaultctl

import (
	"fmt"
	"io"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/legacy"
	"github.com/dmitrijs2005/vaultcore/internal/server/services"
	"github.com/spf13/cobra"
)

func (c *cli) codec(purpose string) legacy.Codec {
	if purpose == "" {
		return legacy.NewCodec("")
	}
	return services.SharedCodec(purpose)
}

func (c *cli) encryptCmd() *cobra.Command {
	var (
		purpose     string
		trimNewline bool
	)
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Seal stdin under the system key",
		Long: `Reads a value from stdin and prints it as an envelope sealed under the system key derived from ` + PepperEnv + `.
Stdin is sealed byte for byte, trailing newline included, unless --trim-newline is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			plain := string(b)
			if trimNewline {
				plain = trimTrailingNewline(plain)
			}
			key, err := c.keyManager(cmd).SystemKey(cmd.Context())
			if err != nil {
				return err
			}
			defer common.WipeByteArray(key)

			sealed, err := c.codec(purpose).Seal(plain, key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}
	cmd.Flags().StringVar(&purpose, "purpose", "", "bind the envelope to a purpose: ssh_password, ssh_key, api_token or mfa")
	cmd.Flags().BoolVar(&trimNewline, "trim-newline", false, "strip trailing CR/LF from stdin before sealing")
	return cmd
}

func (c *cli) decryptCmd() *cobra.Command {
	var (
		purpose     string
		allowLegacy bool
	)
	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Open an envelope read from stdin",
		Long:  `Prints the plaintext exactly as it was sealed, without adding a newline.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readAllTrimmed(cmd.InOrStdin())
			if err != nil {
				return err
			}
			key, err := c.keyManager(cmd).SystemKey(cmd.Context())
			if err != nil {
				return err
			}
			defer common.WipeByteArray(key)

			codec := c.codec(purpose)
			var plain string
			if allowLegacy {
				plain, err = codec.DecryptOrPassthrough(raw, key)
			} else {
				plain, err = codec.Open(raw, key)
			}
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), plain)
			return nil
		},
	}
	cmd.Flags().StringVar(&purpose, "purpose", "", "purpose the envelope was sealed for")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy", false, "print non-envelope input unchanged instead of failing")
	return cmd
}

func (c *cli) keyCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "key-check",
		Short: "Derive the system key and print its fingerprint",
		Long:  `Instances that print the same fingerprint share a system key.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			km := c.keyManager(cmd)
			if err := km.Warmup(cmd.Context()); err != nil {
				return fmt.Errorf("%w (is %s set?)", err, PepperEnv)
			}
			fmt.Fprintln(cmd.OutOrStdout(), km.Fingerprint())
			return nil
		},
	}
}
