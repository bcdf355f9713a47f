package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/mupki/internal/ui"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Private key tools",
}

var keyExportCmd = &cobra.Command{
	Use:   "export <path>",
	Short: "Print the decrypted private key of path as PEM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session) error {
			n, err := s.h.Lookup(args[0])
			if err != nil {
				return err
			}
			out, err := n.ExportKeyPEM()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		})
	},
}

var keyVerifyCmd = &cobra.Command{
	Use:   "verify <path>",
	Short: "Check that the key of path decrypts and matches its certificate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session) error {
			n, err := s.h.Lookup(args[0])
			if err != nil {
				return err
			}
			if err := n.VerifyKey(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ui.Success.Sprint("ok"), ui.Path.Sprint(n.Path()))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keyExportCmd, keyVerifyCmd)
}
