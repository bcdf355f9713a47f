package cmd

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/mupki/internal/ui"
	"github.com/jmcleod/mupki/internal/util"
	"github.com/jmcleod/mupki/pki"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the root CA if it does not exist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session) error {
			root, err := s.h.Root()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ui.CA.Sprint(ui.Path.Sprint(root.Path())), root.Subject())
			fmt.Fprintf(cmd.OutOrStdout(), "  sha256 %s\n", ui.Serial.Sprint(fingerprint(root)))
			return nil
		})
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a new random process key for MUPKI_ENC_KEY",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := util.NewSIVKey()
		if err != nil {
			return err
		}
		defer util.WipeBytes(key)
		fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(key))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(keygenCmd)
}

func fingerprint(n *pki.Node) string {
	fp := n.Fingerprint()
	return util.HexEncode(fp[:])
}
