package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/mupki/internal/ui"
	"github.com/jmcleod/mupki/pki"
)

var (
	createCA   bool
	createCN   string
	createEKUs string
)

var createCmd = &cobra.Command{
	Use:   "create <path>",
	Short: "Issue a new CA or leaf certificate",
	Long: `Generates a key for path and has the parent CA sign it, e.g.

  mupki create k1/svc --ca
  mupki create k1/svc/web --eku serverAuth,clientAuth

A leaf without --eku gets the extended key usages last chosen under the same
CA. Known names: serverAuth, clientAuth, codeSigning, emailProtection,
timeStamping, OCSPSigning; dotted OIDs are accepted as well.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parentName, name, err := parentPath(args[0])
		if err != nil {
			return err
		}

		var opts []pki.CreateOption
		if createCN != "" {
			opts = append(opts, pki.WithCommonName(createCN))
		}
		if createEKUs != "" {
			if createCA {
				return fmt.Errorf("--eku applies to leaf certificates only")
			}
			oids, err := pki.ParseOIDs(createEKUs)
			if err != nil {
				return err
			}
			opts = append(opts, pki.WithEKUs(oids...))
		}

		return withSession(func(s *session) error {
			parent, err := s.h.Lookup(parentName)
			if err != nil {
				return err
			}
			n, err := parent.Child(name)
			if err != nil {
				return err
			}
			if err := n.Create(createCA, opts...); err != nil {
				return err
			}
			writeListing(cmd.OutOrStdout(), 0, n.Path(), n)
			return nil
		})
	},
}

var renewCmd = &cobra.Command{
	Use:   "renew <path>",
	Short: "Re-issue a certificate with the same key and a new validity window",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session) error {
			n, err := s.h.Lookup(args[0])
			if err != nil {
				return err
			}
			if err := n.Renew(); err != nil {
				return err
			}
			writeListing(cmd.OutOrStdout(), 0, n.Path(), n)
			return nil
		})
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <path>",
	Short: "Tombstone a certificate in its issuer's metadata",
	Long: `Moves the current serial of path to the issuer's CRL list. The file is
left in place but ignored by reconciliation until the certificate expires.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parentName, name, err := parentPath(args[0])
		if err != nil {
			return err
		}
		return withSession(func(s *session) error {
			parent, err := s.h.Lookup(parentName)
			if err != nil {
				return err
			}
			info, err := parent.Revoke(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", ui.Warning.Sprint("revoked"),
				ui.Path.Sprint(args[0]), ui.Serial.Sprint(info.ID))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(createCmd, renewCmd, revokeCmd)
	createCmd.Flags().BoolVar(&createCA, "ca", false, "issue a CA certificate")
	createCmd.Flags().StringVar(&createCN, "cn", "", "subject common name (default derived from the name)")
	createCmd.Flags().StringVar(&createEKUs, "eku", "", "comma separated extended key usages for a leaf")
}
