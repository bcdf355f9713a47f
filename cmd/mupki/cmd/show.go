package cmd

import (
	"crypto/x509"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/mupki/internal/ui"
	"github.com/jmcleod/mupki/internal/util"
	"github.com/jmcleod/mupki/pki"
)

var showPEM bool

var showCmd = &cobra.Command{
	Use:   "show <path>",
	Short: "Print the details of one certificate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session) error {
			n, err := s.h.Lookup(args[0])
			if err != nil {
				return err
			}
			if showPEM {
				_, err := cmd.OutOrStdout().Write(n.CertificatePEM())
				return err
			}
			return writeDetails(cmd.OutOrStdout(), n)
		})
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().BoolVar(&showPEM, "pem", false, "print the certificate as PEM")
}

func writeDetails(w io.Writer, n *pki.Node) error {
	cert := n.Certificate()
	exts, err := n.Extensions()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Path:        %s\n", ui.Path.Sprint(n.Path()))
	fmt.Fprintf(w, "Subject:     %s\n", n.Subject())
	fmt.Fprintf(w, "Issuer:      %s\n", cert.Issuer.String())
	fmt.Fprintf(w, "Serial:      %s\n", ui.Serial.Sprint(cert.SerialNumber.Text(16)))
	fmt.Fprintf(w, "Not before:  %s\n", cert.NotBefore.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "Not after:   %s\n", cert.NotAfter.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "SHA-256:     %s\n", fingerprint(n))
	fmt.Fprintf(w, "Extensions:\n")
	for _, ext := range exts {
		crit := ""
		if ext.Critical() {
			crit = " " + ui.Warning.Sprint("critical")
		}
		fmt.Fprintf(w, "  %s%s\n", describeExtension(ext), crit)
	}
	return nil
}

func describeExtension(ext pki.Extension) string {
	switch e := ext.(type) {
	case pki.BasicConstraints:
		return fmt.Sprintf("basicConstraints: CA=%t", e.IsCA)
	case pki.KeyUsage:
		return "keyUsage: " + strings.Join(keyUsageNames(e.Usage), ", ")
	case pki.ExtendedKeyUsage:
		names := make([]string, len(e.OIDs))
		for i, oid := range e.OIDs {
			names[i] = pki.EKUName(oid)
		}
		return "extKeyUsage: " + strings.Join(names, ", ")
	case pki.SubjectKeyID:
		return "subjectKeyId: " + util.HexEncode(e.ID)
	case pki.AuthorityKeyID:
		return "authorityKeyId: " + util.HexEncode(e.ID)
	case pki.CRLDistributionPoint:
		return "crlDistributionPoints: " + strings.Join(e.URLs, ", ")
	case pki.AuthorityInfoAccess:
		return "authorityInfoAccess: " + strings.Join(slices.Concat(e.IssuerURLs, e.OCSP), ", ")
	}
	return ext.OID().String()
}

var keyUsageBits = []struct {
	bit  x509.KeyUsage
	name string
}{
	{x509.KeyUsageDigitalSignature, "digitalSignature"},
	{x509.KeyUsageContentCommitment, "contentCommitment"},
	{x509.KeyUsageKeyEncipherment, "keyEncipherment"},
	{x509.KeyUsageDataEncipherment, "dataEncipherment"},
	{x509.KeyUsageKeyAgreement, "keyAgreement"},
	{x509.KeyUsageCertSign, "keyCertSign"},
	{x509.KeyUsageCRLSign, "cRLSign"},
	{x509.KeyUsageEncipherOnly, "encipherOnly"},
	{x509.KeyUsageDecipherOnly, "decipherOnly"},
}

func keyUsageNames(u x509.KeyUsage) []string {
	var names []string
	for _, b := range keyUsageBits {
		if u&b.bit != 0 {
			names = append(names, b.name)
		}
	}
	return names
}
