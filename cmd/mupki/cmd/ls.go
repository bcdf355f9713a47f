package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/mupki/internal/ui"
	"github.com/jmcleod/mupki/pki"
)

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "Reconcile and list the hierarchy below path",
	Long: `Walks the tree from path (the root by default), reconciling each CA
directory on the way: expired certificates are renewed, renamed files are
followed and tombstoned serials are dropped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session) error {
			start := s.cfg.RootName
			if len(args) == 1 {
				start = args[0]
			}
			n, err := s.h.Lookup(start)
			if err != nil {
				return err
			}
			base := strings.Count(n.Path(), "/")
			return s.h.Walk(n, func(path string, n *pki.Node) error {
				depth := strings.Count(path, "/") - base
				writeListing(cmd.OutOrStdout(), depth, path, n)
				return nil
			})
		})
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
}

// writeListing prints one tree line. n is nil for a recorded child whose
// file is missing.
func writeListing(w io.Writer, depth int, path string, n *pki.Node) {
	indent := strings.Repeat("  ", depth)
	name := path[strings.LastIndex(path, "/")+1:]

	if n == nil {
		fmt.Fprintf(w, "%s%s\n", indent, ui.Missing.Sprint(name))
		return
	}
	label := ui.Path.Sprint(name)
	if n.IsCA() {
		label = ui.CA.Sprint(name)
	}
	cert := n.Certificate()
	fmt.Fprintf(w, "%s%s %s %s\n", indent, label,
		ui.Serial.Sprint(cert.SerialNumber.Text(16)),
		ui.Muted.Sprintf("expires %s", cert.NotAfter.UTC().Format(time.DateOnly)),
	)
}
