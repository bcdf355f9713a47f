package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/mupki/internal/ui"
	"github.com/jmcleod/mupki/journal"
)

var (
	journalSubject string
	journalJSON    bool
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "List the issuance journal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		useJournal = true
		return withSession(func(s *session) error {
			entries, err := s.journal.List()
			if err != nil {
				return err
			}
			if journalSubject != "" {
				entries = journal.Filter(entries, journalSubject)
			}
			if journalJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			for _, e := range entries {
				writeJournalEntry(cmd.OutOrStdout(), e)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.Flags().StringVar(&journalSubject, "subject", "", "only entries for this path")
	journalCmd.Flags().BoolVar(&journalJSON, "json", false, "output entries as JSON")
}

func writeJournalEntry(w io.Writer, e journal.Entry) {
	fmt.Fprintf(w, "%4d %s %-9s %s %s %s\n",
		e.Seq,
		e.Time.UTC().Format(time.RFC3339),
		e.Action,
		ui.Path.Sprint(e.Subject),
		ui.Serial.Sprint(e.Serial),
		ui.Muted.Sprintf("by %s", e.Issuer),
	)
}
