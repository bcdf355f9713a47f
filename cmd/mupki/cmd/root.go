package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/mupki/config"
	"github.com/jmcleod/mupki/journal"
	bboltjournal "github.com/jmcleod/mupki/journal/bbolt"
	"github.com/jmcleod/mupki/pki"
)

// Version is set at build time.
var Version = "dev"

const journalFile = "journal.db"

var (
	configFile string
	rootDir    string
	org        string
	useJournal bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "mupki",
	Short: "mupki is a file-backed hierarchical certificate authority",
	Long: `Manage a tree of X.509 certificates on disk: a self-signed root,
intermediate CAs and leaf certificates, with encrypted private keys and
per-CA metadata that can be edited by hand.

Settings come from --config (YAML), the MUPKI_* environment variables and
the flags below, in increasing order of precedence.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "YAML configuration file")
	flags.StringVar(&rootDir, "root-dir", "", "directory holding the hierarchy (overrides config)")
	flags.StringVar(&org, "org", "", "organization name (overrides config)")
	flags.BoolVar(&useJournal, "journal", false, "record issuance in <root-dir>/"+journalFile)
	flags.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// session is an opened hierarchy plus whatever has to be released after the
// command ran.
type session struct {
	cfg     *config.Config
	h       *pki.Hierarchy
	journal journal.Journal
	closers []func() error
}

func openSession() (*session, error) {
	f, err := config.ReadFile(configFile)
	if err != nil {
		return nil, err
	}
	if rootDir != "" {
		f.RootDir = rootDir
	}
	if org != "" {
		f.Org = org
	}
	if f.RootDir == "" {
		f.RootDir = "."
	}
	cfg, err := f.Build()
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg}
	s.closers = append(s.closers, func() error { cfg.Destroy(); return nil })

	opts := []pki.Option{pki.WithLogger(slog.Default())}
	if useJournal {
		if err := os.MkdirAll(cfg.RootDir, 0o750); err != nil {
			s.Close()
			return nil, err
		}
		store, err := bboltjournal.Open(filepath.Join(cfg.RootDir, journalFile), nil)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.journal = store
		s.closers = append(s.closers, store.Close)
		opts = append(opts, pki.WithJournal(store))
	}

	if s.h, err = pki.New(cfg, opts...); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("closing session", slog.String("error", err.Error()))
		}
	}
	s.closers = nil
}

// withSession opens the hierarchy for the duration of fn.
func withSession(fn func(s *session) error) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// parentPath splits "k1/svc/web" into "k1/svc" and "web".
func parentPath(p string) (string, string, error) {
	p = strings.Trim(p, "/")
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "", "", fmt.Errorf("%q has no parent; use init for the root", p)
	}
	return p[:i], p[i+1:], nil
}
