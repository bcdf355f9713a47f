// Package pki implements a file-backed hierarchical certificate authority.
//
// Every certificate lives under the configured root directory at its logical
// path: "k1.crt" and "k1.key" for the root, "k1/web.crt" for a child of the
// root, and so on. A CA additionally owns a directory of the same name with a
// meta.toml recording the certificates it issued. Private keys are sealed
// with AES-GCM-SIV under the process key held by config.Config.
package pki

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jmcleod/mupki/config"
	"github.com/jmcleod/mupki/journal"
)

// Hierarchy is the entry point to a certificate tree on disk.
type Hierarchy struct {
	cfg     *config.Config
	builder *Builder
	log     *slog.Logger
	journal journal.Journal
	clock   func() time.Time
	root    *Node
}

// Option configures a Hierarchy.
type Option func(*Hierarchy)

// WithLogger sets the structured logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Hierarchy) {
		h.log = l
	}
}

// WithClock replaces time.Now for validity windows and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(h *Hierarchy) {
		h.clock = now
	}
}

// WithJournal records every signature in j.
func WithJournal(j journal.Journal) Option {
	return func(h *Hierarchy) {
		h.journal = j
	}
}

// New opens the hierarchy rooted at cfg.RootDir, creating the directory if
// needed. No certificate is read until Root or Lookup is called.
func New(cfg *config.Config, opts ...Option) (*Hierarchy, error) {
	h := &Hierarchy{
		cfg:     cfg,
		builder: NewBuilder(cfg),
		log:     slog.Default(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}

	if err := os.MkdirAll(cfg.RootDir, dirMode); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}
	return h, nil
}

func (h *Hierarchy) Config() *config.Config { return h.cfg }
func (h *Hierarchy) Builder() *Builder      { return h.builder }

func (h *Hierarchy) now() time.Time {
	return h.clock().UTC()
}

// Root loads the root CA, creating it on first use.
func (h *Hierarchy) Root() (*Node, error) {
	if h.root != nil {
		return h.root, nil
	}

	root := h.newNode(nil, h.cfg.RootName)
	if err := root.Load(); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if err := root.bootstrap(); err != nil {
			return nil, err
		}
	} else if !root.IsCA() {
		return nil, fmt.Errorf("%s: root certificate is not a CA: %w", root.path, ErrNotAuthorized)
	} else if _, err := os.Stat(root.meta.File()); errors.Is(err, fs.ErrNotExist) {
		if err := root.meta.Save(); err != nil {
			return nil, err
		}
	}
	h.root = root
	return root, nil
}

// Lookup loads the node at a logical path such as "k1/web/api" together with
// its chain. Unlike Root it never creates anything.
func (h *Hierarchy) Lookup(path string) (*Node, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if parts[0] != h.cfg.RootName {
		return nil, fmt.Errorf("%q is outside root %q: %w", path, h.cfg.RootName, ErrNotFound)
	}

	n := h.root
	if n == nil {
		n = h.newNode(nil, h.cfg.RootName)
		if err := n.Load(); err != nil {
			return nil, err
		}
		if !n.IsCA() {
			return nil, fmt.Errorf("%s: root certificate is not a CA: %w", n.path, ErrNotAuthorized)
		}
		h.root = n
	}
	for _, name := range parts[1:] {
		child, err := n.Child(name)
		if err != nil {
			return nil, err
		}
		if err := child.Load(); err != nil {
			return nil, err
		}
		n = child
	}
	return n, nil
}

// Walk visits n and, depth first, every descendant recorded in the
// metadata of each CA. Directories are reconciled on the way. Recorded
// children whose file is missing are passed with a nil node.
func (h *Hierarchy) Walk(n *Node, fn func(path string, n *Node) error) error {
	if err := fn(n.path, n); err != nil {
		return err
	}
	if !n.IsCA() {
		return nil
	}

	names, err := n.Children()
	if err != nil {
		return err
	}
	for _, name := range names {
		child, err := n.Child(name)
		if err != nil {
			return err
		}
		if n.meta.IsMissing(name) {
			if err := fn(child.path, nil); err != nil {
				return err
			}
			continue
		}
		if err := child.Load(); err != nil {
			return err
		}
		if err := h.Walk(child, fn); err != nil {
			return err
		}
	}
	return nil
}

// record appends to the journal if one is configured. The certificate is
// already on disk, so a failure is only logged.
func (h *Hierarchy) record(action journal.Action, issuer, subject string, info CertInfo) {
	if h.journal == nil {
		return
	}
	err := h.journal.Record(journal.Entry{
		Action:   action,
		Issuer:   issuer,
		Subject:  subject,
		Serial:   info.ID,
		NotAfter: info.Exp,
	})
	if err != nil {
		h.log.Warn("journal write failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
	}
}
