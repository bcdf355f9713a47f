package pki

import (
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmcleod/mupki/journal"
)

// ---------------------------------------------------------------------------
// Root bootstrap
// ---------------------------------------------------------------------------

// bootstrap creates the self-signed root: a fresh key, a certificate valid
// for 400 years from the grid origin and an empty meta.toml.
func (n *Node) bootstrap() (err error) {
	if n.Exists() {
		return fmt.Errorf("certificate %s: %w", n.path, ErrAlreadyExists)
	}

	if err = n.key.Generate(); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rmErr := n.key.remove(); rmErr != nil {
				err = errors.Join(err, rmErr)
			}
		}
	}()

	req := n.h.builder.RootRequest(n.key.Public(), n.key.SubjectKeyID())
	req.action = journal.ActionRoot

	var cert *x509.Certificate
	if cert, err = n.selfSign(req); err != nil {
		return err
	}
	if err = n.setCertificate(cert); err != nil {
		return err
	}
	if err = n.dump(); err != nil {
		return err
	}
	n.meta = newMeta(n)
	if err = n.meta.Save(); err != nil {
		return err
	}

	n.h.log.Info("created root certificate",
		slog.String("path", n.path),
		slog.String("subject", n.Subject()),
		slog.String("serial", n.info().ID),
	)
	return nil
}
