package pki

import (
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"slices"
	"time"

	"github.com/jmcleod/mupki/journal"
)

// Request is an unsigned certificate handed to a CA for signing. RawSubject,
// when set, takes precedence over Subject so renewals keep the exact
// encoding.
type Request struct {
	Subject    pkix.Name
	RawSubject []byte
	PublicKey  crypto.PublicKey
	NotBefore  time.Time
	NotAfter   time.Time
	Extensions []Extension

	action journal.Action
}

func (r *Request) template() (*x509.Certificate, error) {
	tmpl := &x509.Certificate{
		Subject:            r.Subject,
		RawSubject:         slices.Clone(r.RawSubject),
		NotBefore:          r.NotBefore,
		NotAfter:           r.NotAfter,
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}
	for _, ext := range r.Extensions {
		if err := ext.apply(tmpl); err != nil {
			return nil, fmt.Errorf("extension %s: %w", ext.OID(), err)
		}
	}
	return tmpl, nil
}

// withoutSigningExtensions drops the extensions each signing CA sets itself.
func withoutSigningExtensions(exts []Extension) []Extension {
	out := make([]Extension, 0, len(exts))
	for _, ext := range exts {
		switch ext.(type) {
		case AuthorityKeyID, AuthorityInfoAccess, CRLDistributionPoint:
			continue
		}
		out = append(out, ext)
	}
	return out
}
