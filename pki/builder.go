package pki

import (
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jmcleod/mupki/config"
)

// Builder holds the certificate policy: names, key usage, validity windows
// and the CRL/AIA locations. Its methods are pure functions of their
// arguments and the configuration.
type Builder struct {
	cfg *config.Config
}

func NewBuilder(cfg *config.Config) *Builder {
	return &Builder{cfg: cfg}
}

// SubjectName returns the subject for a node. CAs are named
// "<org> <Name> CA", leaves after their file name. A non-empty commonName
// overrides both.
func (b *Builder) SubjectName(name string, isCA bool, commonName string) pkix.Name {
	cn := commonName
	if cn == "" {
		cn = name
		if isCA {
			cn = b.cfg.Org + " " + capitalize(name) + " CA"
		}
	}
	return b.name(cn)
}

func (b *Builder) rootSubject() pkix.Name {
	return b.name(b.cfg.Org + " Root CA")
}

func (b *Builder) name(cn string) pkix.Name {
	n := pkix.Name{CommonName: cn}
	if b.cfg.Org != "" {
		n.Organization = []string{b.cfg.Org}
	}
	return n
}

// capitalize upper-cases the first letter and lower-cases the rest.
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return cases.Upper(language.Und).String(string(r)) + cases.Lower(language.Und).String(s[size:])
}

func (b *Builder) KeyUsage(isCA bool) x509.KeyUsage {
	if isCA {
		return x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	}
	return x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment | x509.KeyUsageKeyAgreement
}

// LastGridDate returns the most recent grid date at or before now.
func (b *Builder) LastGridDate(now time.Time) time.Time {
	g := b.cfg.Grid
	now = now.UTC()

	k := floorDiv(now.Year()-g.Origin.Year(), g.PeriodYears)
	d := b.gridDate(k * g.PeriodYears)
	for d.After(now) {
		k--
		d = b.gridDate(k * g.PeriodYears)
	}
	return d
}

func (b *Builder) gridDate(years int) time.Time {
	o := b.cfg.Grid.Origin
	return time.Date(o.Year()+years, o.Month(), o.Day(), 0, 0, 0, 0, time.UTC)
}

func floorDiv(a, n int) int {
	q := a / n
	if a%n != 0 && a < 0 {
		q--
	}
	return q
}

// ValidityWindow aligns not-before to the grid and adds the role lifetime.
func (b *Builder) ValidityWindow(isCA bool, now time.Time) (notBefore, notAfter time.Time) {
	lifetime := b.cfg.Grid.LeafLifetimeYears
	if isCA {
		lifetime = b.cfg.Grid.CALifetimeYears
	}
	notBefore = b.LastGridDate(now)
	return notBefore, notBefore.AddDate(lifetime, 0, 0)
}

// RootValidity spans 400 years from the grid origin.
func (b *Builder) RootValidity() (notBefore, notAfter time.Time) {
	o := b.cfg.Grid.Origin.UTC()
	return o, o.AddDate(400, 0, 0)
}

func (b *Builder) CRLDistributionPoint(path string) string {
	return b.cfg.Endpoint + path + ".crl"
}

func (b *Builder) AuthorityInfoAccess(path string) string {
	return b.cfg.Endpoint + path + crtExt
}

// NodeRequest describes a new certificate for a CA or leaf.
func (b *Builder) NodeRequest(name string, isCA bool, commonName string, pub crypto.PublicKey, skid []byte, now time.Time) *Request {
	notBefore, notAfter := b.ValidityWindow(isCA, now)
	return &Request{
		Subject:   b.SubjectName(name, isCA, commonName),
		PublicKey: pub,
		NotBefore: notBefore,
		NotAfter:  notAfter,
		Extensions: []Extension{
			BasicConstraints{IsCA: isCA},
			KeyUsage{Usage: b.KeyUsage(isCA)},
			SubjectKeyID{ID: skid},
		},
	}
}

// RootRequest describes the self-signed root.
func (b *Builder) RootRequest(pub crypto.PublicKey, skid []byte) *Request {
	notBefore, notAfter := b.RootValidity()
	return &Request{
		Subject:   b.rootSubject(),
		PublicKey: pub,
		NotBefore: notBefore,
		NotAfter:  notAfter,
		Extensions: []Extension{
			BasicConstraints{IsCA: true},
			KeyUsage{Usage: b.KeyUsage(true)},
			SubjectKeyID{ID: skid},
		},
	}
}
