package pki

import (
	"crypto"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jmcleod/mupki/config"
	"github.com/jmcleod/mupki/internal/util"
	"github.com/jmcleod/mupki/journal"
)

const (
	crtExt       = ".crt"
	certFileMode = 0o640
	dirMode      = 0o750
)

// nodeFile maps a logical path such as "k1/web" to its file under the root
// directory.
func nodeFile(cfg *config.Config, path, ext string) string {
	return filepath.Join(cfg.RootDir, filepath.FromSlash(path)) + ext
}

// ---------------------------------------------------------------------------
// Node: one certificate in the hierarchy
// ---------------------------------------------------------------------------

// Node is a certificate with its key and, for CAs, the metadata of the
// directory holding its children. A node for "k1/web" owns k1/web.crt,
// k1/web.key and, when it is a CA, the directory k1/web/.
//
// Nodes are not safe for concurrent use.
type Node struct {
	h      *Hierarchy
	name   string
	path   string
	parent *Node
	key    *KeyStore
	cert   *x509.Certificate
	meta   *Meta

	// derived from cert; reset by setCertificate
	fingerprint *[sha256.Size]byte
	subject     string
	extensions  []Extension
}

func (h *Hierarchy) newNode(parent *Node, name string) *Node {
	path := name
	if parent != nil {
		path = parent.path + "/" + name
	}
	return &Node{
		h:      h,
		name:   name,
		path:   path,
		parent: parent,
		key:    NewKeyStore(h.cfg, path, WithKeyLogger(h.log)),
	}
}

func (n *Node) Name() string     { return n.name }
func (n *Node) Path() string     { return n.path }
func (n *Node) Parent() *Node    { return n.parent }
func (n *Node) IsRoot() bool     { return n.parent == nil }
func (n *Node) Key() *KeyStore   { return n.key }
func (n *Node) Loaded() bool     { return n.cert != nil }
func (n *Node) certFile() string { return nodeFile(n.h.cfg, n.path, crtExt) }
func (n *Node) subDir() string   { return nodeFile(n.h.cfg, n.path, "") }

// CertFile returns the location of the certificate.
func (n *Node) CertFile() string {
	return n.certFile()
}

// Exists reports whether the certificate file is present.
func (n *Node) Exists() bool {
	_, err := os.Stat(n.certFile())
	return err == nil
}

// Child returns the unloaded node for name under this one.
func (n *Node) Child(name string) (*Node, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	return n.h.newNode(n, name), nil
}

func validateName(name string) error {
	switch {
	case name == "",
		strings.HasPrefix(name, "."),
		strings.ContainsAny(name, "/\\\x00"),
		strings.HasSuffix(name, crtExt),
		strings.HasSuffix(name, keyExt):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Load reads the certificate and, for a CA, its metadata. The private key is
// read lazily on first signature. Load is a no-op on a loaded node.
func (n *Node) Load() error {
	if n.cert != nil {
		return nil
	}

	data, err := os.ReadFile(n.certFile())
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("certificate %s: %w", n.path, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("reading certificate %s: %w", n.path, err)
	}

	cert, err := parseCertPEM(data)
	if err != nil {
		return fmt.Errorf("certificate %s: %w", n.path, err)
	}
	if err := n.setCertificate(cert); err != nil {
		return err
	}
	if err := n.fixFS(); err != nil {
		return err
	}

	if n.IsCA() {
		m, err := openMeta(n)
		if err != nil {
			return err
		}
		n.meta = m
	}
	return nil
}

func parseCertPEM(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("%w: no CERTIFICATE block found", ErrInvalidPEM)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}
	return cert, nil
}

func (n *Node) setCertificate(cert *x509.Certificate) error {
	skid := cert.SubjectKeyId
	if len(skid) == 0 {
		var err error
		if skid, err = subjectKeyID(cert.PublicKey); err != nil {
			return fmt.Errorf("certificate %s: %w", n.path, err)
		}
	}
	n.key.bind(skid)

	n.cert = cert
	n.fingerprint = nil
	n.subject = ""
	n.extensions = nil
	return nil
}

// ---------------------------------------------------------------------------
// Issuance
// ---------------------------------------------------------------------------

// EKUSelector picks the extended key usages of a new leaf. It receives the
// issuing CA's defaults.
type EKUSelector func(defaults []asn1.ObjectIdentifier) ([]asn1.ObjectIdentifier, error)

type CreateOption func(*createOptions)

type createOptions struct {
	commonName string
	selectEKUs EKUSelector
}

// WithCommonName overrides the generated subject common name.
func WithCommonName(cn string) CreateOption {
	return func(o *createOptions) {
		o.commonName = cn
	}
}

// WithEKUSelector sets the callback choosing a leaf's extended key usages.
// When the choice differs from the issuer's defaults it becomes the new
// default for that issuer.
func WithEKUSelector(sel EKUSelector) CreateOption {
	return func(o *createOptions) {
		o.selectEKUs = sel
	}
}

// WithEKUs is WithEKUSelector with a fixed answer.
func WithEKUs(oids ...asn1.ObjectIdentifier) CreateOption {
	oids = slices.Clone(oids)
	return WithEKUSelector(func([]asn1.ObjectIdentifier) ([]asn1.ObjectIdentifier, error) {
		return oids, nil
	})
}

// Create issues a certificate for this node from a fresh key and writes it.
// Calling Create on the root bootstraps the hierarchy; isCA and options are
// ignored there. If issuance fails the new key file is removed again.
func (n *Node) Create(isCA bool, opts ...CreateOption) (err error) {
	if n.parent == nil {
		return n.bootstrap()
	}
	if n.Exists() {
		return fmt.Errorf("certificate %s: %w", n.path, ErrAlreadyExists)
	}
	if err = n.parent.Load(); err != nil {
		return err
	}
	if !n.parent.IsCA() {
		return fmt.Errorf("%s: %w", n.parent.path, ErrNotAuthorized)
	}

	var o createOptions
	for _, opt := range opts {
		opt(&o)
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

	req := n.h.builder.NodeRequest(n.name, isCA, o.commonName, n.key.Public(), n.key.SubjectKeyID(), n.h.now())
	req.action = journal.ActionIssue
	if !isCA {
		var ekus []asn1.ObjectIdentifier
		if ekus, err = n.parent.selectEKUs(o.selectEKUs); err != nil {
			return err
		}
		if len(ekus) > 0 {
			req.Extensions = append(req.Extensions, ExtendedKeyUsage{OIDs: ekus})
		}
	}

	var cert *x509.Certificate
	if cert, err = n.parent.SignChild(n.name, req); err != nil {
		return err
	}
	if err = n.setCertificate(cert); err != nil {
		return err
	}
	if err = n.dump(); err != nil {
		return err
	}
	if isCA {
		// A directory left behind by an earlier CA of the same name keeps
		// its metadata.
		if n.meta, err = openMeta(n); err != nil {
			return err
		}
		if err = n.meta.Save(); err != nil {
			return err
		}
	}
	return nil
}

// selectEKUs runs sel against this CA's defaults and stores a differing,
// non-empty answer as the new default.
func (n *Node) selectEKUs(sel EKUSelector) ([]asn1.ObjectIdentifier, error) {
	defaults, err := n.meta.EKUs()
	if err != nil {
		return nil, err
	}
	if sel == nil {
		return defaults, nil
	}

	ekus, err := sel(slices.Clone(defaults))
	if err != nil {
		return nil, fmt.Errorf("selecting extended key usages: %w", err)
	}
	if len(ekus) > 0 && !slices.EqualFunc(ekus, defaults, asn1.ObjectIdentifier.Equal) {
		n.meta.SetEKUs(ekus)
		if err := n.meta.Save(); err != nil {
			return nil, err
		}
	}
	return ekus, nil
}

// Renew re-issues the certificate for the same key, subject and extensions
// with a new serial and a validity window computed from the current time.
// The old serial stays recorded in the issuer's metadata until it is
// reconciled away.
func (n *Node) Renew() error {
	if err := n.Load(); err != nil {
		return err
	}
	exts, err := n.Extensions()
	if err != nil {
		return err
	}

	req := &Request{
		Subject:    n.cert.Subject,
		RawSubject: n.cert.RawSubject,
		PublicKey:  n.cert.PublicKey,
		Extensions: withoutSigningExtensions(exts),
		action:     journal.ActionRenew,
	}

	var cert *x509.Certificate
	if n.parent == nil {
		req.NotBefore, req.NotAfter = n.h.builder.RootValidity()
		cert, err = n.selfSign(req)
	} else {
		req.NotBefore, req.NotAfter = n.h.builder.ValidityWindow(n.IsCA(), n.h.now())
		cert, err = n.parent.SignChild(n.name, req)
	}
	if err != nil {
		return err
	}

	old := n.info()
	if err := n.setCertificate(cert); err != nil {
		return err
	}
	if err := n.dump(); err != nil {
		return err
	}
	n.h.log.Info("renewed certificate",
		slog.String("path", n.path),
		slog.String("old_serial", old.ID),
		slog.String("serial", n.info().ID),
		slog.Time("not_after", n.cert.NotAfter),
	)
	return nil
}

// SignChild signs req as the certificate of this CA's child name and records
// it in the metadata. The issuer-dependent extensions of req are replaced.
func (n *Node) SignChild(name string, req *Request) (*x509.Certificate, error) {
	if err := n.Load(); err != nil {
		return nil, err
	}
	if !n.IsCA() {
		return nil, fmt.Errorf("%s: %w", n.path, ErrNotAuthorized)
	}
	if err := validateName(name); err != nil {
		return nil, err
	}

	signer, err := n.signer()
	if err != nil {
		return nil, err
	}
	tmpl, err := req.template()
	if err != nil {
		return nil, err
	}
	if tmpl.SerialNumber, err = util.RandomSerial(); err != nil {
		return nil, err
	}
	for _, ext := range []Extension{
		AuthorityKeyID{ID: n.SubjectKeyID()},
		AuthorityInfoAccess{IssuerURLs: []string{n.h.builder.AuthorityInfoAccess(n.path)}},
		CRLDistributionPoint{URLs: []string{n.h.builder.CRLDistributionPoint(n.path)}},
	} {
		if err := ext.apply(tmpl); err != nil {
			return nil, fmt.Errorf("extension %s: %w", ext.OID(), err)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, n.cert, req.PublicKey, signer)
	if err != nil {
		return nil, fmt.Errorf("signing %s/%s: %w", n.path, name, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parsing signed certificate: %w", err)
	}

	info := certInfo(cert)
	n.meta.record(name, info)
	n.meta.setCA(info.ID, cert.IsCA)
	n.meta.cleanExtra()
	if err := n.meta.Save(); err != nil {
		return nil, err
	}

	subject := n.path + "/" + name
	n.h.record(req.action, n.path, subject, info)
	n.h.log.Info("signed certificate",
		slog.String("issuer", n.path),
		slog.String("subject", subject),
		slog.String("serial", info.ID),
		slog.Time("not_after", info.Exp),
	)
	return cert, nil
}

// selfSign issues req with this node's key as both subject and issuer.
func (n *Node) selfSign(req *Request) (*x509.Certificate, error) {
	var signer crypto.Signer
	var err error
	if n.cert != nil {
		signer, err = n.signer()
	} else {
		signer, err = n.key.Signer()
	}
	if err != nil {
		return nil, err
	}

	tmpl, err := req.template()
	if err != nil {
		return nil, err
	}
	if tmpl.SerialNumber, err = util.RandomSerial(); err != nil {
		return nil, err
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, req.PublicKey, signer)
	if err != nil {
		return nil, fmt.Errorf("self-signing %s: %w", n.path, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parsing signed certificate: %w", err)
	}
	n.h.record(req.action, n.path, n.path, certInfo(cert))
	return cert, nil
}

// signer returns the private key after checking it belongs to the
// certificate.
func (n *Node) signer() (crypto.Signer, error) {
	s, err := n.key.Signer()
	if err != nil {
		return nil, err
	}
	pub, ok := s.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(n.cert.PublicKey) {
		return nil, fmt.Errorf("%w: key of %s does not match its certificate", ErrStorageInconsistency, n.path)
	}
	return s, nil
}

// ---------------------------------------------------------------------------
// Children
// ---------------------------------------------------------------------------

// Children reconciles the directory and returns the recorded child names in
// sorted order, including those whose files are missing.
func (n *Node) Children() ([]string, error) {
	if err := n.Load(); err != nil {
		return nil, err
	}
	if !n.IsCA() {
		return nil, fmt.Errorf("%s: %w", n.path, ErrNotAuthorized)
	}
	if err := n.meta.Update(); err != nil {
		return nil, err
	}
	return n.meta.Names(), nil
}

// Revoke tombstones the child name: its serial moves to the CRL list and the
// certificate is ignored by reconciliation until it expires.
func (n *Node) Revoke(name string) (CertInfo, error) {
	if err := n.Load(); err != nil {
		return CertInfo{}, err
	}
	if !n.IsCA() {
		return CertInfo{}, fmt.Errorf("%s: %w", n.path, ErrNotAuthorized)
	}

	info, err := n.meta.Tombstone(name)
	if err != nil {
		return CertInfo{}, err
	}
	if err := n.meta.Save(); err != nil {
		return CertInfo{}, err
	}

	subject := n.path + "/" + name
	n.h.record(journal.ActionTombstone, n.path, subject, info)
	n.h.log.Info("revoked certificate",
		slog.String("issuer", n.path),
		slog.String("subject", subject),
		slog.String("serial", info.ID),
	)
	return info, nil
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// IsCA reports whether the loaded certificate may sign.
func (n *Node) IsCA() bool {
	return n.cert != nil && n.cert.IsCA
}

func (n *Node) Certificate() *x509.Certificate {
	return n.cert
}

// Meta returns the metadata of a loaded CA, nil otherwise.
func (n *Node) Meta() *Meta {
	return n.meta
}

func (n *Node) SubjectKeyID() []byte {
	if n.cert != nil && len(n.cert.SubjectKeyId) > 0 {
		return n.cert.SubjectKeyId
	}
	return n.key.SubjectKeyID()
}

// AuthorityKeyID is nil for the root.
func (n *Node) AuthorityKeyID() []byte {
	if n.cert == nil {
		return nil
	}
	return n.cert.AuthorityKeyId
}

// Fingerprint is the SHA-256 of the certificate DER.
func (n *Node) Fingerprint() [sha256.Size]byte {
	if n.fingerprint == nil {
		sum := sha256.Sum256(n.cert.Raw)
		n.fingerprint = &sum
	}
	return *n.fingerprint
}

// Subject returns the subject common names joined by " | ", or the full
// distinguished name when there is none.
func (n *Node) Subject() string {
	if n.subject != "" {
		return n.subject
	}
	var cns []string
	for _, atv := range n.cert.Subject.Names {
		if !atv.Type.Equal(oidCommonName) {
			continue
		}
		if s, ok := atv.Value.(string); ok {
			cns = append(cns, s)
		}
	}
	if len(cns) == 0 {
		n.subject = n.cert.Subject.String()
	} else {
		n.subject = strings.Join(cns, " | ")
	}
	return n.subject
}

// Extensions returns the typed certificate extensions in certificate order.
func (n *Node) Extensions() ([]Extension, error) {
	if n.extensions == nil {
		exts, err := ExtensionsOf(n.cert)
		if err != nil {
			return nil, fmt.Errorf("certificate %s: %w", n.path, err)
		}
		n.extensions = exts
	}
	return n.extensions, nil
}

// VerifyKey decrypts the private key and checks it against the certificate.
func (n *Node) VerifyKey() error {
	if err := n.Load(); err != nil {
		return err
	}
	_, err := n.signer()
	return err
}

// ExportKeyPEM returns the decrypted private key as PEM.
func (n *Node) ExportKeyPEM() ([]byte, error) {
	if err := n.VerifyKey(); err != nil {
		return nil, err
	}
	return n.key.ExportPEM()
}

// CertificatePEM returns the certificate as PEM.
func (n *Node) CertificatePEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: n.cert.Raw})
}

func (n *Node) info() CertInfo {
	return certInfo(n.cert)
}

// dump writes the certificate and brings the directory layout in line.
func (n *Node) dump() error {
	if err := util.WriteFileAtomic(n.certFile(), n.CertificatePEM(), certFileMode); err != nil {
		return fmt.Errorf("writing certificate %s: %w", n.path, err)
	}
	return n.fixFS()
}

// fixFS gives a CA its child directory and removes an empty one left behind
// by a leaf. File modes are reset on the way.
func (n *Node) fixFS() error {
	dir := n.subDir()
	if n.IsCA() {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
		if err := os.Chmod(dir, dirMode); err != nil {
			return fmt.Errorf("chmod %s: %w", dir, err)
		}
	} else if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
		if err := os.Remove(dir); err != nil {
			return fmt.Errorf("%w: leaf %s has a non-empty directory: %w", ErrStorageInconsistency, n.path, err)
		}
		n.h.log.Debug("removed directory of leaf", slog.String("path", n.path))
	}

	if err := os.Chmod(n.certFile(), certFileMode); err != nil {
		return fmt.Errorf("chmod %s: %w", n.certFile(), err)
	}
	return nil
}
