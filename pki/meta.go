package pki

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/jmcleod/mupki/internal/tomledit"
	"github.com/jmcleod/mupki/internal/util"
)

const (
	metaFileName = "meta.toml"
	metaFileMode = 0o644
)

// CertInfo identifies one issued certificate. Two infos are the same
// certificate when their serials match.
type CertInfo struct {
	ID  string    `toml:"id"`
	Exp time.Time `toml:"exp"`
}

func certInfo(cert *x509.Certificate) CertInfo {
	return CertInfo{ID: cert.SerialNumber.Text(16), Exp: cert.NotAfter.UTC()}
}

func (c CertInfo) Same(o CertInfo) bool {
	return c.ID == o.ID
}

// Expired reports whether the certificate is past its not-after at now.
func (c CertInfo) Expired(now time.Time) bool {
	return c.Exp.Before(now)
}

func (c CertInfo) table() tomledit.Table {
	return tomledit.Table{
		{Key: "id", Value: c.ID},
		{Key: "exp", Value: c.Exp.UTC()},
	}
}

// metaModel is the decoded meta.toml of one CA directory.
type metaModel struct {
	Certs map[string]CertInfo `toml:"certs"`
	CA    []string            `toml:"ca"`
	Miss  []string            `toml:"miss"`
	CRL   []CertInfo          `toml:"crl"`
	EKUs  []string            `toml:"ekus"`
}

// table lays the model out in file order: lists first, then the certs table
// sorted by name.
func (m *metaModel) table() tomledit.Table {
	certs := make(tomledit.Table, 0, len(m.Certs))
	for _, name := range slices.Sorted(maps.Keys(m.Certs)) {
		certs = append(certs, tomledit.Field{Key: name, Value: m.Certs[name].table()})
	}
	crl := make([]any, len(m.CRL))
	for i, c := range m.CRL {
		crl[i] = c.table()
	}
	return tomledit.Table{
		{Key: "ca", Value: anyStrings(m.CA)},
		{Key: "miss", Value: anyStrings(m.Miss)},
		{Key: "crl", Value: crl},
		{Key: "ekus", Value: anyStrings(m.EKUs)},
		{Key: "certs", Value: certs},
	}
}

func anyStrings(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// ---------------------------------------------------------------------------
// Meta: the record of a CA directory
// ---------------------------------------------------------------------------

// Meta tracks the children a CA has issued: the current certificate of each
// name, which of them are CAs, which went missing from disk and which were
// tombstoned. It is persisted as meta.toml inside the CA directory; saving
// edits only the values that changed so hand-written comments and layout
// survive.
type Meta struct {
	owner *Node
	file  string
	model metaModel
	doc   *tomledit.Document
	saved tomledit.Table
}

func newMeta(owner *Node) *Meta {
	return &Meta{
		owner: owner,
		file:  filepath.Join(owner.subDir(), metaFileName),
		model: metaModel{Certs: map[string]CertInfo{}},
		doc:   tomledit.New(),
	}
}

// openMeta reads the metadata of owner. A missing file yields empty metadata.
func openMeta(owner *Node) (*Meta, error) {
	m := newMeta(owner)
	data, err := os.ReadFile(m.file)
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", m.file, err)
	}

	doc, err := tomledit.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStorageInconsistency, m.file, err)
	}
	var model metaModel
	if err := toml.NewDecoder(bytes.NewReader(data)).Decode(&model); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStorageInconsistency, m.file, err)
	}
	if model.Certs == nil {
		model.Certs = map[string]CertInfo{}
	}

	m.model, m.doc = model, doc
	m.saved = m.model.table()
	return m, nil
}

// Save writes the metadata, touching only the values that changed since the
// last load or save.
func (m *Meta) Save() error {
	cur := m.model.table()

	doc, err := tomledit.Parse(m.doc.Bytes())
	if err != nil {
		return fmt.Errorf("%s: %w", m.file, err)
	}
	if err := tomledit.ApplyDiff(doc, m.saved, cur); err != nil {
		return fmt.Errorf("%s: %w", m.file, err)
	}
	if err := util.WriteFileAtomic(m.file, doc.Bytes(), metaFileMode); err != nil {
		return fmt.Errorf("writing %s: %w", m.file, err)
	}

	m.doc, m.saved = doc, cur
	return nil
}

// Update reconciles the metadata with the certificate files in the
// directory and saves the result.
//
// Recorded names whose file is gone are kept with their serial listed as
// missing until the file reappears, under any name. Expired children are
// renewed. Tombstoned serials are dropped from the record. A child that was
// replaced by a different certificate has its old serial moved to the CRL
// list. Any child not issued by the owner's key aborts the update with
// ErrTrustViolation.
//
// Children are visited in name order and a renewal saves the metadata as
// part of signing, so an update that fails after renewing an earlier child
// leaves that renewal recorded while the rest of the pass is discarded.
func (m *Meta) Update() error {
	now := m.owner.h.now()

	existing, err := m.existing()
	if err != nil {
		return err
	}

	missing := dedupe(m.model.Miss)
	var gone []string
	for _, name := range slices.Sorted(maps.Keys(m.model.Certs)) {
		if _, ok := slices.BinarySearch(existing, name); ok {
			continue
		}
		gone = append(gone, name)
		if id := m.model.Certs[name].ID; !slices.Contains(missing, id) {
			missing = append(missing, id)
		}
	}

	skid := m.owner.SubjectKeyID()
	for _, name := range existing {
		child, err := m.owner.Child(name)
		if err != nil {
			return err
		}
		if err := child.Load(); err != nil {
			return err
		}
		if akid := child.AuthorityKeyID(); len(akid) > 0 && !bytes.Equal(akid, skid) {
			return fmt.Errorf("%w: %s was not issued by %s", ErrTrustViolation, child.path, m.owner.path)
		}

		info := child.info()
		if m.tombstoned(info) {
			delete(m.model.Certs, name)
			continue
		}
		if info.Expired(now) {
			m.owner.h.log.Info("renewing expired certificate",
				slog.String("path", child.path),
				slog.Time("not_after", info.Exp),
			)
			if err := child.Renew(); err != nil {
				return fmt.Errorf("renewing %s: %w", child.path, err)
			}
			continue
		}

		if i := slices.Index(missing, info.ID); i >= 0 {
			missing = slices.Delete(missing, i, i+1)
		} else if rec, ok := m.model.Certs[name]; ok && !rec.Same(info) {
			m.model.CRL = append(m.model.CRL, rec)
		}
		m.model.Certs[name] = info
		m.setCA(info.ID, child.IsCA())
	}

	m.model.Miss = missing
	for _, name := range gone {
		if !slices.Contains(missing, m.model.Certs[name].ID) {
			delete(m.model.Certs, name)
		}
	}
	m.cleanCRL(now)
	m.cleanExtra()

	return m.Save()
}

// existing lists the child names with a certificate file, sorted.
func (m *Meta) existing() ([]string, error) {
	entries, err := os.ReadDir(m.owner.subDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", m.owner.path, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name, ok := strings.CutSuffix(e.Name(), crtExt)
		if !ok || validateName(name) != nil {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// Tombstone moves the current certificate of name to the CRL list and
// forgets the name. It does not save.
func (m *Meta) Tombstone(name string) (CertInfo, error) {
	info, ok := m.model.Certs[name]
	if !ok {
		return CertInfo{}, fmt.Errorf("%s/%s: %w", m.owner.path, name, ErrNotFound)
	}
	if !m.tombstoned(info) {
		m.model.CRL = append(m.model.CRL, info)
	}
	delete(m.model.Certs, name)
	m.cleanExtra()
	return info, nil
}

func (m *Meta) tombstoned(info CertInfo) bool {
	return slices.ContainsFunc(m.model.CRL, info.Same)
}

// record stores info as the current certificate of name.
func (m *Meta) record(name string, info CertInfo) {
	m.model.Certs[name] = info
}

func (m *Meta) setCA(id string, isCA bool) {
	has := slices.Contains(m.model.CA, id)
	switch {
	case isCA && !has:
		m.model.CA = append(m.model.CA, id)
	case !isCA && has:
		m.model.CA = slices.DeleteFunc(m.model.CA, func(s string) bool { return s == id })
	}
}

func (m *Meta) cleanCRL(now time.Time) {
	m.model.CRL = slices.DeleteFunc(m.model.CRL, func(c CertInfo) bool { return c.Expired(now) })
}

// cleanExtra drops ca and miss ids that no recorded name refers to.
func (m *Meta) cleanExtra() {
	ids := make(map[string]bool, len(m.model.Certs))
	for _, c := range m.model.Certs {
		ids[c.ID] = true
	}
	stale := func(id string) bool { return !ids[id] }
	m.model.CA = slices.DeleteFunc(dedupe(m.model.CA), stale)
	m.model.Miss = slices.DeleteFunc(dedupe(m.model.Miss), stale)
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Names returns the recorded child names, sorted.
func (m *Meta) Names() []string {
	return slices.Sorted(maps.Keys(m.model.Certs))
}

func (m *Meta) Info(name string) (CertInfo, bool) {
	info, ok := m.model.Certs[name]
	return info, ok
}

// IsCAChild reports whether the recorded certificate of name is a CA.
func (m *Meta) IsCAChild(name string) bool {
	info, ok := m.model.Certs[name]
	return ok && slices.Contains(m.model.CA, info.ID)
}

// IsMissing reports whether the file of name is known to be gone.
func (m *Meta) IsMissing(name string) bool {
	info, ok := m.model.Certs[name]
	return ok && slices.Contains(m.model.Miss, info.ID)
}

// CRL returns the tombstoned certificates that have not expired yet.
func (m *Meta) CRL() []CertInfo {
	return slices.Clone(m.model.CRL)
}

// EKUs returns the default extended key usages for new leaves.
func (m *Meta) EKUs() ([]asn1.ObjectIdentifier, error) {
	oids := make([]asn1.ObjectIdentifier, 0, len(m.model.EKUs))
	for _, s := range m.model.EKUs {
		oid, err := ParseOID(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrStorageInconsistency, m.file, err)
		}
		oids = append(oids, oid)
	}
	return oids, nil
}

// SetEKUs replaces the default extended key usages. It does not save.
func (m *Meta) SetEKUs(oids []asn1.ObjectIdentifier) {
	m.model.EKUs = make([]string, len(oids))
	for i, oid := range oids {
		m.model.EKUs[i] = oid.String()
	}
}

// File returns the location of meta.toml.
func (m *Meta) File() string {
	return m.file
}
