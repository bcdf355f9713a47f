package pki

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"slices"
)

var (
	oidBasicConstraints      = asn1.ObjectIdentifier{2, 5, 29, 19}
	oidKeyUsage              = asn1.ObjectIdentifier{2, 5, 29, 15}
	oidExtKeyUsage           = asn1.ObjectIdentifier{2, 5, 29, 37}
	oidSubjectKeyID          = asn1.ObjectIdentifier{2, 5, 29, 14}
	oidAuthorityKeyID        = asn1.ObjectIdentifier{2, 5, 29, 35}
	oidCRLDistributionPoints = asn1.ObjectIdentifier{2, 5, 29, 31}
	oidAuthorityInfoAccess   = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 1}

	oidCommonName = asn1.ObjectIdentifier{2, 5, 4, 3}
)

// Extension is one certificate extension. The set of implementations is
// closed; anything else found on a certificate is carried as Unrecognized.
type Extension interface {
	OID() asn1.ObjectIdentifier
	Critical() bool
	apply(tmpl *x509.Certificate) error
}

type BasicConstraints struct {
	IsCA bool
}

type KeyUsage struct {
	Usage x509.KeyUsage
}

// ExtendedKeyUsage keeps the OIDs in the order given.
type ExtendedKeyUsage struct {
	OIDs []asn1.ObjectIdentifier
}

type SubjectKeyID struct {
	ID []byte
}

type AuthorityKeyID struct {
	ID []byte
}

type CRLDistributionPoint struct {
	URLs []string
}

type AuthorityInfoAccess struct {
	IssuerURLs []string
	OCSP       []string
}

// Unrecognized is an extension outside the managed set, copied verbatim.
type Unrecognized struct {
	Ext pkix.Extension
}

func (BasicConstraints) OID() asn1.ObjectIdentifier     { return oidBasicConstraints }
func (KeyUsage) OID() asn1.ObjectIdentifier             { return oidKeyUsage }
func (ExtendedKeyUsage) OID() asn1.ObjectIdentifier     { return oidExtKeyUsage }
func (SubjectKeyID) OID() asn1.ObjectIdentifier         { return oidSubjectKeyID }
func (AuthorityKeyID) OID() asn1.ObjectIdentifier       { return oidAuthorityKeyID }
func (CRLDistributionPoint) OID() asn1.ObjectIdentifier { return oidCRLDistributionPoints }
func (AuthorityInfoAccess) OID() asn1.ObjectIdentifier  { return oidAuthorityInfoAccess }
func (u Unrecognized) OID() asn1.ObjectIdentifier       { return u.Ext.Id }

func (BasicConstraints) Critical() bool     { return true }
func (KeyUsage) Critical() bool             { return true }
func (ExtendedKeyUsage) Critical() bool     { return false }
func (SubjectKeyID) Critical() bool         { return false }
func (AuthorityKeyID) Critical() bool       { return false }
func (CRLDistributionPoint) Critical() bool { return false }
func (AuthorityInfoAccess) Critical() bool  { return false }
func (u Unrecognized) Critical() bool       { return u.Ext.Critical }

func (e BasicConstraints) apply(tmpl *x509.Certificate) error {
	tmpl.BasicConstraintsValid = true
	tmpl.IsCA = e.IsCA
	return nil
}

func (e KeyUsage) apply(tmpl *x509.Certificate) error {
	tmpl.KeyUsage = e.Usage
	return nil
}

func (e ExtendedKeyUsage) apply(tmpl *x509.Certificate) error {
	value, err := asn1.Marshal(e.OIDs)
	if err != nil {
		return fmt.Errorf("encoding extended key usage: %w", err)
	}
	tmpl.ExtraExtensions = append(tmpl.ExtraExtensions, pkix.Extension{Id: oidExtKeyUsage, Value: value})
	return nil
}

func (e SubjectKeyID) apply(tmpl *x509.Certificate) error {
	tmpl.SubjectKeyId = slices.Clone(e.ID)
	return nil
}

func (e AuthorityKeyID) apply(tmpl *x509.Certificate) error {
	tmpl.AuthorityKeyId = slices.Clone(e.ID)
	return nil
}

func (e CRLDistributionPoint) apply(tmpl *x509.Certificate) error {
	tmpl.CRLDistributionPoints = slices.Clone(e.URLs)
	return nil
}

func (e AuthorityInfoAccess) apply(tmpl *x509.Certificate) error {
	tmpl.IssuingCertificateURL = slices.Clone(e.IssuerURLs)
	tmpl.OCSPServer = slices.Clone(e.OCSP)
	return nil
}

func (e Unrecognized) apply(tmpl *x509.Certificate) error {
	tmpl.ExtraExtensions = append(tmpl.ExtraExtensions, e.Ext)
	return nil
}

// ExtensionsOf lists the extensions of cert in certificate order.
func ExtensionsOf(cert *x509.Certificate) ([]Extension, error) {
	exts := make([]Extension, 0, len(cert.Extensions))
	for _, ext := range cert.Extensions {
		switch {
		case ext.Id.Equal(oidBasicConstraints):
			exts = append(exts, BasicConstraints{IsCA: cert.IsCA})
		case ext.Id.Equal(oidKeyUsage):
			exts = append(exts, KeyUsage{Usage: cert.KeyUsage})
		case ext.Id.Equal(oidExtKeyUsage):
			var oids []asn1.ObjectIdentifier
			if _, err := asn1.Unmarshal(ext.Value, &oids); err != nil {
				return nil, fmt.Errorf("parsing extended key usage: %w", err)
			}
			exts = append(exts, ExtendedKeyUsage{OIDs: oids})
		case ext.Id.Equal(oidSubjectKeyID):
			exts = append(exts, SubjectKeyID{ID: cert.SubjectKeyId})
		case ext.Id.Equal(oidAuthorityKeyID):
			exts = append(exts, AuthorityKeyID{ID: cert.AuthorityKeyId})
		case ext.Id.Equal(oidCRLDistributionPoints):
			exts = append(exts, CRLDistributionPoint{URLs: cert.CRLDistributionPoints})
		case ext.Id.Equal(oidAuthorityInfoAccess):
			exts = append(exts, AuthorityInfoAccess{IssuerURLs: cert.IssuingCertificateURL, OCSP: cert.OCSPServer})
		default:
			exts = append(exts, Unrecognized{Ext: ext})
		}
	}
	return exts, nil
}
