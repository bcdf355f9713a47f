package pki

import (
	"crypto"
	"crypto/sha1"
	"crypto/x509"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// subjectKeyID derives the RFC 5280 method 1 key identifier: the SHA-1 of the
// subjectPublicKey BIT STRING.
func subjectKeyID(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshaling public key: %w", err)
	}

	input := cryptobyte.String(der)
	var spki cryptobyte.String
	var bits []byte
	if !input.ReadASN1(&spki, cbasn1.SEQUENCE) ||
		!spki.SkipASN1(cbasn1.SEQUENCE) ||
		!spki.ReadASN1BitStringAsBytes(&bits) {
		return nil, fmt.Errorf("malformed SubjectPublicKeyInfo")
	}

	sum := sha1.Sum(bits)
	return sum[:], nil
}
