package pki

import (
	"encoding/asn1"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// CommonEKUs maps short names to the extended key usage OIDs offered when
// creating a leaf.
var CommonEKUs = map[string]asn1.ObjectIdentifier{
	"serverAuth":      {1, 3, 6, 1, 5, 5, 7, 3, 1},
	"clientAuth":      {1, 3, 6, 1, 5, 5, 7, 3, 2},
	"codeSigning":     {1, 3, 6, 1, 5, 5, 7, 3, 3},
	"emailProtection": {1, 3, 6, 1, 5, 5, 7, 3, 4},
	"timeStamping":    {1, 3, 6, 1, 5, 5, 7, 3, 8},
	"OCSPSigning":     {1, 3, 6, 1, 5, 5, 7, 3, 9},
}

// ParseOID accepts a name from CommonEKUs or a dotted OID such as
// "1.3.6.1.5.5.7.3.1".
func ParseOID(s string) (asn1.ObjectIdentifier, error) {
	s = strings.TrimSpace(s)
	if oid, ok := CommonEKUs[s]; ok {
		return slices.Clone(oid), nil
	}

	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid OID %q", s)
	}
	oid := make(asn1.ObjectIdentifier, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("invalid OID %q", s)
		}
		oid[i] = v
	}
	if oid[0] > 2 || (oid[0] < 2 && oid[1] > 39) {
		return nil, fmt.Errorf("invalid OID %q", s)
	}
	return oid, nil
}

// ParseOIDs parses a comma separated list with ParseOID.
func ParseOIDs(s string) ([]asn1.ObjectIdentifier, error) {
	var oids []asn1.ObjectIdentifier
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		oid, err := ParseOID(part)
		if err != nil {
			return nil, err
		}
		oids = append(oids, oid)
	}
	return oids, nil
}

// EKUName returns the short name of oid, or its dotted form.
func EKUName(oid asn1.ObjectIdentifier) string {
	for name, known := range CommonEKUs {
		if known.Equal(oid) {
			return name
		}
	}
	return oid.String()
}
