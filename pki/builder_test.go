package pki_test

import (
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jmcleod/mupki/pki"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestLastGridDate(t *testing.T) {
	b := pki.NewBuilder(newTestConfig(t, t.TempDir(), testKey))

	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{date(2025, time.March, 1), date(2024, time.August, 24)},
		{date(2024, time.August, 24), date(2024, time.August, 24)},
		{date(2024, time.August, 23), date(2020, time.August, 24)},
		{date(2028, time.December, 31), date(2028, time.August, 24)},
		{date(2000, time.August, 24), date(2000, time.August, 24)},
		{date(1999, time.January, 1), date(1996, time.August, 24)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.LastGridDate(tt.now), "now=%s", tt.now.Format(time.DateOnly))
	}
}

func TestValidityWindow(t *testing.T) {
	b := pki.NewBuilder(newTestConfig(t, t.TempDir(), testKey))
	now := date(2025, time.March, 1)

	nb, na := b.ValidityWindow(false, now)
	assert.Equal(t, date(2024, time.August, 24), nb)
	assert.Equal(t, date(2028, time.August, 24), na)

	nb, na = b.ValidityWindow(true, now)
	assert.Equal(t, date(2024, time.August, 24), nb)
	assert.Equal(t, date(2036, time.August, 24), na)

	nb, na = b.RootValidity()
	assert.Equal(t, date(2000, time.August, 24), nb)
	assert.Equal(t, date(2400, time.August, 24), na)
}

func TestSubjectName(t *testing.T) {
	b := pki.NewBuilder(newTestConfig(t, t.TempDir(), testKey))

	ca := b.SubjectName("services", true, "")
	assert.Equal(t, "example.org Services CA", ca.CommonName)
	assert.Equal(t, []string{"example.org"}, ca.Organization)

	assert.Equal(t, "web", b.SubjectName("web", false, "").CommonName)
	assert.Equal(t, "www.example.org", b.SubjectName("web", false, "www.example.org").CommonName)
}

func TestPolicyValues(t *testing.T) {
	b := pki.NewBuilder(newTestConfig(t, t.TempDir(), testKey))

	assert.Equal(t, x509.KeyUsageCertSign|x509.KeyUsageCRLSign, b.KeyUsage(true))
	assert.Equal(t, x509.KeyUsageDigitalSignature|x509.KeyUsageContentCommitment|x509.KeyUsageKeyAgreement, b.KeyUsage(false))
	assert.Equal(t, "https://c.example.org/pki/k1/svc.crl", b.CRLDistributionPoint("k1/svc"))
	assert.Equal(t, "https://c.example.org/pki/k1/svc.crt", b.AuthorityInfoAccess("k1/svc"))
}

func TestParseOID(t *testing.T) {
	oid, err := pki.ParseOID("serverAuth")
	assert.NoError(t, err)
	assert.Equal(t, "1.3.6.1.5.5.7.3.1", oid.String())

	oid, err = pki.ParseOID("1.3.6.1.4.1.311.20.2.2")
	assert.NoError(t, err)
	assert.Equal(t, "1.3.6.1.4.1.311.20.2.2", oid.String())
	assert.Equal(t, "1.3.6.1.4.1.311.20.2.2", pki.EKUName(oid))
	assert.Equal(t, "clientAuth", pki.EKUName(pki.CommonEKUs["clientAuth"]))

	for _, bad := range []string{"", "1", "a.b", "3.1", "1.40", "1.-2"} {
		_, err := pki.ParseOID(bad)
		assert.Error(t, err, bad)
	}

	oids, err := pki.ParseOIDs("serverAuth, clientAuth,")
	assert.NoError(t, err)
	assert.Len(t, oids, 2)
}
