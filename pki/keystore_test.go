package pki_test

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/mupki/config"
	"github.com/jmcleod/mupki/pki"
)

var (
	testKey  = []byte("0123456789abcdef")
	otherKey = []byte("fedcba9876543210")
)

func newTestConfig(t *testing.T, dir string, key []byte) *config.Config {
	t.Helper()
	cfg, err := config.New("example.org", dir, key)
	require.NoError(t, err)
	t.Cleanup(cfg.Destroy)
	return cfg
}

func TestKeyStoreRoundTrip(t *testing.T) {
	cfg := newTestConfig(t, t.TempDir(), testKey)

	ks := pki.NewKeyStore(cfg, "leaf", pki.WithTag([]byte("leaf-context")))
	require.NoError(t, ks.Generate())
	assert.Len(t, ks.SubjectKeyID(), 20)

	data, err := os.ReadFile(ks.FilePath())
	require.NoError(t, err)
	lines := strings.Split(string(data), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "PKI2025OCT", lines[0])
	assert.Len(t, lines[1], 15) // 12-byte nonce in Z85
	assert.Equal(t, "", lines[3])

	fi, err := os.Stat(ks.FilePath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	loaded := pki.NewKeyStore(cfg, "leaf", pki.WithTag([]byte("leaf-context")))
	require.NoError(t, loaded.Load())
	assert.True(t, loaded.Loaded())
	assert.True(t, ks.Public().(*ecdsa.PublicKey).Equal(loaded.Public()))
}

func TestKeyStoreGenerateRefusesOverwrite(t *testing.T) {
	cfg := newTestConfig(t, t.TempDir(), testKey)

	require.NoError(t, pki.NewKeyStore(cfg, "leaf", pki.WithTag([]byte("x"))).Generate())
	err := pki.NewKeyStore(cfg, "leaf", pki.WithTag([]byte("x"))).Generate()
	assert.ErrorIs(t, err, pki.ErrAlreadyExists)
}

func TestKeyStoreWrongContext(t *testing.T) {
	dir := t.TempDir()
	cfg := newTestConfig(t, dir, testKey)
	require.NoError(t, pki.NewKeyStore(cfg, "leaf", pki.WithTag([]byte("right"))).Generate())

	t.Run("tag", func(t *testing.T) {
		err := pki.NewKeyStore(cfg, "leaf", pki.WithTag([]byte("wrong"))).Load()
		assert.ErrorIs(t, err, pki.ErrDecryption)
	})

	t.Run("process key", func(t *testing.T) {
		other := newTestConfig(t, dir, otherKey)
		err := pki.NewKeyStore(other, "leaf", pki.WithTag([]byte("right"))).Load()
		assert.ErrorIs(t, err, pki.ErrDecryption)
	})

	t.Run("no context", func(t *testing.T) {
		err := pki.NewKeyStore(cfg, "leaf").Load()
		assert.ErrorIs(t, err, pki.ErrStorageInconsistency)
	})
}

func TestKeyStoreMissingFile(t *testing.T) {
	cfg := newTestConfig(t, t.TempDir(), testKey)

	err := pki.NewKeyStore(cfg, "nothing", pki.WithTag([]byte("x"))).Load()
	assert.ErrorIs(t, err, pki.ErrNotFound)
	assert.ErrorIs(t, err, pki.ErrStorageInconsistency)
}

func TestKeyStoreLegacyUpgrade(t *testing.T) {
	dir := t.TempDir()
	cfg := newTestConfig(t, dir, testKey)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	legacy := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	path := filepath.Join(dir, "old.key")
	require.NoError(t, os.WriteFile(path, legacy, 0o644))

	ks := pki.NewKeyStore(cfg, "old", pki.WithTag([]byte("old")))
	require.NoError(t, ks.Load())
	assert.True(t, key.PublicKey.Equal(ks.Public()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("PKI2025OCT\n")))
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	again := pki.NewKeyStore(cfg, "old", pki.WithTag([]byte("old")))
	require.NoError(t, again.Load())
	assert.True(t, key.PublicKey.Equal(again.Public()))
}

func TestKeyStoreExportPEM(t *testing.T) {
	cfg := newTestConfig(t, t.TempDir(), testKey)
	ks := pki.NewKeyStore(cfg, "leaf", pki.WithTag([]byte("x")))
	require.NoError(t, ks.Generate())

	out, err := ks.ExportPEM()
	require.NoError(t, err)
	block, _ := pem.Decode(out)
	require.NotNil(t, block)
	assert.Equal(t, "PRIVATE KEY", block.Type)

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	require.NoError(t, err)
	assert.True(t, parsed.(*ecdsa.PrivateKey).PublicKey.Equal(ks.Public()))
}
