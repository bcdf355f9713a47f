package pki

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/jmcleod/mupki/config"
	"github.com/jmcleod/mupki/internal/util"
)

const (
	keyExt      = ".key"
	keyFileMode = 0o600

	// keyFormatMarker is the first line of every encrypted key file.
	keyFormatMarker = "PKI2025OCT\n"
)

// ---------------------------------------------------------------------------
// KeyStore: one private key on disk
// ---------------------------------------------------------------------------

// KeyStore persists the private key of one node. Keys are PKCS#8 DER sealed
// with AES-GCM-SIV under the process key; the authentication context is the
// subject key identifier, or a tag set with WithTag.
//
// A file holding a bare PEM key is accepted and rewritten in the encrypted
// format as soon as it is read.
type KeyStore struct {
	cfg  *config.Config
	log  *slog.Logger
	name string
	file string
	tag  []byte
	skid []byte
	key  *ecdsa.PrivateKey
}

// KeyStoreOption configures a KeyStore.
type KeyStoreOption func(*KeyStore)

// WithTag overrides the authentication context used to seal the key.
func WithTag(tag []byte) KeyStoreOption {
	return func(k *KeyStore) {
		k.tag = util.CopyBytes(tag)
	}
}

// WithKeyLogger sets the logger used for format upgrade notices.
func WithKeyLogger(l *slog.Logger) KeyStoreOption {
	return func(k *KeyStore) {
		k.log = l
	}
}

// NewKeyStore returns the key store for the logical path name, e.g. "k1/web".
func NewKeyStore(cfg *config.Config, name string, opts ...KeyStoreOption) *KeyStore {
	k := &KeyStore{
		cfg:  cfg,
		log:  slog.Default(),
		name: name,
		file: nodeFile(cfg, name, keyExt),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// FilePath returns the location of the key file.
func (k *KeyStore) FilePath() string {
	return k.file
}

// Loaded reports whether the private key is in memory.
func (k *KeyStore) Loaded() bool {
	return k.key != nil
}

// SubjectKeyID returns the identifier the key is bound to.
func (k *KeyStore) SubjectKeyID() []byte {
	return k.skid
}

// bind sets the subject key identifier read from the node's certificate so
// the key file can be opened before the key itself is known.
func (k *KeyStore) bind(skid []byte) {
	if k.key == nil {
		k.skid = util.CopyBytes(skid)
	}
}

// Public returns the public half of a loaded or generated key.
func (k *KeyStore) Public() crypto.PublicKey {
	if k.key == nil {
		return nil
	}
	return k.key.Public()
}

// Generate creates a new key on the configured curve and writes it.
func (k *KeyStore) Generate() error {
	if _, err := os.Stat(k.file); err == nil {
		return fmt.Errorf("key %s: %w", k.name, ErrAlreadyExists)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("key %s: %w", k.name, err)
	}

	key, err := ecdsa.GenerateKey(k.cfg.Curve, rand.Reader)
	if err != nil {
		return fmt.Errorf("generating ECDSA key: %w", err)
	}
	skid, err := subjectKeyID(key.Public())
	if err != nil {
		return err
	}
	k.key, k.skid = key, skid

	return k.Dump()
}

// Load reads and decrypts the key file. It is a no-op once the key is loaded.
func (k *KeyStore) Load() error {
	if k.key != nil {
		return nil
	}

	data, err := os.ReadFile(k.file)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %w: no key file for %s", ErrNotFound, ErrStorageInconsistency, k.name)
	}
	if err != nil {
		return fmt.Errorf("reading key %s: %w", k.name, err)
	}
	if err := os.Chmod(k.file, keyFileMode); err != nil {
		return fmt.Errorf("key %s: %w", k.name, err)
	}

	if !bytes.HasPrefix(data, []byte(keyFormatMarker)) {
		key, err := parseKeyPEM(data)
		if err != nil {
			return fmt.Errorf("key %s: %w", k.name, err)
		}
		if k.skid, err = subjectKeyID(key.Public()); err != nil {
			return err
		}
		k.key = key
		k.log.Warn("upgrading unencrypted key file", slog.String("key", k.name))
		return k.Dump()
	}

	key, err := k.open(data[len(keyFormatMarker):])
	if err != nil {
		return err
	}
	k.key = key
	return nil
}

func (k *KeyStore) open(body []byte) (*ecdsa.PrivateKey, error) {
	aad, err := k.aad()
	if err != nil {
		return nil, err
	}

	lines := strings.SplitN(string(body), "\n", 3)
	if len(lines) < 2 {
		return nil, fmt.Errorf("%w: key %s: truncated file", ErrStorageInconsistency, k.name)
	}
	nonce, err := util.Z85Decode(strings.TrimSuffix(lines[0], "\r"))
	if err != nil {
		return nil, fmt.Errorf("%w: key %s nonce: %w", ErrStorageInconsistency, k.name, err)
	}
	cipherText, err := util.Z85Decode(strings.TrimSuffix(lines[1], "\r"))
	if err != nil {
		return nil, fmt.Errorf("%w: key %s ciphertext: %w", ErrStorageInconsistency, k.name, err)
	}

	encKey, err := k.cfg.OpenKey()
	if err != nil {
		return nil, err
	}
	defer encKey.Destroy()

	der, err := util.DecryptAESSIV(nonce, cipherText, encKey.Bytes(), aad)
	if err != nil {
		return nil, fmt.Errorf("%w: key %s: %w", ErrDecryption, k.name, err)
	}
	defer util.WipeBytes(der)

	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: key %s: %w", ErrStorageInconsistency, k.name, err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: key %s is %T, want ECDSA", ErrStorageInconsistency, k.name, parsed)
	}
	return key, nil
}

// Dump seals the key with a fresh nonce and writes the file atomically.
func (k *KeyStore) Dump() error {
	if k.key == nil {
		return fmt.Errorf("key %s: nothing to write", k.name)
	}
	aad, err := k.aad()
	if err != nil {
		return err
	}

	der, err := x509.MarshalPKCS8PrivateKey(k.key)
	if err != nil {
		return fmt.Errorf("marshaling key %s: %w", k.name, err)
	}
	defer util.WipeBytes(der)

	encKey, err := k.cfg.OpenKey()
	if err != nil {
		return err
	}
	defer encKey.Destroy()

	nonce, cipherText, err := util.EncryptAESSIV(der, encKey.Bytes(), aad)
	if err != nil {
		return fmt.Errorf("sealing key %s: %w", k.name, err)
	}

	var buf bytes.Buffer
	buf.WriteString(keyFormatMarker)
	buf.WriteString(util.Z85Encode(nonce))
	buf.WriteByte('\n')
	buf.WriteString(util.Z85Encode(cipherText))
	buf.WriteByte('\n')

	if err := util.WriteFileAtomic(k.file, buf.Bytes(), keyFileMode); err != nil {
		return fmt.Errorf("writing key %s: %w", k.name, err)
	}
	return nil
}

func (k *KeyStore) aad() ([]byte, error) {
	if len(k.tag) > 0 {
		return k.tag, nil
	}
	if len(k.skid) == 0 {
		return nil, fmt.Errorf("%w: key %s has no subject key identifier", ErrStorageInconsistency, k.name)
	}
	return k.skid, nil
}

// Signer loads the key if needed and returns it.
func (k *KeyStore) Signer() (crypto.Signer, error) {
	if err := k.Load(); err != nil {
		return nil, err
	}
	return k.key, nil
}

// ExportPEM returns the private key as an unencrypted PKCS#8 PEM block.
func (k *KeyStore) ExportPEM() ([]byte, error) {
	if err := k.Load(); err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKCS8PrivateKey(k.key)
	if err != nil {
		return nil, fmt.Errorf("marshaling key %s: %w", k.name, err)
	}
	defer util.WipeBytes(der)
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// remove deletes the key file and forgets the key.
func (k *KeyStore) remove() error {
	k.key = nil
	if err := os.Remove(k.file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing key %s: %w", k.name, err)
	}
	return nil
}

// parseKeyPEM reads an unencrypted PKCS#8 or SEC1 ECDSA key.
func parseKeyPEM(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidPEM)
	}

	switch block.Type {
	case "EC PRIVATE KEY":
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
		}
		return key, nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
		}
		key, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an ECDSA key", ErrInvalidPEM)
		}
		return key, nil
	}
	return nil, fmt.Errorf("%w: unexpected PEM type %q", ErrInvalidPEM, block.Type)
}
