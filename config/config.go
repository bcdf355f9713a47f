// Package config holds the settings shared by every component of the
// hierarchy. A Config is built once at startup and passed down explicitly.
package config

import (
	"crypto/elliptic"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/mupki/internal/util"
)

var (
	// ErrInvalidKey is returned when the key-store encryption key is not 16 bytes.
	ErrInvalidKey = errors.New("invalid key-store encryption key")
	// ErrInvalidCurve is returned for an unsupported curve name.
	ErrInvalidCurve = errors.New("unsupported elliptic curve")
	// ErrInvalidConfig is returned when a required setting is missing or malformed.
	ErrInvalidConfig = errors.New("invalid configuration")
)

const (
	DefaultRootName = "k1"
	DefaultCurve    = "P-256"
)

// Grid anchors certificate validity windows to a recurring calendar date.
type Grid struct {
	Origin            time.Time
	PeriodYears       int
	CALifetimeYears   int
	LeafLifetimeYears int
}

// DefaultGrid starts on 2000-08-24 and repeats every four years.
func DefaultGrid() Grid {
	return Grid{
		Origin:            time.Date(2000, time.August, 24, 0, 0, 0, 0, time.UTC),
		PeriodYears:       4,
		CALifetimeYears:   12,
		LeafLifetimeYears: 4,
	}
}

// Config is the process configuration. The key-store encryption key lives in
// a memguard Enclave; call Destroy when done.
type Config struct {
	Org      string
	RootDir  string
	RootName string
	Curve    elliptic.Curve
	Endpoint string
	Grid     Grid

	encKey *memguard.Enclave
}

// Option configures a Config.
type Option func(*Config)

// WithRootName sets the file name of the root certificate. Default: "k1".
func WithRootName(name string) Option {
	return func(c *Config) {
		c.RootName = name
	}
}

// WithCurve sets the signing curve. Default: P-256.
func WithCurve(curve elliptic.Curve) Option {
	return func(c *Config) {
		c.Curve = curve
	}
}

// WithEndpoint sets the URL prefix of CRL and AIA locations.
// Default: "https://c.<org>/pki/".
func WithEndpoint(endpoint string) Option {
	return func(c *Config) {
		c.Endpoint = endpoint
	}
}

// WithGrid overrides the validity grid.
func WithGrid(g Grid) Option {
	return func(c *Config) {
		c.Grid = g
	}
}

// New builds a Config. encKey is copied into protected memory; the caller
// keeps ownership of the slice.
func New(org, rootDir string, encKey []byte, opts ...Option) (*Config, error) {
	if len(encKey) != util.SIVKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(encKey), util.SIVKeySize)
	}

	c := &Config{
		Org:      org,
		RootDir:  rootDir,
		RootName: DefaultRootName,
		Curve:    elliptic.P256(),
		Grid:     DefaultGrid(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Endpoint == "" {
		c.Endpoint = "https://c." + org + "/pki/"
	}
	if err := c.validate(); err != nil {
		return nil, err
	}

	c.encKey = memguard.NewEnclave(util.CopyBytes(encKey))
	return c, nil
}

func (c *Config) validate() error {
	switch {
	case c.RootDir == "":
		return fmt.Errorf("%w: root directory is required", ErrInvalidConfig)
	case c.RootName == "" || strings.ContainsAny(c.RootName, `/\`):
		return fmt.Errorf("%w: bad root name %q", ErrInvalidConfig, c.RootName)
	case c.Curve == nil:
		return fmt.Errorf("%w: no curve", ErrInvalidCurve)
	case c.Grid.PeriodYears <= 0 || c.Grid.CALifetimeYears <= 0 || c.Grid.LeafLifetimeYears <= 0:
		return fmt.Errorf("%w: grid periods must be positive", ErrInvalidConfig)
	case c.Grid.Origin.IsZero():
		return fmt.Errorf("%w: grid origin is required", ErrInvalidConfig)
	}
	return nil
}

// OpenKey returns the key-store encryption key in a locked buffer. The caller
// must Destroy the buffer.
func (c *Config) OpenKey() (*memguard.LockedBuffer, error) {
	if c.encKey == nil {
		return nil, fmt.Errorf("%w: key material destroyed", ErrInvalidKey)
	}
	buf, err := c.encKey.Open()
	if err != nil {
		return nil, fmt.Errorf("opening key enclave: %w", err)
	}
	return buf, nil
}

// Destroy drops the reference to the key material. The Config must not be
// used for key-store operations afterwards.
func (c *Config) Destroy() {
	c.encKey = nil
}

// ParseCurve maps a NIST curve name to its implementation.
func ParseCurve(name string) (elliptic.Curve, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "P-256", "P256", "SECP256R1", "PRIME256V1":
		return elliptic.P256(), nil
	case "P-384", "P384", "SECP384R1":
		return elliptic.P384(), nil
	case "P-521", "P521", "SECP521R1":
		return elliptic.P521(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidCurve, name)
}
