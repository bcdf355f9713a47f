package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmcleod/mupki/internal/util"
)

// Environment variables that override file settings.
const (
	EnvOrg      = "MUPKI_ORG"
	EnvRootDir  = "MUPKI_ROOT_DIR"
	EnvEncKey   = "MUPKI_ENC_KEY"
	EnvCurve    = "MUPKI_CURVE"
	EnvEndpoint = "MUPKI_ENDPOINT"
)

// File is the on-disk YAML layout.
type File struct {
	Org      string   `yaml:"org"`
	RootDir  string   `yaml:"root_dir"`
	RootName string   `yaml:"root_name,omitempty"`
	Curve    string   `yaml:"curve,omitempty"`
	Endpoint string   `yaml:"endpoint,omitempty"`
	EncKey   string   `yaml:"enc_key"`
	Grid     FileGrid `yaml:"grid,omitempty"`
}

type FileGrid struct {
	Origin            string `yaml:"origin,omitempty"`
	PeriodYears       int    `yaml:"period_years,omitempty"`
	CALifetimeYears   int    `yaml:"ca_lifetime_years,omitempty"`
	LeafLifetimeYears int    `yaml:"leaf_lifetime_years,omitempty"`
}

// Load reads the YAML file at path, if any, applies MUPKI_* environment
// overrides and builds the Config. With an empty path only the environment
// is consulted.
func Load(path string) (*Config, error) {
	f, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return f.Build()
}

// ReadFile is Load without the final Build, for callers that layer their own
// overrides on top.
func ReadFile(path string) (*File, error) {
	f := &File{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, f); err != nil {
			return nil, fmt.Errorf("%w: parsing %s: %w", ErrInvalidConfig, path, err)
		}
	}
	f.applyEnv()
	return f, nil
}

func (f *File) applyEnv() {
	for env, dst := range map[string]*string{
		EnvOrg:      &f.Org,
		EnvRootDir:  &f.RootDir,
		EnvEncKey:   &f.EncKey,
		EnvCurve:    &f.Curve,
		EnvEndpoint: &f.Endpoint,
	} {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*dst = v
		}
	}
}

// Build validates the file settings and turns them into a Config.
func (f *File) Build() (*Config, error) {
	if f.Org == "" {
		return nil, fmt.Errorf("%w: org is required", ErrInvalidConfig)
	}
	if f.EncKey == "" {
		return nil, fmt.Errorf("%w: enc_key is required", ErrInvalidKey)
	}
	key, err := base64.StdEncoding.DecodeString(f.EncKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	defer util.WipeBytes(key)

	curve, err := ParseCurve(f.Curve)
	if err != nil {
		return nil, err
	}

	grid := DefaultGrid()
	if f.Grid.Origin != "" {
		origin, err := time.Parse(time.DateOnly, f.Grid.Origin)
		if err != nil {
			return nil, fmt.Errorf("%w: grid origin: %w", ErrInvalidConfig, err)
		}
		grid.Origin = origin
	}
	if f.Grid.PeriodYears != 0 {
		grid.PeriodYears = f.Grid.PeriodYears
	}
	if f.Grid.CALifetimeYears != 0 {
		grid.CALifetimeYears = f.Grid.CALifetimeYears
	}
	if f.Grid.LeafLifetimeYears != 0 {
		grid.LeafLifetimeYears = f.Grid.LeafLifetimeYears
	}

	opts := []Option{WithCurve(curve), WithGrid(grid), WithEndpoint(f.Endpoint)}
	if f.RootName != "" {
		opts = append(opts, WithRootName(f.RootName))
	}
	return New(f.Org, f.RootDir, key, opts...)
}
