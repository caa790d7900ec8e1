package internal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sensiblebit/derkit/asn1"
	"github.com/sensiblebit/derkit/oid"
)

// Config is the optional YAML configuration file.
//
//	output: json
//	expiry_window: 720h
//	max_chain_depth: 8
//	passwords: ["changeit"]
//	oids:
//	  - name: msCertificateTemplate
//	    oid: 1.3.6.1.4.1.311.21.7
type Config struct {
	Output        string        `yaml:"output,omitempty"`
	ExpiryWindow  time.Duration `yaml:"expiry_window,omitempty"`
	MaxChainDepth int           `yaml:"max_chain_depth,omitempty"`
	Passwords     []string      `yaml:"passwords,omitempty"`
	OIDs          []oid.Entry   `yaml:"oids,omitempty"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Output:        FormatText,
		ExpiryWindow:  30 * 24 * time.Hour,
		MaxChainDepth: 10,
	}
}

// LoadConfig reads a YAML configuration file. Unset fields keep their
// defaults; unknown fields are an error.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseConfig(f)
}

// ParseConfig is like LoadConfig but reads from r.
func ParseConfig(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field values.
func (c *Config) Validate() error {
	if err := checkFormat(c.Output); err != nil {
		return fmt.Errorf("config output: %w", err)
	}
	if c.ExpiryWindow < 0 {
		return fmt.Errorf("config expiry_window %s is negative", c.ExpiryWindow)
	}
	if c.MaxChainDepth < 1 {
		return fmt.Errorf("config max_chain_depth %d must be at least 1", c.MaxChainDepth)
	}
	for _, e := range c.OIDs {
		if _, err := asn1.ParseOID(e.OID); err != nil {
			return fmt.Errorf("config OID %q: %w", e.Name, err)
		}
	}
	return nil
}

// Registry returns the default OID registry extended with the configured
// names.
func (c *Config) Registry() (*oid.Registry, error) {
	reg := oid.NewDefault()
	for _, e := range c.OIDs {
		id, err := asn1.ParseOID(e.OID)
		if err != nil {
			return nil, fmt.Errorf("config OID %q: %w", e.Name, err)
		}
		if err := reg.Add(e.Name, id); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
