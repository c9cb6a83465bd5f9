// Package config loads the CLI-level account configuration: account
// locale defaults and where to keep the persisted client state. This is
// caller-facing configuration, not core protocol configuration.
package config

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v2"
)

// Config is the on-disk shape for cmd/thinqctl and similar front-ends.
type Config struct {
	Country   string `yaml:"country"`
	Language  string `yaml:"language"`
	StatePath string `yaml:"statePath"`
}

// DefaultCountry and DefaultLanguage match the vendor's own client
// defaults, used when a Config omits them.
const (
	DefaultCountry  = "US"
	DefaultLanguage = "en-US"
)

// LoadConfiguration reads and validates a YAML configuration document from
// r, filling in defaults for any omitted field.
func LoadConfiguration(r io.Reader) (*Config, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}

	if cfg.Country == "" {
		cfg.Country = DefaultCountry
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.StatePath == "" {
		cfg.StatePath = "thinq-state.json"
	}

	return cfg, nil
}
