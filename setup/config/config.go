// Package config is the YAML configuration tree of SPEC_FULL.md §4.9:
// Global, Sync, E2E, Debug, Sentry, and Tracing sections, each with its own
// Defaults/Verify pair — the same per-section Defaults(opts)/Verify(errs)
// idiom dendrite's setup/config uses for its own per-API config structs.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// ConfigErrors collects every configuration problem found during Verify
// rather than stopping at the first, mirroring dendrite's own
// config.ConfigErrors accumulation pattern.
type ConfigErrors []string

// Add appends a problem description.
func (e *ConfigErrors) Add(message string) {
	*e = append(*e, message)
}

func checkNotEmpty(configErrs *ConfigErrors, key, value string) {
	if value == "" {
		configErrs.Add(fmt.Sprintf("missing config key %q", key))
	}
}

// DefaultOpts controls how Defaults populates zero-value fields. Generate is
// set when producing a fresh config file (e.g. a "generate-config" command)
// rather than filling gaps in a partially hand-written one.
type DefaultOpts struct {
	Generate bool
}

// Config is the root of the YAML tree cmd/matrix-sync-core loads.
type Config struct {
	Global  Global  `yaml:"global"`
	Sync    Sync    `yaml:"sync"`
	E2E     E2E     `yaml:"e2e"`
	Debug   Debug   `yaml:"debug"`
	Sentry  Sentry  `yaml:"sentry"`
	Tracing Tracing `yaml:"tracing"`
}

// Defaults fills every section's zero-value fields with a usable default.
func (c *Config) Defaults(opts DefaultOpts) {
	c.Global.Defaults(opts)
	c.Sync.Defaults(opts)
	c.E2E.Defaults(opts)
	c.Debug.Defaults(opts)
	c.Sentry.Defaults(opts)
	c.Tracing.Defaults(opts)
}

// Verify runs every section's Verify and returns the accumulated errors.
func (c *Config) Verify() ConfigErrors {
	var configErrs ConfigErrors
	c.Global.Verify(&configErrs)
	c.Sync.Verify(&configErrs)
	c.E2E.Verify(&configErrs)
	c.Debug.Verify(&configErrs)
	c.Sentry.Verify(&configErrs)
	c.Tracing.Verify(&configErrs)
	return configErrs
}

// Load reads a YAML config file from path, fills defaults for anything left
// unset, and returns it unverified — callers should call Verify()
// themselves so they can decide how to report accumulated errors.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.Defaults(DefaultOpts{})
	return &c, nil
}
