package config

// Sentry mirrors dendrite's own Sentry config shape (cfg.Global.Sentry in
// contrib/dendrite-demo-i2p's main.go: Enabled/DSN/Environment feeding
// sentry.Init), pulled up to its own top-level section per SPEC_FULL.md
// §4.9 rather than nested under Global.
type Sentry struct {
	Enabled     bool   `yaml:"enabled"`
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

func (c *Sentry) Defaults(opts DefaultOpts) {}

func (c *Sentry) Verify(configErrs *ConfigErrors) {
	if c.Enabled {
		checkNotEmpty(configErrs, "sentry.dsn", c.DSN)
	}
}
