package config

// Debug controls pkg/debugserver, the loopback-only connection-state and
// live-timeline-feed HTTP+WS surface. Disabled by default: it is purely an
// operator aid, never required for correct sync operation.
type Debug struct {
	Enabled     bool   `yaml:"enabled"`
	BindAddress string `yaml:"bind_address"`
}

func (c *Debug) Defaults(opts DefaultOpts) {
	if c.BindAddress == "" {
		c.BindAddress = "127.0.0.1:8011"
	}
}

func (c *Debug) Verify(configErrs *ConfigErrors) {
	if !c.Enabled {
		return
	}
	checkNotEmpty(configErrs, "debug.bind_address", c.BindAddress)
}
