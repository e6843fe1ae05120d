package config

// Tracing configures a Jaeger exporter via the opentracing-go API, the
// standard wiring for uber/jaeger-client-go (already part of the stack
// alongside getsentry/sentry-go).
type Tracing struct {
	Enabled bool `yaml:"enabled"`

	// ServiceName identifies this connection's traces in Jaeger; empty
	// falls back to "matrix-sync-core".
	ServiceName string `yaml:"service_name"`

	// AgentAddress is the Jaeger agent's UDP address (host:port).
	AgentAddress string `yaml:"agent_address"`
}

func (c *Tracing) Defaults(opts DefaultOpts) {
	if c.ServiceName == "" {
		c.ServiceName = "matrix-sync-core"
	}
	if c.AgentAddress == "" {
		c.AgentAddress = "127.0.0.1:6831"
	}
}

func (c *Tracing) Verify(configErrs *ConfigErrors) {
	if !c.Enabled {
		return
	}
	checkNotEmpty(configErrs, "tracing.service_name", c.ServiceName)
	checkNotEmpty(configErrs, "tracing.agent_address", c.AgentAddress)
}
