package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v2"
)

func TestDefaultsFillsEverySection(t *testing.T) {
	var c Config
	c.Defaults(DefaultOpts{})

	assert.Equal(t, "matrix-sync-core", c.Global.DeviceDisplayName)
	assert.Equal(t, 30000, c.Sync.LongPollTimeoutMS)
	assert.Equal(t, 50, c.E2E.MaxOneTimeKeys)
	assert.Equal(t, "127.0.0.1:8011", c.Debug.BindAddress)
	assert.Equal(t, "matrix-sync-core", c.Tracing.ServiceName)
}

func TestVerifyRejectsInvalidHomeServerURL(t *testing.T) {
	c := Config{Global: Global{DefaultHomeServerURL: "not a url"}}
	c.Defaults(DefaultOpts{})

	errs := c.Verify()
	assert.Contains(t, errs, "global.default_home_server_url must be a valid absolute URL")
}

func TestVerifyAcceptsValidHomeServerURL(t *testing.T) {
	c := Config{Global: Global{DefaultHomeServerURL: "https://matrix.org"}}
	c.Defaults(DefaultOpts{})

	errs := c.Verify()
	assert.Empty(t, errs)
}

func TestVerifyRejectsEnabledSentryWithoutDSN(t *testing.T) {
	c := Config{Sentry: Sentry{Enabled: true}}
	c.Defaults(DefaultOpts{})

	errs := c.Verify()
	assert.Contains(t, errs, `missing config key "sentry.dsn"`)
}

func TestYAMLRoundTrip(t *testing.T) {
	input := `
global:
  device_display_name: test-device
sync:
  long_poll_timeout_ms: 15000
debug:
  enabled: true
  bind_address: "127.0.0.1:9000"
`
	var c Config
	assert.NoError(t, yaml.Unmarshal([]byte(input), &c))
	assert.Equal(t, "test-device", c.Global.DeviceDisplayName)
	assert.Equal(t, 15000, c.Sync.LongPollTimeoutMS)
	assert.True(t, c.Debug.Enabled)
	assert.Equal(t, "127.0.0.1:9000", c.Debug.BindAddress)
}
