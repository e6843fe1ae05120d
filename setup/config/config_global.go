package config

import "net/url"

// Global holds the identity-level defaults spec.md §3/§6 reads at login
// time: which home server to talk to when the user doesn't specify one, and
// what device display name to register under.
type Global struct {
	// DefaultHomeServerURL is used when the host application's login UI
	// doesn't collect one explicitly (spec.md §4.1's capability-gate GET
	// runs against whichever URL is actually supplied at login; this is
	// only a fallback).
	DefaultHomeServerURL string `yaml:"default_home_server_url"`

	// DeviceDisplayName is a readable name for the device in the account's
	// device list. It is not passed to login: hsapi.Client.PasswordLogin
	// always sends "matrix-sync-core" as the initial device display name.
	DeviceDisplayName string `yaml:"device_display_name"`
}

func (c *Global) Defaults(opts DefaultOpts) {
	if c.DeviceDisplayName == "" {
		c.DeviceDisplayName = "matrix-sync-core"
	}
}

func (c *Global) Verify(configErrs *ConfigErrors) {
	if c.DefaultHomeServerURL == "" {
		return // optional; login may always supply its own
	}
	u, err := url.Parse(c.DefaultHomeServerURL)
	if err != nil || !u.IsAbs() {
		configErrs.Add("global.default_home_server_url must be a valid absolute URL")
	}
}
