package config

import "fmt"

// E2E controls pkg/e2e.Core's one-time-key replenishment target and where
// per-peer Olm session databases (pkg/e2e/sessionstore) live on disk.
type E2E struct {
	// MaxOneTimeKeys sets the one-time-key pool size. When the published
	// count drops below half of it, replenishment uploads enough keys to
	// bring the count back to that half; with no counts reported at all it
	// uploads this many (spec.md §4.7 scenario 6).
	MaxOneTimeKeys int `yaml:"max_one_time_keys"`

	// AccountDataDir is the directory pkg/e2e/sessionstore opens its
	// per-(user_id, host_username) SQLite databases inside. Empty disables
	// session persistence entirely (sessions live only in memory for the
	// lifetime of the connection).
	AccountDataDir string `yaml:"account_data_dir"`
}

func (c *E2E) Defaults(opts DefaultOpts) {
	if c.MaxOneTimeKeys == 0 {
		c.MaxOneTimeKeys = 50
	}
}

func (c *E2E) Verify(configErrs *ConfigErrors) {
	if c.MaxOneTimeKeys <= 0 {
		configErrs.Add(fmt.Sprintf("e2e.max_one_time_keys must be positive, got %d", c.MaxOneTimeKeys))
	}
}
