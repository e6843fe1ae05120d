package config

import "fmt"

// Sync controls the long-poll and liveness-watchdog timing spec.md §4.2
// describes, previously hardcoded in pkg/syncengine as unexported
// constants.
type Sync struct {
	// LongPollTimeoutMS is the `timeout` query parameter sent on every
	// incremental /sync request.
	LongPollTimeoutMS int `yaml:"long_poll_timeout_ms"`

	// WatchdogTickIntervalMS is how often the liveness watchdog checks for
	// a stalled sync.
	WatchdogTickIntervalMS int `yaml:"watchdog_tick_interval_ms"`

	// WatchdogThresholdMS is how long a sync may run with no completion
	// before the watchdog cancels and reissues it.
	WatchdogThresholdMS int64 `yaml:"watchdog_threshold_ms"`
}

func (c *Sync) Defaults(opts DefaultOpts) {
	if c.LongPollTimeoutMS == 0 {
		c.LongPollTimeoutMS = 30000
	}
	if c.WatchdogTickIntervalMS == 0 {
		c.WatchdogTickIntervalMS = 5000
	}
	if c.WatchdogThresholdMS == 0 {
		c.WatchdogThresholdMS = 60000
	}
}

func (c *Sync) Verify(configErrs *ConfigErrors) {
	if c.LongPollTimeoutMS <= 0 {
		configErrs.Add(fmt.Sprintf("sync.long_poll_timeout_ms must be positive, got %d", c.LongPollTimeoutMS))
	}
	if c.WatchdogThresholdMS <= int64(c.WatchdogTickIntervalMS) {
		configErrs.Add("sync.watchdog_threshold_ms must be greater than sync.watchdog_tick_interval_ms")
	}
}
