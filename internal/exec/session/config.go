package session

import "time"

const (
	defaultQuietPeriod   = 300 * time.Millisecond
	defaultEventBuffer   = 256
	defaultMaxInputBytes = 64 * 1024
)

// Config tunes interactive runs.
type Config struct {
	// QuietPeriod is how long output must pause before the run is assumed to wait for stdin.
	// Slow programs that print nothing look the same, so the signal is advisory.
	QuietPeriod time.Duration `yaml:"quietPeriod"`
	// RunTimeout overrides the recipe's run timeout when set.
	RunTimeout       time.Duration `yaml:"runTimeout"`
	EventBuffer      int           `yaml:"eventBuffer"`
	MaxInputBytes    int           `yaml:"maxInputBytes"`
	DisableEchoDedup bool          `yaml:"disableEchoDedup"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.QuietPeriod <= 0 {
		c.QuietPeriod = defaultQuietPeriod
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = defaultEventBuffer
	}
	if c.MaxInputBytes <= 0 {
		c.MaxInputBytes = defaultMaxInputBytes
	}
}
