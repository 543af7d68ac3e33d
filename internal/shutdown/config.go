package shutdown

import "time"

// Config bounds the shutdown manager.
type Config struct {
	// OverallTimeout caps the whole shutdown across all hooks. Hook
	// groups still pending when it expires are skipped.
	OverallTimeout time.Duration

	// HookTimeout is the default per-hook bound, used by hooks that do
	// not carry their own.
	HookTimeout time.Duration

	// SlowHookThreshold is the duration after which a completed hook
	// is logged as slow.
	SlowHookThreshold time.Duration
}

// DefaultConfig returns the default shutdown bounds. The overall
// timeout leaves room for a full engine drain at its default deadline.
func DefaultConfig() Config {
	return Config{
		OverallTimeout:    45 * time.Second,
		HookTimeout:       10 * time.Second,
		SlowHookThreshold: 5 * time.Second,
	}
}

// Validate fills zero values with defaults.
func (c *Config) Validate() {
	def := DefaultConfig()
	if c.OverallTimeout <= 0 {
		c.OverallTimeout = def.OverallTimeout
	}
	if c.HookTimeout <= 0 {
		c.HookTimeout = def.HookTimeout
	}
	if c.SlowHookThreshold <= 0 {
		c.SlowHookThreshold = def.SlowHookThreshold
	}
}
