package dispatch

import "time"

// BatchingConfig sizes the batcher windows.
type BatchingConfig struct {
	// MaxSize is the accumulator size that forces an emission.
	MaxSize int

	// MaxWait bounds how long the earliest pending event waits before
	// its accumulator emits regardless of size.
	MaxWait time.Duration
}

// RetryConfig shapes the per-webhook retry schedule.
type RetryConfig struct {
	// Base is the first retry wait; each failure doubles it.
	Base time.Duration

	// Max caps the wait between attempts.
	Max time.Duration

	// FailureHorizon is how long a webhook may fail continuously
	// before it is marked unavailable and its queue discarded.
	FailureHorizon time.Duration
}

// Config carries the engine's tunables.
type Config struct {
	// Batching is nil when batched delivery modes are administratively
	// disabled; events for batched-mode webhooks are then refused and
	// surfaced on the error stream.
	Batching *BatchingConfig

	Retry RetryConfig

	// DrainDeadline bounds Shutdown's wait for in-flight dispatches
	// when the caller's context carries no earlier deadline.
	DrainDeadline time.Duration

	// ErrorBuffer is each error subscriber's channel capacity; on
	// overflow the oldest buffered error is dropped.
	ErrorBuffer int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Batching: &BatchingConfig{
			MaxSize: 10,
			MaxWait: 5 * time.Second,
		},
		Retry: RetryConfig{
			Base:           10 * time.Second,
			Max:            time.Hour,
			FailureHorizon: 7 * 24 * time.Hour,
		},
		DrainDeadline: 30 * time.Second,
		ErrorBuffer:   128,
	}
}

// normalize fills zero values from the defaults and detaches the
// batching settings from the caller. A nil Batching stays nil: that is
// the disabled setting, not an omission.
func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.Batching != nil {
		b := *c.Batching
		if b.MaxSize <= 0 {
			b.MaxSize = def.Batching.MaxSize
		}
		if b.MaxWait <= 0 {
			b.MaxWait = def.Batching.MaxWait
		}
		c.Batching = &b
	}
	if c.Retry.Base <= 0 {
		c.Retry.Base = def.Retry.Base
	}
	if c.Retry.Max <= 0 {
		c.Retry.Max = def.Retry.Max
	}
	if c.Retry.FailureHorizon <= 0 {
		c.Retry.FailureHorizon = def.Retry.FailureHorizon
	}
	if c.DrainDeadline <= 0 {
		c.DrainDeadline = def.DrainDeadline
	}
	if c.ErrorBuffer <= 0 {
		c.ErrorBuffer = def.ErrorBuffer
	}
	return c
}
