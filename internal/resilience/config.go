package resilience

import "time"

// Breaker defaults
const (
	DefaultThreshold = 5
	DefaultCooldown  = 30 * time.Second
	DefaultProbes    = 2
)

// Config holds circuit breaker settings.
type Config struct {
	Threshold int           // consecutive tripping failures before opening
	Cooldown  time.Duration // time spent open before a probe is let through
	Probes    int           // consecutive successful probes needed to close

	// Trips reports whether an error counts against the collaborator. Errors
	// that do not trip mean it answered, and count as success. Defaults to
	// IsRetryable.
	Trips func(error) bool
}

// DefaultConfig returns the defaults used for the AI and OCR services.
func DefaultConfig() Config {
	return Config{
		Threshold: DefaultThreshold,
		Cooldown:  DefaultCooldown,
		Probes:    DefaultProbes,
		Trips:     IsRetryable,
	}
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.Probes <= 0 {
		c.Probes = DefaultProbes
	}
	if c.Trips == nil {
		c.Trips = IsRetryable
	}
	return c
}
