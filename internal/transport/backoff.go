package transport

import "time"

// DefaultBackoffBase is the delay before the first reconnect attempt.
const DefaultBackoffBase = 1000 * time.Millisecond

// DefaultBackoffCap bounds how long reconnect delays may grow to.
const DefaultBackoffCap = 30000 * time.Millisecond

// BackoffConfig configures the exponential reconnect schedule (spec §4.3:
// delay = min(base * 2^retry, cap)).
type BackoffConfig struct {
	Base time.Duration
	Cap  time.Duration
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.Base <= 0 {
		c.Base = DefaultBackoffBase
	}
	if c.Cap <= 0 {
		c.Cap = DefaultBackoffCap
	}
	return c
}

// delay returns the backoff delay for the given retry count (0-indexed:
// the first scheduled reconnect uses retry=0).
func (c BackoffConfig) delay(retry int) time.Duration {
	c = c.withDefaults()
	d := c.Base
	for i := 0; i < retry; i++ {
		d *= 2
		if d >= c.Cap {
			return c.Cap
		}
	}
	if d > c.Cap {
		return c.Cap
	}
	return d
}
