package provider

import "time"

// BackoffConfig controls retry delays:
//
//	delay = min(Max, Base * 2^attempt) * (1 + JitterFactor*uniform(-1, 1))
//
// with attempt starting at 0. The jitter spreads simultaneous retries so
// they do not hammer a recovering endpoint in lockstep.
type BackoffConfig struct {
	Base         time.Duration
	Max          time.Duration
	JitterFactor float64
}

// DefaultBackoff mirrors production defaults: 2s base, 30s cap, 25% jitter.
var DefaultBackoff = BackoffConfig{
	Base:         2 * time.Second,
	Max:          30 * time.Second,
	JitterFactor: 0.25,
}

// Delay computes the wait before retry number attempt (0-based). rnd must
// return uniform values in [0, 1); it is injectable so tests can pin the
// jitter. A nil rnd disables jitter.
func (c BackoffConfig) Delay(attempt int, rnd func() float64) time.Duration {
	d := c.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= c.Max || d < 0 { // doubled past the cap (or overflowed)
			d = c.Max
			break
		}
	}
	if d > c.Max {
		d = c.Max
	}
	if rnd != nil && c.JitterFactor > 0 {
		d = time.Duration(float64(d) * (1 + c.JitterFactor*(2*rnd()-1)))
	}
	return d
}
