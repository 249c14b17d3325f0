package session

import (
	"math"
	"time"
)

type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// StabilityWindow is how long a bind has to stay up before the delay resets.
	StabilityWindow time.Duration
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:         time.Second,
		Max:             time.Minute,
		Multiplier:      2,
		StabilityWindow: 30 * time.Second,
	}
}

// Backoff tracks consecutive connection failures. Not safe for concurrent use; the
// session's connect loop owns it.
type Backoff struct {
	cfg      BackoffConfig
	attempts int
}

func NewBackoff(cfg BackoffConfig) *Backoff {
	d := DefaultBackoffConfig()
	if cfg.Initial <= 0 {
		cfg.Initial = d.Initial
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = d.Multiplier
	}
	if cfg.StabilityWindow <= 0 {
		cfg.StabilityWindow = d.StabilityWindow
	}
	return &Backoff{cfg: cfg}
}

// Delay is the wait after the n-th consecutive failure (n starts at 1).
func (b *Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	f := float64(b.cfg.Initial) * math.Pow(b.cfg.Multiplier, float64(n-1))
	if f >= float64(b.cfg.Max) || math.IsInf(f, 0) || math.IsNaN(f) {
		return b.cfg.Max
	}
	return time.Duration(f)
}

// Next records a failure and returns how long to wait before the next attempt.
func (b *Backoff) Next() time.Duration {
	b.attempts++
	return b.Delay(b.attempts)
}

// Exhaust records a failure that should not be retried quickly, such as rejected credentials.
func (b *Backoff) Exhaust() time.Duration {
	b.attempts++
	return b.cfg.Max
}

func (b *Backoff) Attempts() int {
	return b.attempts
}

func (b *Backoff) Reset() {
	b.attempts = 0
}

// Stable reports whether a bind lasting up has earned a reset.
func (b *Backoff) Stable(up time.Duration) bool {
	return up >= b.cfg.StabilityWindow
}
