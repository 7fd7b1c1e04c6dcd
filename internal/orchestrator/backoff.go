package orchestrator

import (
	"math/rand/v2"
	"time"

	config "github.com/thirdweb-dev/ledgersync/configs"
)

// Backoff computes exponential waits with full jitter: attempt n waits a
// uniform duration in [0, min(cap, base*2^n)).
type Backoff struct {
	base   time.Duration
	cap    time.Duration
	random func() float64
}

func NewBackoff(cfg config.IngesterConfig) *Backoff {
	base := cfg.BackoffBase
	if base <= 0 {
		base = config.DEFAULT_BACKOFF_BASE
	}
	maxWait := cfg.BackoffCap
	if maxWait <= 0 {
		maxWait = config.DEFAULT_BACKOFF_CAP
	}
	return &Backoff{
		base:   time.Duration(base) * time.Millisecond,
		cap:    time.Duration(maxWait) * time.Millisecond,
		random: rand.Float64,
	}
}

// Ceiling is the upper bound of the wait for the given attempt, starting at 0
func (b *Backoff) Ceiling(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.base
	for i := 0; i < attempt; i++ {
		if d >= b.cap/2 {
			return b.cap
		}
		d *= 2
	}
	return min(d, b.cap)
}

func (b *Backoff) Duration(attempt int) time.Duration {
	return time.Duration(b.random() * float64(b.Ceiling(attempt)))
}

// Cap is the wait used after permanent failures
func (b *Backoff) Cap() time.Duration {
	return time.Duration(b.random() * float64(b.cap))
}
