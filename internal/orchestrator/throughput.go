package orchestrator

import (
	"sync"
	"time"

	config "github.com/thirdweb-dev/ledgersync/configs"
)

// Throughput is an exponentially decayed blocks-per-second average. The first
// sample seeds the average.
type Throughput struct {
	mu     sync.Mutex
	alpha  float64
	rate   float64
	seeded bool
}

func NewThroughput(alpha float64) *Throughput {
	if alpha <= 0 || alpha > 1 {
		alpha = config.DEFAULT_THROUGHPUT_EMA
	}
	return &Throughput{alpha: alpha}
}

func (t *Throughput) Observe(blocks int, elapsed time.Duration) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if elapsed <= 0 || blocks <= 0 {
		return t.rate
	}
	sample := float64(blocks) / elapsed.Seconds()
	if !t.seeded {
		t.rate = sample
		t.seeded = true
		return t.rate
	}
	t.rate = t.alpha*sample + (1-t.alpha)*t.rate
	return t.rate
}

func (t *Throughput) Rate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rate
}
