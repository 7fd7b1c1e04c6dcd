package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	config "github.com/thirdweb-dev/ledgersync/configs"
)

func TestBackoffCeilingDoublesUpToCap(t *testing.T) {
	b := NewBackoff(config.IngesterConfig{})

	assert.Equal(t, 2*time.Second, b.Ceiling(0))
	assert.Equal(t, 4*time.Second, b.Ceiling(1))
	assert.Equal(t, 8*time.Second, b.Ceiling(2))
	assert.Equal(t, 256*time.Second, b.Ceiling(7))
	assert.Equal(t, 5*time.Minute, b.Ceiling(8))
	assert.Equal(t, 5*time.Minute, b.Ceiling(1000))
	assert.Equal(t, 2*time.Second, b.Ceiling(-3))
}

func TestBackoffFullJitterStaysInBounds(t *testing.T) {
	b := NewBackoff(config.IngesterConfig{BackoffBase: 100, BackoffCap: 1000})
	for attempt := 0; attempt < 10; attempt++ {
		for i := 0; i < 50; i++ {
			d := b.Duration(attempt)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, b.Ceiling(attempt))
			assert.LessOrEqual(t, d, time.Second)
		}
	}
}

func TestBackoffUsesRandomFraction(t *testing.T) {
	b := &Backoff{base: 2 * time.Second, cap: 5 * time.Minute, random: func() float64 { return 0.5 }}
	assert.Equal(t, time.Second, b.Duration(0))
	assert.Equal(t, 2*time.Second, b.Duration(1))
	assert.Equal(t, 150*time.Second, b.Cap())
}

func TestThroughputFirstSampleSeeds(t *testing.T) {
	tp := NewThroughput(0.3)
	assert.Equal(t, 0.0, tp.Rate())

	assert.InDelta(t, 100.0, tp.Observe(100, time.Second), 1e-9)
	// 0.3*50 + 0.7*100
	assert.InDelta(t, 85.0, tp.Observe(50, time.Second), 1e-9)
	assert.InDelta(t, 85.0, tp.Observe(0, time.Second), 1e-9, "empty samples are ignored")
}

func TestThroughputDefaultsAlpha(t *testing.T) {
	tp := NewThroughput(0)
	assert.Equal(t, config.DEFAULT_THROUGHPUT_EMA, tp.alpha)
}
