package engine

import (
	"sync"
	"time"
)

// throttle adapts batch size and cycle interval to store health.
//
// A degraded cycle halves the batch (not below min) and doubles the
// interval (not above maxInterval). A healthy cycle grows the batch by a
// tenth of the configured maximum and shrinks the interval by one base
// interval, so recovery is additive.
type throttle struct {
	mu sync.Mutex

	maxBatch    int
	minBatch    int
	base        time.Duration
	maxInterval time.Duration
	threshold   float64

	batch    int
	interval time.Duration
}

func newThrottle(maxBatch, minBatch int, base, maxInterval time.Duration, threshold float64) *throttle {
	return &throttle{
		maxBatch:    maxBatch,
		minBatch:    minBatch,
		base:        base,
		maxInterval: maxInterval,
		threshold:   threshold,
		batch:       maxBatch,
		interval:    base,
	}
}

// cycleHealth summarizes one cycle for the throttle.
type cycleHealth struct {
	fetchFailed bool
	attempts    int // orders that touched the store or cache
	errors      int // transport failures plus degraded flag reads
}

func (h cycleHealth) degraded(threshold float64) bool {
	if h.fetchFailed {
		return true
	}
	if h.attempts == 0 {
		return false
	}
	return float64(h.errors)/float64(h.attempts) >= threshold
}

// observe folds a cycle into the throttle and reports whether it was
// treated as degraded.
func (t *throttle) observe(h cycleHealth) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if h.degraded(t.threshold) {
		t.batch = max(t.minBatch, t.batch/2)
		t.interval = min(t.maxInterval, t.interval*2)
		return true
	}

	t.batch = min(t.maxBatch, t.batch+max(1, t.maxBatch/10))
	t.interval = max(t.base, t.interval-t.base)
	return false
}

func (t *throttle) current() (int, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.batch, t.interval
}
