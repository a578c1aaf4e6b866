package queue

import (
	"sync"
	"time"
)

const (
	DefaultSeedInterval = 120 * time.Second
	defaultAlpha        = 0.2

	// Gaps longer than this are idle periods, not throughput.
	maxObservedGap = time.Hour
)

// Estimator tracks the average interval between agent releases (an agent
// finishing a call and becoming free) with an exponential moving average.
// Estimated wait for position p is p * average.
type Estimator struct {
	mu    sync.Mutex
	avg   time.Duration
	last  time.Time
	alpha float64
}

func NewEstimator(seed time.Duration) *Estimator {
	if seed <= 0 {
		seed = DefaultSeedInterval
	}
	return &Estimator{avg: seed, alpha: defaultAlpha}
}

// ObserveRelease records an agent release at at.
func (e *Estimator) ObserveRelease(at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.last.IsZero() && at.After(e.last) {
		gap := at.Sub(e.last)
		if gap <= maxObservedGap {
			e.avg = time.Duration(e.alpha*float64(gap) + (1-e.alpha)*float64(e.avg))
		}
	}
	if at.After(e.last) {
		e.last = at
	}
}

// Average returns the current release interval estimate.
func (e *Estimator) Average() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.avg
}

// Estimate returns the expected wait for a 1-based queue position.
func (e *Estimator) Estimate(position int) time.Duration {
	if position <= 0 {
		return 0
	}
	return time.Duration(position) * e.Average()
}
