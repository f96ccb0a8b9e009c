package queue

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy configures the delay a task waits after a retryable failure
// before becoming eligible for dispatch again. Delays grow exponentially
// with the retry count and are capped.
type RetryPolicy struct {
	Base   time.Duration // Delay scale for the first retry
	Cap    time.Duration // Upper bound on any single delay
	Jitter float64       // Randomization factor in [0, 1)
}

// DefaultRetryPolicy returns the stock backoff configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base:   500 * time.Millisecond,
		Cap:    30 * time.Second,
		Jitter: 0.2,
	}
}

// Delay returns the gate before the attempt following failure retryCount:
// min(cap, base * 2^retryCount), jittered. The library's interval sequence
// starts at base, so a fresh instance is stepped retryCount+1 times; the
// queue calls Delay once per failure, so there is no shared state to keep.
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.MaxInterval = p.Cap
	b.Multiplier = 2.0
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0 // The retry budget is counted in attempts, not time
	b.Reset()

	var d time.Duration
	for i := 0; i <= retryCount; i++ {
		d = b.NextBackOff()
	}
	if d <= 0 {
		d = p.Base
	}
	return d
}
