package worker

import (
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy schedules channel provisioning retries with exponential backoff.
// Jitter in [0, 1] shortens each delay by up to that fraction so jobs that
// failed together do not come back together.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        float64
}

// Exhausted reports whether a job that has failed attempts times is done for.
func (r RetryPolicy) Exhausted(attempts int) bool {
	return r.MaxRetries > 0 && attempts >= r.MaxRetries
}

// NextDelay returns the wait before the given (1-based) retry.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	return r.delay(attempt, rand.Float64)
}

func (r RetryPolicy) delay(attempt int, random func() float64) time.Duration {
	attempt = max(attempt, 1)
	initial := r.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2
	}

	d := float64(initial) * math.Pow(factor, float64(attempt-1))
	if r.MaxDelay > 0 {
		d = math.Min(d, float64(r.MaxDelay))
	}
	if j := math.Min(r.Jitter, 1); j > 0 {
		d -= d * j * random()
	}
	if d < float64(time.Millisecond) {
		return initial
	}
	return time.Duration(d)
}
