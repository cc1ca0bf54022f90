package worker

import (
	"math/rand/v2"
	"time"
)

const defaultJitter = 0.2

// Backoff computes retry delays for transient channel failures.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// Jitter is the fraction by which a delay may vary either way.
	Jitter float64

	rand func() float64
}

func NewBackoff(base, maxDelay time.Duration) Backoff {
	return Backoff{Base: base, Max: maxDelay, Jitter: defaultJitter}
}

// Delay returns the wait before attempt (1-based). A positive retryAfter
// from the channel replaces the computed delay. The result never exceeds Max.
func (b Backoff) Delay(attempt int, retryAfter time.Duration) time.Duration {
	base, ceiling := b.Base, b.Max
	if base <= 0 {
		base = time.Second
	}
	if ceiling <= 0 {
		ceiling = 5 * time.Minute
	}

	if retryAfter > 0 {
		return min(retryAfter, ceiling)
	}

	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt && d < ceiling; i++ {
		d *= 2
	}
	d = min(d, ceiling)

	if b.Jitter > 0 {
		r := rand.Float64
		if b.rand != nil {
			r = b.rand
		}
		d = time.Duration(float64(d) * (1 + b.Jitter*(2*r()-1)))
	}
	return min(d, ceiling)
}
