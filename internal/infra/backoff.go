package infra

import (
	"math/rand/v2"
	"time"
)

// Backoff is a capped exponential schedule with additive jitter.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration

	// rnd returns a value in [0, n); nil uses math/rand/v2.
	rnd func(n int64) int64
}

// Delay returns the wait before attempt (0-based): Base*2^attempt capped at Max,
// plus a random jitter in [0, Jitter).
func (b Backoff) Delay(attempt int) time.Duration {
	d := exponential(b.Base, b.Max, attempt)
	if b.Jitter > 0 {
		rnd := b.rnd
		if rnd == nil {
			rnd = rand.Int64N
		}
		d += time.Duration(rnd(int64(b.Jitter)))
	}
	return d
}

func exponential(base, ceiling time.Duration, retryCount int) time.Duration {
	if retryCount < 0 {
		return base
	}
	// 2^30 * base already dwarfs any sane ceiling; avoid overflow
	if retryCount > 30 {
		return ceiling
	}

	backoff := base * time.Duration(1<<retryCount)
	if backoff > ceiling || backoff <= 0 {
		return ceiling
	}
	return backoff
}
