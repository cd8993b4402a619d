package infra

import (
	"context"
	"sync"
	"time"
)

// RateLimiter spaces calls to perSecond with bursts of up to burst calls.
// It tracks a single theoretical arrival time (GCRA) instead of a token count.
type RateLimiter struct {
	mu        sync.Mutex
	interval  time.Duration // cost of one call
	tolerance time.Duration // interval * burst
	tat       time.Time
	now       func() time.Time
}

// NewRateLimiter allows perSecond calls on average and burst at once.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst < 1 {
		burst = 1
	}
	interval := time.Duration(float64(time.Second) / perSecond)
	return &RateLimiter{
		interval:  interval,
		tolerance: interval * time.Duration(burst),
		now:       time.Now,
	}
}

// reserve books the next slot and returns how long the caller must wait for it.
// With book false nothing is booked unless the wait is zero.
func (r *RateLimiter) reserve(book bool) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	tat := r.tat
	if tat.Before(now) {
		tat = now
	}
	next := tat.Add(r.interval)
	wait := next.Sub(now) - r.tolerance
	if wait < 0 {
		wait = 0
	}
	if book || wait == 0 {
		r.tat = next
	}
	return wait
}

func (r *RateLimiter) unbook() {
	r.mu.Lock()
	r.tat = r.tat.Add(-r.interval)
	r.mu.Unlock()
}

// Allow takes a slot only if one is free right now.
func (r *RateLimiter) Allow() bool {
	return r.reserve(false) == 0
}

// Wait blocks until the caller's slot comes up or ctx is done.
// A cancelled wait gives its slot back.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wait := r.reserve(true)
	if wait == 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		r.unbook()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
