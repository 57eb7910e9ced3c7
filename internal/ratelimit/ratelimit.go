// Package ratelimit implements the sliding-window limiter that caps how
// many like events an actor may publish. The window slides continuously;
// there is no fixed-interval reset.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimitExceeded is returned by Check when the actor has already
// used the full window allowance.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// Limiter counts recorded events per actor over a rolling window.
// The zero value is not usable; construct with New.
type Limiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu     sync.Mutex
	events map[string][]time.Time
}

// New returns a limiter allowing at most limit events per actor within
// any rolling window of the given duration.
func New(window time.Duration, limit int) *Limiter {
	return &Limiter{
		window: window,
		limit:  limit,
		now:    time.Now,
		events: make(map[string][]time.Time),
	}
}

// Check reports whether the actor may perform another event right now.
// It returns ErrRateLimitExceeded when the allowance is spent. Check
// does not consume allowance; call Record after the event succeeds.
func (l *Limiter) Check(actor string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.prune(actor)) >= l.limit {
		return ErrRateLimitExceeded
	}
	return nil
}

// Record notes that the actor performed an event now.
func (l *Limiter) Record(actor string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events[actor] = append(l.prune(actor), l.now())
}

// Remaining returns how many events the actor may still perform within
// the current window.
func (l *Limiter) Remaining(actor string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	left := l.limit - len(l.prune(actor))
	if left < 0 {
		return 0
	}
	return left
}

// prune drops timestamps older than the window and stores the compacted
// slice back. Callers must hold the mutex.
func (l *Limiter) prune(actor string) []time.Time {
	cutoff := l.now().Add(-l.window)
	kept := l.events[actor][:0]
	for _, ts := range l.events[actor] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(l.events, actor)
		return nil
	}
	l.events[actor] = kept
	return kept
}
