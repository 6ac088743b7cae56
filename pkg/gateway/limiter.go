package gateway

import (
	"sync"
	"time"
)

// limiter applies a per-client sliding window rate limit plus a cap on
// concurrent in-flight requests.
type limiter struct {
	mu         sync.Mutex
	perMinute  int
	maxActive  int
	timestamps []time.Time
	active     int
}

func newLimiter(perMinute, maxActive int) *limiter {
	return &limiter{perMinute: perMinute, maxActive: maxActive}
}

// admit reports whether another request may start now. On refusal the
// returned code is CodeRateLimited or CodeTooConcurrent.
func (l *limiter) admit() (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active >= l.maxActive {
		return false, CodeTooConcurrent
	}

	cutoff := time.Now().Add(-time.Minute)
	kept := l.timestamps[:0]
	for _, ts := range l.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.timestamps = kept

	if len(l.timestamps) >= l.perMinute {
		return false, CodeRateLimited
	}
	return true, 0
}

func (l *limiter) begin() {
	l.mu.Lock()
	l.timestamps = append(l.timestamps, time.Now())
	l.active++
	l.mu.Unlock()
}

func (l *limiter) end() {
	l.mu.Lock()
	if l.active > 0 {
		l.active--
	}
	l.mu.Unlock()
}
