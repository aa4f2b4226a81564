// Package ratelimit provides a tiny token-bucket-by-time-window limiter
// used to throttle repeated log lines for the same condition (frame
// drops, transport errors) without silencing them entirely.
//
// Grounded on the throttled-warning fields scattered through the teacher's
// liveness manager (unknownPeerErrWarnEvery/writeErrWarnEvery) and on the
// original C daemon's struct ratelimit_state (interval + burst).
package ratelimit

import (
	"sync"
	"time"
)

// Limiter allows up to Burst events per Interval before it starts
// reporting drops instead of allowing the event through.
type Limiter struct {
	Interval time.Duration
	Burst    int

	mu       sync.Mutex
	windowAt time.Time
	count    int
	missed   int
}

// New returns a Limiter with the given window and burst. The defaults used
// throughout the router match spec.md §7: 10 messages / 5 seconds.
func New(interval time.Duration, burst int) *Limiter {
	return &Limiter{Interval: interval, Burst: burst}
}

// Default returns the daemon-wide default: 10 messages per 5 seconds.
func Default() *Limiter {
	return New(5*time.Second, 10)
}

// Allow reports whether the caller should actually emit its log line now.
// If the current window has exhausted its burst, it reports false and
// accumulates a "missed" count that Allow's next true return will fold
// into the returned suppressed count.
func (l *Limiter) Allow() (ok bool, suppressed int) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.windowAt.IsZero() || now.Sub(l.windowAt) >= l.Interval {
		l.windowAt = now
		l.count = 0
		suppressed = l.missed
		l.missed = 0
	}

	if l.count >= l.Burst {
		l.missed++
		return false, 0
	}
	l.count++
	return true, suppressed
}
