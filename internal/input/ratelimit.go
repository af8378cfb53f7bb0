package input

import (
	"sync"
	"time"
)

// Default action limits for the desktop pointer.
const (
	DefaultMaxPerSecond = 50
	DefaultMaxPerMinute = 1000
)

// Limit is one sliding window: at most Max actions within Window.
type Limit struct {
	Max    int
	Window time.Duration
}

// RateLimiter enforces several sliding windows over a single stream of
// actions. An action is admitted only if every window has room.
type RateLimiter struct {
	limits  []Limit
	longest time.Duration

	mu         sync.Mutex
	timestamps []time.Time
	now        func() time.Time
}

// NewRateLimiter creates a limiter. Limits with a non-positive Max or Window
// are ignored; with none left every action is admitted.
func NewRateLimiter(limits ...Limit) *RateLimiter {
	r := &RateLimiter{now: time.Now}
	for _, l := range limits {
		if l.Max <= 0 || l.Window <= 0 {
			continue
		}
		r.limits = append(r.limits, l)
		if l.Window > r.longest {
			r.longest = l.Window
		}
	}
	return r
}

// Allow records an action and reports whether it is within every window.
// A rejected action is not recorded.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.prune(now)

	for _, l := range r.limits {
		if r.countSince(now.Add(-l.Window)) >= l.Max {
			return false
		}
	}
	r.timestamps = append(r.timestamps, now)
	return true
}

// Count returns how many admitted actions fall within the last window.
func (r *RateLimiter) Count(window time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countSince(r.now().Add(-window))
}

// Limits returns the active windows.
func (r *RateLimiter) Limits() []Limit {
	out := make([]Limit, len(r.limits))
	copy(out, r.limits)
	return out
}

// prune drops timestamps older than the longest window.
func (r *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-r.longest)
	i := 0
	for i < len(r.timestamps) && !r.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.timestamps = append(r.timestamps[:0], r.timestamps[i:]...)
	}
}

func (r *RateLimiter) countSince(cutoff time.Time) int {
	count := 0
	for i := len(r.timestamps) - 1; i >= 0; i-- {
		if !r.timestamps[i].After(cutoff) {
			break
		}
		count++
	}
	return count
}
