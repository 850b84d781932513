// Package ratelimit implements a fixed-window request counter keyed by caller.
package ratelimit

import (
	"context"
	"math"
	"net"
	"strings"
	"sync"
	"time"
)

const (
	DefaultWindow      = time.Minute
	DefaultMaxRequests = 10

	anonymousKey = "anonymous"
)

// Limiter records request timestamps per key and admits at most max of them
// within the trailing window.
type Limiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	window   time.Duration
	max      int
	now      func() time.Time
}

// Option customises a Limiter.
type Option func(*Limiter)

func WithWindow(window time.Duration) Option {
	return func(l *Limiter) {
		if window > 0 {
			l.window = window
		}
	}
}

func WithMaxRequests(max int) Option {
	return func(l *Limiter) {
		if max > 0 {
			l.max = max
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New builds a Limiter with a one minute window and ten requests unless overridden.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		requests: make(map[string][]time.Time),
		window:   DefaultWindow,
		max:      DefaultMaxRequests,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limit returns the number of requests admitted per window.
func (l *Limiter) Limit() int { return l.max }

// Window returns the trailing window length.
func (l *Limiter) Window() time.Duration { return l.window }

// Allow prunes expired timestamps for key and records a new one if a slot is free.
// The check and the record happen under one lock so concurrent callers cannot
// both take the last slot.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	live := l.live(l.requests[key], now)
	if len(live) >= l.max {
		l.requests[key] = live
		return false
	}

	l.requests[key] = append(live, now)
	return true
}

// Remaining returns how many requests key may still make in the current window.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	now := l.now()
	for _, ts := range l.requests[key] {
		if now.Sub(ts) < l.window {
			count++
		}
	}
	return max(0, l.max-count)
}

// ResetAfter returns the seconds until the oldest recorded request of key leaves
// the window, or 0 when nothing is recorded.
func (l *Limiter) ResetAfter(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	recorded := l.requests[key]
	if len(recorded) == 0 {
		return 0
	}

	oldest := recorded[0]
	for _, ts := range recorded[1:] {
		if ts.Before(oldest) {
			oldest = ts
		}
	}

	left := l.window - l.now().Sub(oldest)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Seconds()))
}

// Sweep forgets keys whose timestamps have all expired.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, recorded := range l.requests {
		if !l.anyLive(recorded, now) {
			delete(l.requests, key)
			removed++
		}
	}
	return removed
}

// Run sweeps stale keys every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = l.window
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

func (l *Limiter) live(recorded []time.Time, now time.Time) []time.Time {
	kept := recorded[:0]
	for _, ts := range recorded {
		if now.Sub(ts) < l.window {
			kept = append(kept, ts)
		}
	}
	return kept
}

func (l *Limiter) anyLive(recorded []time.Time, now time.Time) bool {
	for _, ts := range recorded {
		if now.Sub(ts) < l.window {
			return true
		}
	}
	return false
}

// Key picks the identity requests are counted against: the authenticated user,
// else the client address, else a shared anonymous bucket.
func Key(userID, remoteAddr string) string {
	if id := strings.TrimSpace(userID); id != "" {
		return id
	}

	addr := strings.TrimSpace(remoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if addr != "" {
		return addr
	}
	return anonymousKey
}
