// Package ratelimit provides a sliding-window attempt limiter keyed by an
// arbitrary string (the login handlers key it by client address).
package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultMaxAttempts is how many attempts fit in one window.
	DefaultMaxAttempts = 5
	// DefaultWindow is the sliding window length.
	DefaultWindow = 15 * time.Minute
	// DefaultSweepInterval is how often stale keys are dropped.
	DefaultSweepInterval = time.Minute
)

// Limiter tracks recent attempts per key in memory. Constructed once at
// startup and passed to the handlers that need it.
type Limiter struct {
	max           int
	window        time.Duration
	sweepInterval time.Duration

	mu       sync.Mutex
	attempts map[string][]time.Time

	done chan struct{}
}

func New(max int, window, sweepInterval time.Duration) *Limiter {
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	l := &Limiter{
		max:           max,
		window:        window,
		sweepInterval: sweepInterval,
		attempts:      make(map[string][]time.Time),
		done:          make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Close stops the background sweep.
func (l *Limiter) Close() {
	close(l.done)
}

// Allow records an attempt for key and reports whether it is within the
// window budget. A denied attempt is not recorded.
func (l *Limiter) Allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := prune(l.attempts[key], now, l.window)
	if len(recent) >= l.max {
		l.attempts[key] = recent
		return false
	}
	l.attempts[key] = append(recent, now)
	return true
}

// Reset clears the attempt record for key, e.g. after a successful login.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, key)
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.done:
			return
		}
	}
}

func (l *Limiter) sweep() {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, stamps := range l.attempts {
		recent := prune(stamps, now, l.window)
		if len(recent) == 0 {
			delete(l.attempts, key)
			continue
		}
		l.attempts[key] = recent
	}
}

func prune(stamps []time.Time, now time.Time, window time.Duration) []time.Time {
	recent := stamps[:0]
	for _, stamp := range stamps {
		if now.Sub(stamp) < window {
			recent = append(recent, stamp)
		}
	}
	return recent
}
