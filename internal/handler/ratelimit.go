package handler

import (
	"sync"
	"time"
)

const (
	defaultWindow      = time.Minute
	defaultMaxMessages = 30
)

// FixedWindowLimiter throttles message processing per sender: at most max
// messages per window, counters resetting when their window elapses. Windows
// are tracked lazily per sender, so an idle sender costs nothing between
// messages and a flooding sender cannot starve everyone else.
type FixedWindowLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	windows map[string]*senderWindow
}

type senderWindow struct {
	count int
	start time.Time
}

func NewFixedWindowLimiter(max int, window time.Duration) *FixedWindowLimiter {
	if max <= 0 {
		max = defaultMaxMessages
	}
	if window <= 0 {
		window = defaultWindow
	}
	return &FixedWindowLimiter{
		max:     max,
		window:  window,
		windows: make(map[string]*senderWindow),
	}
}

// Allow reports whether the sender may process another message in the
// current window, counting the attempt either way.
func (l *FixedWindowLimiter) Allow(senderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.windows[senderID]
	if !ok || now.Sub(w.start) >= l.window {
		l.windows[senderID] = &senderWindow{count: 1, start: now}
		return true
	}

	w.count++
	return w.count <= l.max
}

// Prune drops windows that have already elapsed. The handler's run loop
// calls it once per window so the map stays bounded.
func (l *FixedWindowLimiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-l.window)
	for k, w := range l.windows {
		if w.start.Before(cutoff) {
			delete(l.windows, k)
		}
	}
}
