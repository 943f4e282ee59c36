package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	start time.Time
	size  time.Duration
	count int
}

// MemoryLimiter is the single-process fallback used when Redis is not
// configured.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]*window), now: time.Now}
}

func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.now = now
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, win time.Duration) (Decision, error) {
	if limit <= 0 || win <= 0 {
		return Decision{Allowed: true}, nil
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= win {
		w = &window{start: now, size: win}
		l.windows[key] = w
		l.sweepLocked(now)
	}
	w.count++
	d := Decision{Allowed: w.count <= limit, Count: w.count}
	if !d.Allowed {
		d.RetryAfter = w.start.Add(win).Sub(now)
	}
	return d, nil
}

// Keys are swept against their own window so short cooldowns never drop
// longer counters.
func (l *MemoryLimiter) sweepLocked(now time.Time) {
	for k, w := range l.windows {
		if now.Sub(w.start) >= w.size {
			delete(l.windows, k)
		}
	}
}
