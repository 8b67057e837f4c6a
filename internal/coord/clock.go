package coord

import (
	"sync"
	"time"
)

// TimeLayout is the timestamp format written on entities and events.
const TimeLayout = time.RFC3339

// Clock supplies every timestamp the engine writes.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// MonotonicClock never reports a time earlier than one it already
// returned, even when the wall clock steps backwards.
type MonotonicClock struct {
	mu   sync.Mutex
	src  Clock
	last time.Time
}

// NewMonotonicClock wraps src. A nil src uses the system clock.
func NewMonotonicClock(src Clock) *MonotonicClock {
	if src == nil {
		src = ClockFunc(time.Now)
	}
	return &MonotonicClock{src: src}
}

// Now implements Clock.
func (c *MonotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.src.Now().UTC()
	if now.Before(c.last) {
		now = c.last
	}
	c.last = now
	return now
}

// stamp formats t, never earlier than floor (a previously written stamp).
func stamp(t time.Time, floor string) string {
	s := t.UTC().Format(TimeLayout)
	if floor != "" {
		if f, err := time.Parse(TimeLayout, floor); err == nil && t.Before(f) {
			return f.UTC().Format(TimeLayout)
		}
	}
	return s
}
