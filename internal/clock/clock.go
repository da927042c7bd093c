package clock

import (
	"sync"
	"time"
)

// Clock is the single source of "now" for every time-dependent check
type Clock interface {
	Now() time.Time
}

// System reads the wall clock
type System struct{}

// Now returns the current UTC time
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Manual is a settable clock for tests and tooling
type Manual struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManual creates a Manual clock frozen at t
func NewManual(t time.Time) *Manual {
	return &Manual{now: t.UTC()}
}

func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Set moves the clock to t
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t.UTC()
	m.mu.Unlock()
}

// Advance moves the clock forward by d (backward if d is negative)
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
