// Package clock provides the wall-clock source used by the run controller.
//
// Elapsed time is always computed from Now() against the session start, so a
// clock that runs faster than real time (Scaled) replays a recorded run in
// compressed time without changing any arithmetic downstream.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// Real is the system clock.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time {
	return time.Now()
}

// Scaled runs Factor times faster than the system clock, starting at Origin.
type Scaled struct {
	origin time.Time
	start  time.Time
	factor float64
}

// NewScaled returns a clock that reads origin at construction time and then
// advances factor seconds per real second. A factor <= 0 is treated as 1.
func NewScaled(origin time.Time, factor float64) *Scaled {
	if factor <= 0 {
		factor = 1
	}
	return &Scaled{origin: origin, start: time.Now(), factor: factor}
}

// Now returns the scaled time.
func (s *Scaled) Now() time.Time {
	d := time.Since(s.start)
	return s.origin.Add(time.Duration(float64(d) * s.factor))
}

// Factor returns the speed factor.
func (s *Scaled) Factor() float64 {
	return s.factor
}

// RealDuration converts a duration on this clock into real time.
func (s *Scaled) RealDuration(d time.Duration) time.Duration {
	return time.Duration(float64(d) / s.factor)
}

// Manual is a clock that only moves when told to. Safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a manual clock reading t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}
