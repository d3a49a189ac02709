// Package clock is the single source of "now" for the hold engine.
//
// Every deadline comparison (hold phases, claim windows, due dates) reads a
// Clock instead of calling time.Now directly, so tests and demos can move
// time explicitly.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

// Real reads the system clock in UTC.
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

// Simulated is a fixed instant that only moves when told to.
// Safe for concurrent use.
type Simulated struct {
	mu    sync.RWMutex
	start time.Time
	now   time.Time
}

func NewSimulated(at time.Time) *Simulated {
	at = at.UTC()
	return &Simulated{start: at, now: at}
}

func (s *Simulated) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now
}

func (s *Simulated) Set(at time.Time) {
	s.mu.Lock()
	s.now = at.UTC()
	s.mu.Unlock()
}

func (s *Simulated) Advance(d time.Duration) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
	return s.now
}

// Reset moves the clock back to the instant it was created with.
func (s *Simulated) Reset() {
	s.mu.Lock()
	s.now = s.start
	s.mu.Unlock()
}

// Overridable follows a base clock until an operator pins a simulated date.
// This backs the admin "simulated date" switch of the API process.
type Overridable struct {
	base Clock

	mu       sync.RWMutex
	override *time.Time
}

func NewOverridable(base Clock) *Overridable {
	if base == nil {
		base = Real{}
	}
	return &Overridable{base: base}
}

func (o *Overridable) Now() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.override != nil {
		return *o.override
	}
	return o.base.Now()
}

func (o *Overridable) Override(at time.Time) {
	at = at.UTC()
	o.mu.Lock()
	o.override = &at
	o.mu.Unlock()
}

func (o *Overridable) Clear() {
	o.mu.Lock()
	o.override = nil
	o.mu.Unlock()
}

// Overridden reports the pinned instant, if any.
func (o *Overridable) Overridden() (time.Time, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.override == nil {
		return time.Time{}, false
	}
	return *o.override, true
}
