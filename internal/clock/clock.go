// Package clock stamps accepted mutations with their revision and modifiedAt
// pair. It is the only component that assigns either value, which keeps the
// per-note ordering rules in one place and makes them trivially testable.
package clock

import (
	"sync"
	"time"

	"github.com/Ikey168/Modulo-sub010/internal/note"
)

// Clock supplies the current time. Production code uses System; tests inject
// a deterministic implementation so stamped values are reproducible.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// System returns the wall-clock implementation. All timestamps are UTC.
func System() Clock { return systemClock{} }

// Stamp computes the (revision, modifiedAt) pair for a mutation accepted
// against prev, the note's current server copy (nil for a create).
//
// Revision starts at 1 and increments by exactly one per accepted mutation.
// ModifiedAt is the coordinator's clock reading, except that it never
// regresses below the note's previous modifiedAt: if the wall clock steps
// backward, the previous value is reused and the revision alone carries the
// ordering. This keeps each note's (modifiedAt, revision) history strictly
// increasing, which the delta watermark depends on.
func Stamp(c Clock, prev *note.Note) (revision int64, modifiedAt time.Time) {
	now := c.Now().UTC()
	if prev == nil {
		return 1, now
	}
	if now.Before(prev.ModifiedAt) {
		now = prev.ModifiedAt
	}
	return prev.Revision + 1, now
}

// Fixed returns a Clock frozen at t. Stamps taken from it share one
// timestamp and are ordered by revision only.
func Fixed(t time.Time) Clock { return fixedClock(t.UTC()) }

type fixedClock time.Time

func (f fixedClock) Now() time.Time { return time.Time(f) }

// Stepped is a deterministic Clock that advances by a fixed step on every
// reading. Safe for concurrent use.
type Stepped struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewStepped returns a Stepped clock starting at start; the first Now()
// returns start, the second start+step, and so on.
func NewStepped(start time.Time, step time.Duration) *Stepped {
	return &Stepped{now: start.UTC(), step: step}
}

// Now returns the current reading and advances the clock by one step.
func (s *Stepped) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now
	s.now = s.now.Add(s.step)
	return t
}

// Set rewinds or advances the clock to t. The next Now() returns t.
func (s *Stepped) Set(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = t.UTC()
}
