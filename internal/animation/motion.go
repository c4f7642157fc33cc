// Package animation provides motion-preference signalling for the scheduler.
package animation

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// MotionSignal reports whether the environment prefers minimal motion.
// It is queryable and subscribable so the scheduler can react to changes.
type MotionSignal interface {
	// ReducedMotion returns true when animation should be suppressed.
	ReducedMotion() bool

	// Subscribe registers a callback for preference changes and returns an
	// unsubscribe function.
	Subscribe(cb func(reduced bool)) func()
}

// StaticMotionSignal is a settable MotionSignal. The surrounding application
// flips it from whatever platform signal it observes.
type StaticMotionSignal struct {
	mu          sync.Mutex
	reduced     bool
	subscribers map[string]func(bool)
}

// NewStaticMotionSignal creates a motion signal with the given initial value.
func NewStaticMotionSignal(reduced bool) *StaticMotionSignal {
	return &StaticMotionSignal{
		reduced:     reduced,
		subscribers: make(map[string]func(bool)),
	}
}

// ReducedMotion returns the current preference.
func (s *StaticMotionSignal) ReducedMotion() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reduced
}

// Set updates the preference and notifies subscribers on change.
func (s *StaticMotionSignal) Set(reduced bool) {
	s.mu.Lock()
	if s.reduced == reduced {
		s.mu.Unlock()
		return
	}
	s.reduced = reduced
	subs := make([]func(bool), 0, len(s.subscribers))
	for _, cb := range s.subscribers {
		subs = append(subs, cb)
	}
	s.mu.Unlock()

	slog.Debug("StaticMotionSignal.Set: motion preference changed", "reduced", reduced)
	for _, cb := range subs {
		cb(reduced)
	}
}

// Subscribe registers a change callback and returns an unsubscribe function.
func (s *StaticMotionSignal) Subscribe(cb func(bool)) func() {
	token := uuid.NewString()
	s.mu.Lock()
	s.subscribers[token] = cb
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subscribers, token)
		s.mu.Unlock()
	}
}
