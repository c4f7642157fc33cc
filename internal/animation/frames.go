// Package animation provides frame-time sampling used for adaptive throttling.
package animation

import (
	"sync"
	"time"
)

// FrameSampler reports whether recent frame timing indicates degraded
// responsiveness. The scheduler consults it before starting new work and
// sheds load when it reports degradation.
type FrameSampler interface {
	Degraded() bool
}

// Sampling defaults
const (
	// DefaultFrameWindow is the number of recent frames considered.
	DefaultFrameWindow = 30
	// DefaultDegradedFrameTime is the average frame duration above which the
	// render loop is considered degraded (roughly two 60Hz frame budgets).
	DefaultDegradedFrameTime = 32 * time.Millisecond
)

// SimpleFrameSampler keeps a sliding window of recorded frame durations and
// flags degradation when the window average exceeds a threshold.
type SimpleFrameSampler struct {
	mu        sync.Mutex
	window    []time.Duration
	next      int
	filled    bool
	threshold time.Duration
}

// NewSimpleFrameSampler creates a sampler with the default window and threshold.
func NewSimpleFrameSampler() *SimpleFrameSampler {
	return NewSimpleFrameSamplerWith(DefaultFrameWindow, DefaultDegradedFrameTime)
}

// NewSimpleFrameSamplerWith creates a sampler with an explicit window size and
// degradation threshold.
func NewSimpleFrameSamplerWith(window int, threshold time.Duration) *SimpleFrameSampler {
	if window <= 0 {
		window = DefaultFrameWindow
	}
	if threshold <= 0 {
		threshold = DefaultDegradedFrameTime
	}
	return &SimpleFrameSampler{
		window:    make([]time.Duration, window),
		threshold: threshold,
	}
}

// RecordFrame records one observed frame duration.
func (s *SimpleFrameSampler) RecordFrame(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window[s.next] = d
	s.next++
	if s.next == len(s.window) {
		s.next = 0
		s.filled = true
	}
}

// Degraded reports whether the average recorded frame duration exceeds the
// threshold. An unfilled window is never considered degraded: a handful of
// slow frames right after startup is not a trend.
func (s *SimpleFrameSampler) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.filled {
		return false
	}
	var total time.Duration
	for _, d := range s.window {
		total += d
	}
	return total/time.Duration(len(s.window)) > s.threshold
}
