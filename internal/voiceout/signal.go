// Package voiceout turns narrations into audible output: it consumes the
// narration bus, synthesizes speech, schedules playback by priority, plays
// alert tones for blocking events, and keeps an alert repeating until the
// listener responds.
package voiceout

import (
	"context"
	"sync"
	"time"
)

// Signal is a resettable level-triggered event. Set releases all current and
// future waiters until Clear is called. The reply loop waits on it to know
// the critical playback has finished before opening the microphone.
type Signal struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

// NewSignal returns a cleared Signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Set marks the signal and releases waiters. Idempotent.
func (s *Signal) Set() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		s.set = true
		close(s.ch)
	}
}

// Clear resets the signal so subsequent Wait calls block again. Idempotent.
func (s *Signal) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set {
		s.set = false
		s.ch = make(chan struct{})
	}
}

// IsSet reports the current level.
func (s *Signal) IsSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}

// Wait blocks until the signal is set, the timeout elapses, or ctx is
// cancelled. Returns true only when the signal was set.
func (s *Signal) Wait(ctx context.Context, timeout time.Duration) bool {
	s.mu.Lock()
	ch := s.ch
	set := s.set
	s.mu.Unlock()
	if set {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
