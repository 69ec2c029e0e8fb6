package store

import (
	"sync"
	"time"
)

// Signal is a one-shot, process-local event tied to an approval id.
// One waiter (the executor driving the task) and any number of signalers
// (the approval endpoint). Firing without a waiter is valid: a later
// waiter observes the fired state immediately.
type Signal struct {
	once  sync.Once
	fired chan struct{}
}

// NewSignal creates an unfired signal.
func NewSignal() *Signal {
	return &Signal{fired: make(chan struct{})}
}

// Fire sets the signal. Safe to call more than once; only the first
// call has an effect.
func (s *Signal) Fire() {
	s.once.Do(func() { close(s.fired) })
}

// Wait blocks until the signal fires or the timeout elapses.
// Returns true when the signal fired.
func (s *Signal) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.fired:
		return true
	case <-timer.C:
		return false
	}
}

// Fired reports whether the signal has already been set.
func (s *Signal) Fired() bool {
	select {
	case <-s.fired:
		return true
	default:
		return false
	}
}

// signalRegistry maps approval ids to their process-local signals.
// Embedded by both store implementations; restart discards it.
type signalRegistry struct {
	mu      sync.Mutex
	signals map[string]*Signal
}

func newSignalRegistry() *signalRegistry {
	return &signalRegistry{signals: make(map[string]*Signal)}
}

// ensure allocates a signal for the id if one does not exist yet.
func (r *signalRegistry) ensure(id string) *Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.signals[id]
	if !ok {
		s = NewSignal()
		r.signals[id] = s
	}
	return s
}

// get returns the signal for the id, or nil if unknown.
func (r *signalRegistry) get(id string) *Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.signals[id]
}
