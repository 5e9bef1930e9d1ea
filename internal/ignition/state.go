// Package ignition runs the event loop that reacts to the companion
// board's ignition notifications and decides, on every sleep request,
// whether to keep the host alive or power it off.
package ignition

import "time"

// Phase is the ignition as last reported by the companion board.
type Phase string

const (
	PhaseOn  Phase = "ON"
	PhaseOff Phase = "OFF"
)

// State is the ignition bookkeeping. The zero value means ignition on and
// no shutdown issued.
type State struct {
	offTime            time.Time
	shutdownInProgress bool
}

// IgnitionOff records the most recent ignition-off transition.
func (s *State) IgnitionOff(at time.Time) {
	s.offTime = at
}

// IgnitionOn clears the off-time.
func (s *State) IgnitionOn() {
	s.offTime = time.Time{}
}

// OffTime returns the most recent ignition-off time, or the zero time
// while the ignition is on.
func (s State) OffTime() time.Time {
	return s.offTime
}

// Phase derives the ignition phase from the off-time.
func (s State) Phase() Phase {
	if s.offTime.IsZero() {
		return PhaseOn
	}
	return PhaseOff
}

// ShutdownInProgress reports whether a power-off has been issued.
func (s State) ShutdownInProgress() bool {
	return s.shutdownInProgress
}

// beginShutdown sets the one-shot latch. It returns false if the latch
// was already set.
func (s *State) beginShutdown() bool {
	if s.shutdownInProgress {
		return false
	}
	s.shutdownInProgress = true
	return true
}

// abortShutdown clears the latch after a failed power-off so a later
// sleep request may retry.
func (s *State) abortShutdown() {
	s.shutdownInProgress = false
}
