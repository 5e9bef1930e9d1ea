package ignition

import (
	"time"

	"github.com/sweeney/carberryd/internal/policy"
)

// Observer is told about everything the machine does. Implementations
// must not block for long; they run on the event loop.
type Observer interface {
	IgnitionChanged(phase Phase, offTime time.Time)
	Decided(d policy.Decision)
	KeepAliveSent(ok bool)
	PowerOffIssued(err error)
	UnknownEvent(raw string)
}

// NopObserver ignores all notifications.
type NopObserver struct{}

func (NopObserver) IgnitionChanged(Phase, time.Time) {}
func (NopObserver) Decided(policy.Decision)          {}
func (NopObserver) KeepAliveSent(bool)               {}
func (NopObserver) PowerOffIssued(error)             {}
func (NopObserver) UnknownEvent(string)              {}
