package ignition

import (
	"fmt"
	"log"
	"time"

	"github.com/sweeney/carberryd/internal/clock"
	"github.com/sweeney/carberryd/internal/host"
	"github.com/sweeney/carberryd/internal/policy"
	"github.com/sweeney/carberryd/internal/protocol"
)

// DefaultKeepAlivePause is how long the loop blocks after a keep-alive.
const DefaultKeepAlivePause = 5 * time.Second

// Link is the part of the protocol link the machine uses.
type Link interface {
	ReceiveEvent() (protocol.Event, error)
	Send(cmd string) (protocol.Reply, error)
}

// Decider decides whether the host must stay alive.
type Decider interface {
	Evaluate(offTime time.Time) policy.Decision
}

// Machine is the ignition event loop. It is single-threaded: every event
// is handled, including any command it triggers, before the next is read.
type Machine struct {
	link     Link
	decider  Decider
	halter   host.Halter
	clock    clock.Clock
	observer Observer

	keepAlivePause time.Duration
	state          State
}

// Options configures a Machine.
type Options struct {
	KeepAlivePause time.Duration
	Observer       Observer
}

// New creates a Machine with the ignition assumed on.
func New(link Link, decider Decider, halter host.Halter, clk clock.Clock, opts Options) *Machine {
	obs := opts.Observer
	if obs == nil {
		obs = NopObserver{}
	}
	return &Machine{
		link:           link,
		decider:        decider,
		halter:         halter,
		clock:          clk,
		observer:       obs,
		keepAlivePause: opts.KeepAlivePause,
	}
}

// State returns a copy of the ignition bookkeeping.
func (m *Machine) State() State {
	return m.state
}

// Rebind switches the machine to a new link after a reconnect. The
// ignition state and shutdown latch are kept.
func (m *Machine) Rebind(link Link) {
	m.link = link
}

// Run reads and handles events until the link fails.
func (m *Machine) Run() error {
	for {
		ev, err := m.link.ReceiveEvent()
		if err != nil {
			return fmt.Errorf("ignition: %w", err)
		}
		if err := m.Handle(ev); err != nil {
			return fmt.Errorf("ignition: %w", err)
		}
	}
}

// Handle applies one event. Only a link failure is returned as an error.
func (m *Machine) Handle(ev protocol.Event) error {
	switch ev.Kind {
	case protocol.EventIgnitionOff:
		m.state.IgnitionOff(m.clock.Now())
		log.Printf("ignition: off at %s", m.state.OffTime().Format(time.RFC3339))
		m.observer.IgnitionChanged(PhaseOff, m.state.OffTime())
		return nil

	case protocol.EventIgnitionOn:
		m.state.IgnitionOn()
		log.Printf("ignition: on")
		m.observer.IgnitionChanged(PhaseOn, time.Time{})
		return nil

	case protocol.EventGoToSleep:
		return m.goToSleep()

	case protocol.EventUnknown:
		log.Printf("ignition: unrecognized event %q", ev.Raw)
		m.observer.UnknownEvent(ev.Raw)
	}
	return nil
}

func (m *Machine) goToSleep() error {
	if m.state.ShutdownInProgress() {
		log.Printf("ignition: sleep request ignored, power-off already issued")
		return nil
	}

	d := m.decider.Evaluate(m.state.OffTime())
	m.observer.Decided(d)
	if !d.StayAlive {
		m.PowerOff()
		return nil
	}

	reply, err := m.link.Send(protocol.CmdKeepAlive)
	if err != nil {
		return fmt.Errorf("keep-alive: %w", err)
	}
	if !reply.OK() {
		log.Printf("ignition: keep-alive answered %q", reply.Text)
	}
	m.observer.KeepAliveSent(reply.OK())
	m.clock.Sleep(m.keepAlivePause)
	return nil
}

// PowerOff halts the host at most once. A failed halt clears the latch so
// a later sleep request can retry. It reports whether a halt was issued.
func (m *Machine) PowerOff() bool {
	if !m.state.beginShutdown() {
		return false
	}
	log.Printf("ignition: shutting host down")
	if err := m.halter.Halt(); err != nil {
		m.state.abortShutdown()
		log.Printf("ignition: cannot shut down: %v", err)
		m.observer.PowerOffIssued(err)
		return false
	}
	m.observer.PowerOffIssued(nil)
	return true
}
