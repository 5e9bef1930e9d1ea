package ignition

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/sweeney/carberryd/internal/clock"
	"github.com/sweeney/carberryd/internal/geofence"
	"github.com/sweeney/carberryd/internal/host"
	"github.com/sweeney/carberryd/internal/policy"
	"github.com/sweeney/carberryd/internal/protocol"
)

var (
	home  = geofence.Coordinate{Lat: 52.3566777, Lng: 4.9492952}
	away  = geofence.Coordinate{Lat: 52.3611777, Lng: 4.9492952} // ~500 m north
	start = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
)

// rig wires a Machine to a scripted companion board and real policy code.
type rig struct {
	conn     *protocol.FakeConn
	link     *protocol.Link
	stations *host.FakeStationLister
	locator  *geofence.FakeLocator
	halter   *host.FakeHalter
	clock    *clock.Fake
	obs      *recordingObserver
	machine  *Machine
}

func newRig(t *testing.T, stations []string, script ...string) *rig {
	t.Helper()
	r := &rig{
		conn:     protocol.NewFakeConn(script...),
		stations: &host.FakeStationLister{List: stations},
		locator:  &geofence.FakeLocator{Coord: away},
		halter:   &host.FakeHalter{},
		clock:    clock.NewFake(start),
		obs:      &recordingObserver{},
	}
	r.link = protocol.New(r.conn, protocol.Options{})
	fence := geofence.New(r.locator, geofence.HomeRegion{Center: home, RadiusM: policy.DefaultHomeRadiusM})
	p := policy.New(r.stations, nil, fence, r.clock, policy.Limits{
		MaxRunTime:  policy.DefaultMaxRunTime,
		HomeRadiusM: policy.DefaultHomeRadiusM,
	})
	r.machine = New(r.link, p, r.halter, r.clock, Options{
		KeepAlivePause: DefaultKeepAlivePause,
		Observer:       r.obs,
	})
	return r
}

type recordingObserver struct {
	phases    []Phase
	decisions []policy.Decision
	keepAlive []bool
	powerOffs []error
	unknown   []string
}

func (o *recordingObserver) IgnitionChanged(p Phase, _ time.Time) { o.phases = append(o.phases, p) }
func (o *recordingObserver) Decided(d policy.Decision)            { o.decisions = append(o.decisions, d) }
func (o *recordingObserver) KeepAliveSent(ok bool)                { o.keepAlive = append(o.keepAlive, ok) }
func (o *recordingObserver) PowerOffIssued(err error)             { o.powerOffs = append(o.powerOffs, err) }
func (o *recordingObserver) UnknownEvent(raw string)              { o.unknown = append(o.unknown, raw) }

// recordingDecider captures the off-time each decision is asked about.
type recordingDecider struct {
	offTimes []time.Time
	stay     bool
}

func (d *recordingDecider) Evaluate(offTime time.Time) policy.Decision {
	d.offTimes = append(d.offTimes, offTime)
	return policy.Decision{StayAlive: d.stay}
}

func TestNewMachineStartsWithIgnitionOn(t *testing.T) {
	r := newRig(t, nil)
	s := r.machine.State()
	if s.Phase() != PhaseOn {
		t.Errorf("phase: got %s, want ON", s.Phase())
	}
	if !s.OffTime().IsZero() {
		t.Errorf("off-time should be unset, got %v", s.OffTime())
	}
	if s.ShutdownInProgress() {
		t.Error("shutdown latch should start clear")
	}
}

func TestIgnitionOffThenOn(t *testing.T) {
	r := newRig(t, nil)

	if err := r.machine.Handle(protocol.ParseEvent("EVNT IGNITION OFF")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if s := r.machine.State(); s.Phase() != PhaseOff || !s.OffTime().Equal(start) {
		t.Errorf("after off: phase=%s offTime=%v", s.Phase(), s.OffTime())
	}

	if err := r.machine.Handle(protocol.ParseEvent("EVNT IGNITION ON")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if s := r.machine.State(); s.Phase() != PhaseOn || !s.OffTime().IsZero() {
		t.Errorf("after on: phase=%s offTime=%v", s.Phase(), s.OffTime())
	}

	if !reflect.DeepEqual(r.obs.phases, []Phase{PhaseOff, PhaseOn}) {
		t.Errorf("observed phases: got %v", r.obs.phases)
	}
	if len(r.conn.Commands()) != 0 {
		t.Errorf("ignition transitions must not send commands, got %v", r.conn.Commands())
	}
}

func TestRunTimeMeasuredFromMostRecentOff(t *testing.T) {
	clk := clock.NewFake(start)
	dec := &recordingDecider{stay: false}
	m := New(protocol.New(protocol.NewFakeConn(), protocol.Options{}), dec, &host.FakeHalter{}, clk, Options{})

	m.Handle(protocol.ParseEvent("EVNT IGNITION OFF"))
	clk.Advance(30 * time.Minute)
	m.Handle(protocol.ParseEvent("EVNT IGNITION ON"))
	clk.Advance(10 * time.Minute)
	m.Handle(protocol.ParseEvent("EVNT IGNITION OFF"))
	secondOff := clk.Now()
	clk.Advance(5 * time.Minute)
	m.Handle(protocol.ParseEvent("EVNT GOTOSLEEP"))

	if len(dec.offTimes) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(dec.offTimes))
	}
	if !dec.offTimes[0].Equal(secondOff) {
		t.Errorf("decision off-time: got %v, want second off %v", dec.offTimes[0], secondOff)
	}
}

func TestRunTimeCapUsesSecondOffEndToEnd(t *testing.T) {
	r := newRig(t, []string{"AA:BB"}, "OK")

	r.machine.Handle(protocol.ParseEvent("EVNT IGNITION OFF"))
	r.clock.Advance(50 * time.Minute)
	r.machine.Handle(protocol.ParseEvent("EVNT IGNITION ON"))
	r.clock.Advance(time.Minute)
	r.machine.Handle(protocol.ParseEvent("EVNT IGNITION OFF"))
	// 61 minutes since the first off, 20 since the second.
	r.clock.Advance(20 * time.Minute)

	if err := r.machine.Handle(protocol.ParseEvent("EVNT GOTOSLEEP")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(r.obs.decisions) != 1 || !r.obs.decisions[0].WithinRunTime {
		t.Fatalf("run-time cap must be measured from the second off: %+v", r.obs.decisions)
	}
	if r.halter.Calls != 0 {
		t.Errorf("halter calls: got %d, want 0", r.halter.Calls)
	}
}

func TestGoToSleepWithClientsAwaySendsKeepAlive(t *testing.T) {
	r := newRig(t, []string{"AA:BB"},
		"EVNT IGNITION OFF",
		"EVNT GOTOSLEEP",
		"OK", // keep-alive reply
	)

	err := r.machine.Run()
	if err == nil {
		t.Fatal("Run should only return when the link fails")
	}

	if got := r.conn.Commands(); !reflect.DeepEqual(got, []string{protocol.CmdKeepAlive}) {
		t.Errorf("commands: got %v, want [%s]", got, protocol.CmdKeepAlive)
	}
	if r.halter.Calls != 0 {
		t.Errorf("halter calls: got %d, want 0", r.halter.Calls)
	}
	if !reflect.DeepEqual(r.clock.Sleeps(), []time.Duration{DefaultKeepAlivePause}) {
		t.Errorf("sleeps: got %v, want [5s]", r.clock.Sleeps())
	}
	if len(r.obs.decisions) != 1 || !r.obs.decisions[0].StayAlive {
		t.Errorf("decisions: got %+v", r.obs.decisions)
	}
	if d := r.obs.decisions[0].DistanceM; d < 499 || d > 502 {
		t.Errorf("distance: got %.2f, want ~500", d)
	}
	if !reflect.DeepEqual(r.obs.keepAlive, []bool{true}) {
		t.Errorf("keep-alive notifications: got %v", r.obs.keepAlive)
	}
}

func TestGoToSleepWithoutClientsPowersOffOnce(t *testing.T) {
	r := newRig(t, nil,
		"EVNT IGNITION OFF",
		"EVNT GOTOSLEEP",
		"EVNT GOTOSLEEP",
	)

	if err := r.machine.Run(); err == nil {
		t.Fatal("Run should only return when the link fails")
	}

	if r.halter.Calls != 1 {
		t.Errorf("halter calls: got %d, want 1", r.halter.Calls)
	}
	if got := r.conn.Commands(); len(got) != 0 {
		t.Errorf("no commands may be sent after power-off, got %v", got)
	}
	if len(r.obs.decisions) != 1 {
		t.Errorf("the second sleep request must not be evaluated, got %d decisions", len(r.obs.decisions))
	}
	if !r.machine.State().ShutdownInProgress() {
		t.Error("shutdown latch should be set")
	}
}

func TestPowerOffIsIdempotent(t *testing.T) {
	r := newRig(t, nil)

	if !r.machine.PowerOff() {
		t.Error("first PowerOff should issue a halt")
	}
	if r.machine.PowerOff() {
		t.Error("second PowerOff must not issue a halt")
	}
	if r.halter.Calls != 1 {
		t.Errorf("halter calls: got %d, want 1", r.halter.Calls)
	}
}

func TestPowerOffFailureResetsLatch(t *testing.T) {
	r := newRig(t, nil, "EVNT IGNITION OFF", "EVNT GOTOSLEEP", "EVNT GOTOSLEEP")
	r.halter.Err = errors.New("exec: systemctl: not found")

	r.machine.Handle(mustReceive(t, r.link))
	r.machine.Handle(mustReceive(t, r.link))
	if r.machine.State().ShutdownInProgress() {
		t.Fatal("latch must be cleared after a failed halt")
	}

	r.halter.Err = nil
	r.machine.Handle(mustReceive(t, r.link))
	if r.halter.Calls != 2 {
		t.Errorf("halter calls: got %d, want 2 (one failure, one retry)", r.halter.Calls)
	}
	if !r.machine.State().ShutdownInProgress() {
		t.Error("latch should be set after the retry succeeds")
	}
	if len(r.obs.powerOffs) != 2 || r.obs.powerOffs[0] == nil || r.obs.powerOffs[1] != nil {
		t.Errorf("power-off notifications: got %v", r.obs.powerOffs)
	}
}

func TestGoToSleepWithoutOffTimeShutsDown(t *testing.T) {
	r := newRig(t, []string{"AA:BB"}, "EVNT GOTOSLEEP")

	r.machine.Handle(mustReceive(t, r.link))

	if r.halter.Calls != 1 {
		t.Errorf("halter calls: got %d, want 1", r.halter.Calls)
	}
}

func TestGoToSleepAtHomeShutsDown(t *testing.T) {
	r := newRig(t, []string{"AA:BB"}, "EVNT IGNITION OFF", "EVNT GOTOSLEEP")
	r.locator.Coord = home

	r.machine.Handle(mustReceive(t, r.link))
	r.machine.Handle(mustReceive(t, r.link))

	if r.halter.Calls != 1 {
		t.Errorf("halter calls: got %d, want 1", r.halter.Calls)
	}
}

func TestKeepAliveErrorReplyIsNotFatal(t *testing.T) {
	r := newRig(t, []string{"AA:BB"}, "EVNT IGNITION OFF", "EVNT GOTOSLEEP", "ERROR", "EVNT IGNITION ON")

	for i := 0; i < 3; i++ {
		ev, err := r.link.ReceiveEvent()
		if err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
		if err := r.machine.Handle(ev); err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
	}
	if !reflect.DeepEqual(r.obs.keepAlive, []bool{false}) {
		t.Errorf("keep-alive notifications: got %v", r.obs.keepAlive)
	}
	if r.machine.State().Phase() != PhaseOn {
		t.Error("loop should continue after an ERROR keep-alive reply")
	}
}

func TestKeepAliveLinkFailureStopsLoop(t *testing.T) {
	r := newRig(t, []string{"AA:BB"}, "EVNT IGNITION OFF", "EVNT GOTOSLEEP")

	err := r.machine.Run()
	if err == nil {
		t.Fatal("expected error")
	}
	if got := r.conn.Commands(); !reflect.DeepEqual(got, []string{protocol.CmdKeepAlive}) {
		t.Errorf("commands: got %v", got)
	}
	if len(r.clock.Sleeps()) != 0 {
		t.Errorf("no pause after a failed keep-alive, got %v", r.clock.Sleeps())
	}
}

func TestUnknownEventIsIgnored(t *testing.T) {
	r := newRig(t, nil, "EVNT CAN ACTIVITY", "HELLO", "EVNT IGNITION OFF")

	if err := r.machine.Run(); err == nil {
		t.Fatal("Run should only return when the link fails")
	}
	if !reflect.DeepEqual(r.obs.unknown, []string{"EVNT CAN ACTIVITY", "HELLO"}) {
		t.Errorf("unknown events: got %v", r.obs.unknown)
	}
	if r.machine.State().Phase() != PhaseOff {
		t.Error("events after an unknown one must still be handled")
	}
}

func TestRebindKeepsState(t *testing.T) {
	r := newRig(t, nil, "EVNT IGNITION OFF")
	r.machine.Run()

	next := protocol.New(protocol.NewFakeConn("EVNT GOTOSLEEP"), protocol.Options{})
	r.machine.Rebind(next)
	r.machine.Run()

	if r.halter.Calls != 1 {
		t.Errorf("halter calls: got %d, want 1", r.halter.Calls)
	}
	if len(r.obs.decisions) != 1 || r.obs.decisions[0].Elapsed != 0 {
		t.Errorf("decision should see the off-time from before the reconnect: %+v", r.obs.decisions)
	}
}

func mustReceive(t *testing.T, l *protocol.Link) protocol.Event {
	t.Helper()
	ev, err := l.ReceiveEvent()
	if err != nil {
		t.Fatalf("ReceiveEvent: %v", err)
	}
	return ev
}
