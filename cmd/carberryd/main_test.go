package main

import (
	"errors"
	"os"
	"reflect"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/carberryd/internal/clock"
	"github.com/sweeney/carberryd/internal/config"
	"github.com/sweeney/carberryd/internal/geofence"
	"github.com/sweeney/carberryd/internal/host"
	"github.com/sweeney/carberryd/internal/ignition"
	"github.com/sweeney/carberryd/internal/led"
	"github.com/sweeney/carberryd/internal/mqtt"
	"github.com/sweeney/carberryd/internal/policy"
	"github.com/sweeney/carberryd/internal/protocol"
	"github.com/sweeney/carberryd/internal/status"
)

var start = time.Date(2026, 1, 1, 22, 0, 0, 0, time.UTC)

// recordingDecider captures the off-time each decision is asked about.
type recordingDecider struct {
	offTimes []time.Time
	decision policy.Decision
}

func (d *recordingDecider) Evaluate(offTime time.Time) policy.Decision {
	d.offTimes = append(d.offTimes, offTime)
	return d.decision
}

type harness struct {
	clock   *clock.Fake
	tracker *status.Tracker
	pub     *mqtt.FakePublisher
	halter  *host.FakeHalter
	decider *recordingDecider
	line    *led.FakeLine
	daemon  *daemon
	dials   int
}

// newHarness scripts one connection per entry; a nil entry is a failed
// dial. Once the script runs out the daemon is stopped.
func newHarness(t *testing.T, decision policy.Decision, conns ...*protocol.FakeConn) *harness {
	t.Helper()
	h := &harness{
		clock:   clock.NewFake(start),
		tracker: status.NewTracker(start, status.Config{}),
		pub:     mqtt.NewFakePublisher(),
		halter:  &host.FakeHalter{},
		decider: &recordingDecider{decision: decision},
		line:    &led.FakeLine{},
	}
	obs := &observer{
		clock:     h.clock,
		tracker:   h.tracker,
		publisher: h.pub,
		led:       led.NewIndicator(h.line),
		fence:     geofence.New(nil, geofence.HomeRegion{}),
	}
	machine := ignition.New(nil, h.decider, h.halter, h.clock, ignition.Options{
		KeepAlivePause: 5 * time.Second,
		Observer:       obs,
	})
	h.daemon = &daemon{
		cfg:       config.Default(),
		clock:     h.clock,
		machine:   machine,
		tracker:   h.tracker,
		publisher: h.pub,
	}
	h.daemon.dial = func() (*protocol.Link, error) {
		if h.dials >= len(conns) {
			h.daemon.Stop()
			return nil, errors.New("script exhausted")
		}
		c := conns[h.dials]
		h.dials++
		if c == nil {
			return nil, errors.New("connection refused")
		}
		return protocol.New(c, protocol.Options{OnAnomaly: h.daemon.onAnomaly}), nil
	}
	return h
}

func TestSetupSequence(t *testing.T) {
	conn := protocol.NewFakeConn("OK", "OK", "OK")
	link := protocol.New(conn, protocol.Options{})

	if err := setup(link, 120, 20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"CAN WAKEUP IGNITION", "IGNITION TIMERS 120 20", "IGNITION EVENTS NOTIFY"}
	if !reflect.DeepEqual(conn.Commands(), want) {
		t.Errorf("commands:\ngot:  %v\nwant: %v", conn.Commands(), want)
	}
}

func TestSetupRefusalIsNotFatal(t *testing.T) {
	conn := protocol.NewFakeConn("ERROR", "OK", "OK")
	link := protocol.New(conn, protocol.Options{})

	if err := setup(link, 300, 20); err != nil {
		t.Fatalf("refusal should be logged, not returned: %v", err)
	}
	if len(conn.Commands()) != 3 {
		t.Errorf("all setup commands should be sent, got %v", conn.Commands())
	}
}

func TestSetupLinkFailure(t *testing.T) {
	link := protocol.New(protocol.NewFakeConn("OK"), protocol.Options{})

	if err := setup(link, 300, 20); err == nil {
		t.Fatal("expected error when the link drops during setup")
	}
}

func TestSuperviseReconnectsAndKeepsState(t *testing.T) {
	session1 := protocol.NewFakeConn("OK", "OK", "OK", "OK", "EVNT IGNITION OFF")
	session2 := protocol.NewFakeConn("OK", "OK", "OK", "OK", "EVNT GOTOSLEEP")
	h := newHarness(t, policy.Decision{StayAlive: false},
		nil,                                     // dial refused
		protocol.NewFakeConn("ERROR", "ERROR"), // probe never acknowledged
		session1,
		session2,
	)

	h.daemon.supervise()

	wantCmds := []string{"AT", "CAN WAKEUP IGNITION", "IGNITION TIMERS 300 20", "IGNITION EVENTS NOTIFY"}
	if !reflect.DeepEqual(session1.Commands(), wantCmds) {
		t.Errorf("session 1 commands:\ngot:  %v\nwant: %v", session1.Commands(), wantCmds)
	}

	// The off-time recorded in session 1 is used by the decision in session 2.
	if len(h.decider.offTimes) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(h.decider.offTimes))
	}
	if h.decider.offTimes[0].IsZero() {
		t.Error("off-time should survive the reconnect")
	}
	if h.halter.Calls != 1 {
		t.Errorf("halt calls: got %d, want 1", h.halter.Calls)
	}

	wantSys := []string{"LINK_UP", "LINK_DOWN", "LINK_UP", "LINK_DOWN"}
	if !reflect.DeepEqual(h.pub.SystemEventNames(), wantSys) {
		t.Errorf("system events: got %v, want %v", h.pub.SystemEventNames(), wantSys)
	}
	wantEvents := []mqtt.EventType{mqtt.EventIgnitionOff, mqtt.EventPowerOff}
	if !reflect.DeepEqual(h.pub.EventTypes(), wantEvents) {
		t.Errorf("events: got %v, want %v", h.pub.EventTypes(), wantEvents)
	}

	snap := h.tracker.Snapshot()
	if snap.LinkConnected {
		t.Error("link should be down after the script ends")
	}
	if snap.Reconnects != 1 {
		t.Errorf("reconnects: got %d, want 1", snap.Reconnects)
	}
	if !snap.ShutdownInProgress {
		t.Error("shutdown should be recorded")
	}

	for _, s := range h.clock.Sleeps() {
		if s != time.Second {
			t.Errorf("reconnect pause: got %v, want 1s", s)
		}
	}
	// refused dial, failed handshake, session 1 drop; none after the power-off
	if len(h.clock.Sleeps()) != 3 {
		t.Errorf("sleeps: got %v, want 3 reconnect pauses", h.clock.Sleeps())
	}
}

func TestSuperviseStopsAfterPowerOff(t *testing.T) {
	session1 := protocol.NewFakeConn("OK", "OK", "OK", "OK", "EVNT IGNITION OFF", "EVNT GOTOSLEEP")
	session2 := protocol.NewFakeConn("OK", "OK", "OK", "OK")
	h := newHarness(t, policy.Decision{StayAlive: false}, session1, session2)

	h.daemon.supervise()

	if h.halter.Calls != 1 {
		t.Fatalf("halt calls: got %d, want 1", h.halter.Calls)
	}
	if h.dials != 1 {
		t.Errorf("dials: got %d, want 1", h.dials)
	}
	if len(session2.Commands()) != 0 {
		t.Errorf("no command may follow a power-off, got %v", session2.Commands())
	}
	wantSys := []string{"LINK_UP", "LINK_DOWN"}
	if !reflect.DeepEqual(h.pub.SystemEventNames(), wantSys) {
		t.Errorf("system events: got %v, want %v", h.pub.SystemEventNames(), wantSys)
	}
	if len(h.clock.Sleeps()) != 0 {
		t.Errorf("sleeps: got %v, want none", h.clock.Sleeps())
	}
}

func TestSuperviseReconnectsAfterFailedPowerOff(t *testing.T) {
	session1 := protocol.NewFakeConn("OK", "OK", "OK", "OK", "EVNT IGNITION OFF", "EVNT GOTOSLEEP")
	session2 := protocol.NewFakeConn("OK", "OK", "OK", "OK", "EVNT GOTOSLEEP")
	h := newHarness(t, policy.Decision{StayAlive: false}, session1, session2)
	h.halter.Err = errors.New("permission denied")

	h.daemon.supervise()

	if h.halter.Calls != 2 {
		t.Errorf("halt calls: got %d, want 2 (retry on the new link)", h.halter.Calls)
	}
	if h.dials != 2 {
		t.Errorf("dials: got %d, want 2", h.dials)
	}
}

func TestSuperviseKeepAliveDrivesLED(t *testing.T) {
	conn := protocol.NewFakeConn("OK", "OK", "OK", "OK",
		"EVNT IGNITION OFF",
		"EVNT GOTOSLEEP", "OK", // keep-alive accepted
		"EVNT IGNITION ON",
	)
	h := newHarness(t, policy.Decision{StayAlive: true, ClientsPresent: true, WithinRunTime: true, NotAtHome: true}, conn)

	h.daemon.supervise()

	if got := conn.Commands()[len(conn.Commands())-1]; got != "IGNITION KEEPALIVE" {
		t.Errorf("last command: got %q, want IGNITION KEEPALIVE", got)
	}
	if !reflect.DeepEqual(h.line.Writes, []bool{false, true, false}) {
		t.Errorf("led writes: got %v, want [false true false]", h.line.Writes)
	}
	if h.halter.Calls != 0 {
		t.Errorf("host should not be halted, got %d calls", h.halter.Calls)
	}

	wantEvents := []mqtt.EventType{mqtt.EventIgnitionOff, mqtt.EventKeepAlive, mqtt.EventIgnitionOn}
	if !reflect.DeepEqual(h.pub.EventTypes(), wantEvents) {
		t.Errorf("events: got %v, want %v", h.pub.EventTypes(), wantEvents)
	}
	if h.pub.Events[1].Decision == nil || !h.pub.Events[1].Decision.StayAlive {
		t.Error("KEEPALIVE should carry the decision")
	}

	snap := h.tracker.Snapshot()
	if snap.Counts.KeepAlives != 1 || snap.Counts.GoToSleep != 1 {
		t.Errorf("counts: got %+v", snap.Counts)
	}
	if snap.Ignition != "ON" {
		t.Errorf("ignition: got %q, want ON", snap.Ignition)
	}
}

func TestSuperviseCountsAnomalies(t *testing.T) {
	conn := protocol.NewFakeConn("OK", "OK", "OK", "OK",
		"EVNT GOTOSLEEP",
		"BUSY", "NOPE", // keep-alive answered with data and a bad trailer
	)
	h := newHarness(t, policy.Decision{StayAlive: true}, conn)

	h.daemon.supervise()

	snap := h.tracker.Snapshot()
	if snap.LinkAnomalies != 1 {
		t.Errorf("anomalies: got %d, want 1", snap.LinkAnomalies)
	}
	if snap.Counts.KeepAliveFailures != 1 {
		t.Errorf("keep-alive failures: got %d, want 1", snap.Counts.KeepAliveFailures)
	}
	if h.line.Writes[len(h.line.Writes)-1] {
		t.Error("LED should stay off when the keep-alive is refused")
	}
}

func TestSuperviseWithoutMQTT(t *testing.T) {
	conn := protocol.NewFakeConn("OK", "OK", "OK", "OK", "EVNT IGNITION OFF")
	h := newHarness(t, policy.Decision{}, conn)
	h.daemon.publisher = nil

	h.daemon.supervise()

	if len(h.pub.SystemEvents) != 0 {
		t.Error("nothing should be published with MQTT disabled")
	}
}

func TestObserverFailedPowerOff(t *testing.T) {
	tracker := status.NewTracker(start, status.Config{})
	pub := mqtt.NewFakePublisher()
	o := &observer{clock: clock.NewFake(start), tracker: tracker, publisher: pub}

	o.PowerOffIssued(errors.New("permission denied"))

	if len(pub.Events) != 0 {
		t.Error("failed power-off should not be published")
	}
	if tracker.Snapshot().ShutdownInProgress {
		t.Error("failed power-off should not mark shutdown")
	}
}

func TestObserverPublishErrorIsNotFatal(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.PublishError = errors.New("broker down")
	tracker := status.NewTracker(start, status.Config{})
	o := &observer{clock: clock.NewFake(start), tracker: tracker, publisher: pub}

	o.IgnitionChanged(ignition.PhaseOff, start)

	if tracker.Snapshot().Ignition != "OFF" {
		t.Error("tracker should update even when publishing fails")
	}
}

func TestObserverUnknownEvent(t *testing.T) {
	tracker := status.NewTracker(start, status.Config{})
	o := &observer{clock: clock.NewFake(start), tracker: tracker}

	o.UnknownEvent("EVNT SOMETHING")

	if tracker.Snapshot().Counts.UnknownEvents != 1 {
		t.Error("unknown event should be counted")
	}
}

func TestWaitForSignalPublishesShutdown(t *testing.T) {
	tests := []struct {
		sig        os.Signal
		wantReason string
	}{
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGINT, "SIGINT"},
	}

	for _, tt := range tests {
		t.Run(tt.wantReason, func(t *testing.T) {
			tracker := status.NewTracker(start, status.Config{})
			pub := mqtt.NewFakePublisher()
			pub.Connected = true
			d := &daemon{}

			sigCh := make(chan os.Signal, 1)
			sigCh <- tt.sig
			now := func() time.Time { return start.Add(time.Minute) }

			if err := waitForSignal(sigCh, d, tracker, pub, pub, now); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if !d.stopped.Load() {
				t.Error("daemon should be stopped")
			}
			if len(pub.SystemEvents) != 1 {
				t.Fatalf("expected 1 system event, got %d", len(pub.SystemEvents))
			}
			e := pub.SystemEvents[0]
			if e.Event != "SHUTDOWN" || e.Reason != tt.wantReason || !e.Retained {
				t.Errorf("unexpected event: %+v", e)
			}
			if !tracker.Snapshot().MQTTConnected {
				t.Error("MQTT status should be refreshed before the snapshot")
			}
		})
	}
}

func TestNewHalter(t *testing.T) {
	if h, err := newHalter("systemctl"); err != nil {
		t.Errorf("systemctl: %v", err)
	} else if _, ok := h.(*host.SystemctlHalter); !ok {
		t.Errorf("systemctl: got %T", h)
	}

	if h, err := newHalter("logind"); err != nil {
		t.Errorf("logind: %v", err)
	} else if _, ok := h.(*host.LogindHalter); !ok {
		t.Errorf("logind: got %T", h)
	}

	if _, err := newHalter("reboot"); err == nil {
		t.Error("expected error for unknown method")
	}
}
