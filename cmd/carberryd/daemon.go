package main

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/sweeney/carberryd/internal/clock"
	"github.com/sweeney/carberryd/internal/config"
	"github.com/sweeney/carberryd/internal/geofence"
	"github.com/sweeney/carberryd/internal/ignition"
	"github.com/sweeney/carberryd/internal/led"
	"github.com/sweeney/carberryd/internal/mqtt"
	"github.com/sweeney/carberryd/internal/policy"
	"github.com/sweeney/carberryd/internal/protocol"
	"github.com/sweeney/carberryd/internal/status"
)

// sender is the part of a link the setup sequence needs.
type sender interface {
	Send(cmd string) (protocol.Reply, error)
}

// setup configures the board to report ignition events: wake on
// ignition, program the timers, then subscribe. Refusals are logged;
// only link errors are returned.
func setup(link sender, timer1, timer2 int) error {
	for _, cmd := range []string{
		protocol.CmdWakeupIgnition,
		protocol.IgnitionTimers(timer1, timer2),
		protocol.CmdEventsNotify,
	} {
		reply, err := link.Send(cmd)
		if err != nil {
			return fmt.Errorf("setup: %w", err)
		}
		if !reply.OK() {
			log.Printf("setup: %s answered %q", cmd, reply.Text)
		}
	}
	return nil
}

// dialer opens a fresh link to the board.
type dialer func() (*protocol.Link, error)

// daemon keeps one link to the board alive and feeds it to the ignition
// machine, reconnecting for as long as the process runs.
type daemon struct {
	dial      dialer
	cfg       config.Config
	clock     clock.Clock
	machine   *ignition.Machine
	tracker   *status.Tracker
	publisher mqtt.Publisher // nil when MQTT is disabled

	stopped   atomic.Bool
	anomalies int
}

// Stop makes supervise return at its next reconnect point.
func (d *daemon) Stop() {
	d.stopped.Store(true)
}

// onAnomaly is installed as the links' anomaly hook.
func (d *daemon) onAnomaly(cmd, reply, ack string) {
	d.anomalies++
	d.tracker.SetLinkAnomalies(d.anomalies)
}

// connect dials and handshakes until both succeed. It returns nil once
// the daemon is stopped.
func (d *daemon) connect() *protocol.Link {
	for !d.stopped.Load() {
		link, err := d.dial()
		if err == nil {
			if err = link.Handshake(); err == nil {
				return link
			}
		}
		log.Printf("connect %s: %v, retrying in %v", d.cfg.DeviceAddr, err, d.cfg.ReconnectPause)
		d.clock.Sleep(d.cfg.ReconnectPause)
	}
	return nil
}

// supervise runs setup and the event loop on each new link. A link error
// ends the session; ignition state and the shutdown latch carry over to
// the next one. Once a power-off has been issued no new session is opened.
func (d *daemon) supervise() {
	for {
		link := d.connect()
		if link == nil {
			return
		}
		log.Printf("connected to %s", d.cfg.DeviceAddr)
		d.tracker.SetLinkConnected(true)
		d.publishSystem("LINK_UP", "")

		err := setup(link, d.cfg.Timer1, d.cfg.Timer2)
		if err == nil {
			d.machine.Rebind(link)
			err = d.machine.Run()
		}
		link.Close()
		d.tracker.SetLinkConnected(false)
		if d.stopped.Load() {
			return
		}

		d.publishSystem("LINK_DOWN", err.Error())
		if d.machine.State().ShutdownInProgress() {
			log.Printf("link lost after power-off: %v, not reconnecting", err)
			return
		}
		log.Printf("link lost: %v, reconnecting in %v", err, d.cfg.ReconnectPause)
		d.clock.Sleep(d.cfg.ReconnectPause)
	}
}

func (d *daemon) publishSystem(event, reason string) {
	if d.publisher == nil {
		return
	}
	e := mqtt.SystemEvent{Timestamp: d.clock.Now(), Event: event, Reason: reason}
	if err := d.publisher.PublishSystem(e); err != nil {
		log.Printf("publish %s: %v", event, err)
	}
}

// observer mirrors ignition machine activity into the status tracker,
// MQTT and the indicator LED.
type observer struct {
	clock     clock.Clock
	tracker   *status.Tracker
	publisher mqtt.Publisher // nil when MQTT is disabled
	led       *led.Indicator
	fence     *geofence.Fence

	offTime time.Time
	last    policy.Decision
}

func (o *observer) IgnitionChanged(phase ignition.Phase, offTime time.Time) {
	o.offTime = offTime
	o.tracker.SetIgnition(string(phase), offTime)

	typ := mqtt.EventIgnitionOff
	if phase == ignition.PhaseOn {
		typ = mqtt.EventIgnitionOn
		o.led.Set(false)
	}
	o.publish(mqtt.Event{Timestamp: o.clock.Now(), Type: typ, OffTime: offTime})
}

func (o *observer) Decided(d policy.Decision) {
	o.last = d
	o.tracker.RecordDecision(d, o.clock.Now())
	if o.fence != nil {
		o.tracker.SetGeofenceEnabled(o.fence.Enabled())
	}
}

func (o *observer) KeepAliveSent(ok bool) {
	o.tracker.RecordKeepAlive(ok)
	o.led.Set(ok)
	if ok {
		d := o.last
		o.publish(mqtt.Event{Timestamp: o.clock.Now(), Type: mqtt.EventKeepAlive, OffTime: o.offTime, Decision: &d})
	}
}

func (o *observer) PowerOffIssued(err error) {
	o.tracker.RecordPowerOff(err)
	if err != nil {
		return
	}
	o.led.Set(false)
	d := o.last
	o.publish(mqtt.Event{Timestamp: o.clock.Now(), Type: mqtt.EventPowerOff, OffTime: o.offTime, Decision: &d})
}

func (o *observer) UnknownEvent(raw string) {
	o.tracker.RecordUnknownEvent()
}

func (o *observer) publish(e mqtt.Event) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(e); err != nil {
		log.Printf("publish error: %v", err)
	}
}
