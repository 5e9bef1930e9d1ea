// Package status provides a thread-safe status tracker for the carberryd daemon.
// It is read by the HTTP handlers and the MQTT lifecycle publisher.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/carberryd/internal/policy"
)

// Config contains daemon configuration for display.
type Config struct {
	DeviceAddr     string
	Broker         string
	HTTPPort       string
	Timer1         int
	Timer2         int
	MaxRunTime     time.Duration
	HomeLat        float64
	HomeLng        float64
	HomeRadiusM    float64
	IgnoreStations []string
	Telemetry      bool
}

// Counts tracks how often the daemon has seen or done each thing.
type Counts struct {
	IgnitionOff       int
	IgnitionOn        int
	GoToSleep         int
	KeepAlives        int
	KeepAliveFailures int
	PowerOffs         int
	UnknownEvents     int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Ignition           string // "ON", "OFF" or empty before the first event
	OffTime            time.Time
	ShutdownInProgress bool
	LinkConnected      bool
	LinkAnomalies      int
	Reconnects         int
	GeofenceEnabled    bool
	LastDecision       *policy.Decision
	LastDecisionAt     time.Time
	Counts             Counts
	Metrics            map[string]float64
	StartTime          time.Time
	Now                time.Time
	MQTTConnected      bool
	Config             Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu       sync.RWMutex
	snap     Snapshot
	linkSeen bool
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// SetIgnition records an ignition transition. offTime is zero when the
// ignition came on.
func (t *Tracker) SetIgnition(phase string, offTime time.Time) {
	t.mu.Lock()
	t.snap.Ignition = phase
	t.snap.OffTime = offTime
	switch phase {
	case "OFF":
		t.snap.Counts.IgnitionOff++
	case "ON":
		t.snap.Counts.IgnitionOn++
	}
	t.mu.Unlock()
}

// RecordDecision stores the most recent shutdown policy outcome.
func (t *Tracker) RecordDecision(d policy.Decision, at time.Time) {
	t.mu.Lock()
	t.snap.LastDecision = &d
	t.snap.LastDecisionAt = at
	t.snap.Counts.GoToSleep++
	t.mu.Unlock()
}

// RecordKeepAlive counts a keep-alive and whether the device accepted it.
func (t *Tracker) RecordKeepAlive(ok bool) {
	t.mu.Lock()
	if ok {
		t.snap.Counts.KeepAlives++
	} else {
		t.snap.Counts.KeepAliveFailures++
	}
	t.mu.Unlock()
}

// RecordPowerOff notes a power-off attempt. A failed attempt clears the
// shutdown flag again.
func (t *Tracker) RecordPowerOff(err error) {
	t.mu.Lock()
	t.snap.Counts.PowerOffs++
	t.snap.ShutdownInProgress = err == nil
	t.mu.Unlock()
}

// RecordUnknownEvent counts an unrecognized event line.
func (t *Tracker) RecordUnknownEvent() {
	t.mu.Lock()
	t.snap.Counts.UnknownEvents++
	t.mu.Unlock()
}

// SetLinkConnected sets the device link state. Each transition from down
// to up after the first counts as a reconnect.
func (t *Tracker) SetLinkConnected(connected bool) {
	t.mu.Lock()
	if connected && !t.snap.LinkConnected {
		if t.linkSeen {
			t.snap.Reconnects++
		}
		t.linkSeen = true
	}
	t.snap.LinkConnected = connected
	t.mu.Unlock()
}

// SetLinkAnomalies sets the count of mismatched trailing acknowledgements.
func (t *Tracker) SetLinkAnomalies(n int) {
	t.mu.Lock()
	t.snap.LinkAnomalies = n
	t.mu.Unlock()
}

// SetGeofenceEnabled sets whether the geofence still consults gpsd.
func (t *Tracker) SetGeofenceEnabled(enabled bool) {
	t.mu.Lock()
	t.snap.GeofenceEnabled = enabled
	t.mu.Unlock()
}

// SetMetric stores the latest value of a telemetry metric.
func (t *Tracker) SetMetric(name string, value float64) {
	t.mu.Lock()
	if t.snap.Metrics == nil {
		t.snap.Metrics = make(map[string]float64)
	}
	t.snap.Metrics[name] = value
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	if t.snap.Metrics != nil {
		s.Metrics = make(map[string]float64, len(t.snap.Metrics))
		for k, v := range t.snap.Metrics {
			s.Metrics[k] = v
		}
	}
	if t.snap.LastDecision != nil {
		d := *t.snap.LastDecision
		s.LastDecision = &d
	}
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
