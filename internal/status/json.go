package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event              string             `json:"event,omitempty"`
	Reason             string             `json:"reason,omitempty"`
	Ignition           string             `json:"ignition"`
	OffTime            string             `json:"off_time,omitempty"`
	ShutdownInProgress bool               `json:"shutdown_in_progress"`
	UptimeSeconds      int64              `json:"uptime_seconds"`
	StartTime          string             `json:"start_time"`
	Timestamp          string             `json:"timestamp"`
	Link               LinkStatus         `json:"link"`
	MQTT               MQTTStatus         `json:"mqtt"`
	Geofence           GeofenceStatus     `json:"geofence"`
	LastDecision       *DecisionJSON      `json:"last_decision,omitempty"`
	Counts             CountsJSON         `json:"event_counts"`
	Telemetry          map[string]float64 `json:"telemetry,omitempty"`
	Config             ConfigJSON         `json:"config"`
}

// LinkStatus reports the device link state.
type LinkStatus struct {
	Connected  bool   `json:"connected"`
	Addr       string `json:"addr"`
	Anomalies  int    `json:"anomalies"`
	Reconnects int    `json:"reconnects"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// GeofenceStatus reports whether the home check still consults gpsd.
type GeofenceStatus struct {
	Enabled bool    `json:"enabled"`
	HomeLat float64 `json:"home_lat"`
	HomeLng float64 `json:"home_lng"`
	RadiusM float64 `json:"radius_m"`
}

// DecisionJSON is the JSON representation of the last shutdown decision.
type DecisionJSON struct {
	Timestamp      string   `json:"timestamp"`
	StayAlive      bool     `json:"stay_alive"`
	ClientsPresent bool     `json:"clients_present"`
	WithinRunTime  bool     `json:"within_run_time"`
	NotAtHome      bool     `json:"not_at_home"`
	Stations       []string `json:"stations"`
	ElapsedS       int64    `json:"elapsed_s"`
	DistanceM      float64  `json:"distance_m"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	IgnitionOff       int `json:"ignition_off"`
	IgnitionOn        int `json:"ignition_on"`
	GoToSleep         int `json:"gotosleep"`
	KeepAlives        int `json:"keepalives"`
	KeepAliveFailures int `json:"keepalive_failures"`
	PowerOffs         int `json:"poweroffs"`
	UnknownEvents     int `json:"unknown_events"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	DeviceAddr     string   `json:"device_addr"`
	Broker         string   `json:"broker"`
	HTTPPort       string   `json:"http_port"`
	Timer1         int      `json:"timer1"`
	Timer2         int      `json:"timer2"`
	MaxRunTimeS    int64    `json:"max_run_time_s"`
	IgnoreStations []string `json:"ignore_stations"`
	Telemetry      bool     `json:"telemetry"`
}

func buildInner(snap Snapshot) StatusInner {
	ignition := snap.Ignition
	if ignition == "" {
		ignition = "UNKNOWN"
	}
	ignore := snap.Config.IgnoreStations
	if ignore == nil {
		ignore = []string{}
	}

	inner := StatusInner{
		Ignition:           ignition,
		ShutdownInProgress: snap.ShutdownInProgress,
		UptimeSeconds:      int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:          snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:          snap.Now.UTC().Format(time.RFC3339),
		Link: LinkStatus{
			Connected:  snap.LinkConnected,
			Addr:       snap.Config.DeviceAddr,
			Anomalies:  snap.LinkAnomalies,
			Reconnects: snap.Reconnects,
		},
		MQTT: MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Geofence: GeofenceStatus{
			Enabled: snap.GeofenceEnabled,
			HomeLat: snap.Config.HomeLat,
			HomeLng: snap.Config.HomeLng,
			RadiusM: snap.Config.HomeRadiusM,
		},
		Counts: CountsJSON{
			IgnitionOff:       snap.Counts.IgnitionOff,
			IgnitionOn:        snap.Counts.IgnitionOn,
			GoToSleep:         snap.Counts.GoToSleep,
			KeepAlives:        snap.Counts.KeepAlives,
			KeepAliveFailures: snap.Counts.KeepAliveFailures,
			PowerOffs:         snap.Counts.PowerOffs,
			UnknownEvents:     snap.Counts.UnknownEvents,
		},
		Telemetry: snap.Metrics,
		Config: ConfigJSON{
			DeviceAddr:     snap.Config.DeviceAddr,
			Broker:         snap.Config.Broker,
			HTTPPort:       snap.Config.HTTPPort,
			Timer1:         snap.Config.Timer1,
			Timer2:         snap.Config.Timer2,
			MaxRunTimeS:    int64(snap.Config.MaxRunTime / time.Second),
			IgnoreStations: ignore,
			Telemetry:      snap.Config.Telemetry,
		},
	}
	if !snap.OffTime.IsZero() {
		inner.OffTime = snap.OffTime.UTC().Format(time.RFC3339)
	}
	if d := snap.LastDecision; d != nil {
		stations := append([]string{}, d.Relevant...)
		inner.LastDecision = &DecisionJSON{
			Timestamp:      snap.LastDecisionAt.UTC().Format(time.RFC3339),
			StayAlive:      d.StayAlive,
			ClientsPresent: d.ClientsPresent,
			WithinRunTime:  d.WithinRunTime,
			NotAtHome:      d.NotAtHome,
			Stations:       stations,
			ElapsedS:       int64(d.Elapsed / time.Second),
			DistanceM:      d.DistanceM,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
