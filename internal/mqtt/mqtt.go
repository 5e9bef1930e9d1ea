// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/carberryd/internal/policy"
)

// Topic is the MQTT topic for ignition and shutdown events.
const Topic = "vehicle/carberry/events"

// TopicSystem is the MQTT topic for daemon lifecycle events.
const TopicSystem = "vehicle/carberry/system"

// DefaultClientID identifies the daemon to the broker.
const DefaultClientID = "carberryd"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a vehicle event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event Event) error

	// PublishSystem sends a daemon lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// EventType names a vehicle event.
type EventType string

const (
	EventIgnitionOff EventType = "IGNITION_OFF"
	EventIgnitionOn  EventType = "IGNITION_ON"
	EventKeepAlive   EventType = "KEEPALIVE"
	EventPowerOff    EventType = "POWEROFF"
)

// Event is a vehicle-side occurrence worth reporting.
type Event struct {
	Timestamp time.Time
	Type      EventType
	OffTime   time.Time        // zero when the ignition is on
	Decision  *policy.Decision // set for KEEPALIVE and POWEROFF
}

// SystemEvent represents a daemon lifecycle event (e.g., startup, shutdown, link up).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "LINK_UP", "LINK_DOWN"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Vehicle VehiclePayload `json:"vehicle"`
}

// VehiclePayload contains the event details.
type VehiclePayload struct {
	Timestamp string           `json:"timestamp"`
	Event     string           `json:"event"`
	OffTime   string           `json:"off_time,omitempty"`
	Decision  *DecisionPayload `json:"decision,omitempty"`
}

// DecisionPayload reports the shutdown policy signals.
type DecisionPayload struct {
	StayAlive      bool     `json:"stay_alive"`
	ClientsPresent bool     `json:"clients_present"`
	WithinRunTime  bool     `json:"within_run_time"`
	NotAtHome      bool     `json:"not_at_home"`
	Stations       []string `json:"stations"`
	ElapsedS       int64    `json:"elapsed_s"`
	DistanceM      float64  `json:"distance_m"`
}

// FormatPayload creates the JSON payload for a vehicle event.
func FormatPayload(event Event) ([]byte, error) {
	payload := Payload{
		Vehicle: VehiclePayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
		},
	}
	if !event.OffTime.IsZero() {
		payload.Vehicle.OffTime = event.OffTime.UTC().Format(time.RFC3339)
	}
	if d := event.Decision; d != nil {
		stations := d.Relevant
		if stations == nil {
			stations = []string{}
		}
		payload.Vehicle.Decision = &DecisionPayload{
			StayAlive:      d.StayAlive,
			ClientsPresent: d.ClientsPresent,
			WithinRunTime:  d.WithinRunTime,
			NotAtHome:      d.NotAtHome,
			Stations:       stations,
			ElapsedS:       int64(d.Elapsed / time.Second),
			DistanceM:      d.DistanceM,
		}
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, LINK_UP) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
