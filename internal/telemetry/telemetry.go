// Package telemetry polls engine data over OBD-II through the companion
// board and hands decoded readings to one or more sinks.
package telemetry

import (
	"strconv"
	"strings"

	"github.com/sweeney/carberryd/internal/protocol"
)

// Sender issues a command and returns the device's reply.
type Sender interface {
	Send(cmd string) (protocol.Reply, error)
}

// Metric describes one mode 01 PID and how to decode its data bytes.
type Metric struct {
	Name   string // also the file name under the file sink directory
	PID    string // mode+PID as sent, e.g. "010D"
	Bytes  int    // number of data bytes the decoder needs
	Format string // printf verb used when writing the value as text
	decode func(a, b float64) float64
}

// Metrics are queried in this order every round. A PID that does not
// answer ends the round.
var Metrics = []Metric{
	{Name: "speed", PID: "010D", Bytes: 1, Format: "%.2f", decode: func(a, _ float64) float64 { return a }},
	{Name: "air_intake_temp", PID: "010F", Bytes: 1, Format: "%.1f", decode: func(a, _ float64) float64 { return a - 40 }},
	{Name: "rpm", PID: "010C", Bytes: 2, Format: "%.0f", decode: func(a, b float64) float64 { return (a*256 + b) / 4 }},
	{Name: "voltage", PID: "0142", Bytes: 2, Format: "%.2f", decode: func(a, b float64) float64 { return (a*256 + b) / 1000 }},
	{Name: "fuel_level", PID: "012F", Bytes: 1, Format: "%.1f", decode: func(a, _ float64) float64 { return a * 100 / 256 }},
	{Name: "coolant_temp", PID: "0105", Bytes: 1, Format: "%.0f", decode: func(a, _ float64) float64 { return a - 40 }},
}

// responsePrefix is the positive mode 01 response header, e.g. "41 0D".
func (m Metric) responsePrefix() string {
	return "41 " + strings.ToUpper(m.PID[2:])
}

// Decode extracts the metric's value from a reply line such as "41 0C 1A F8".
// It reports false when the reply is not a positive response for this PID
// or carries too few data bytes.
func Decode(m Metric, reply string) (float64, bool) {
	if !strings.HasPrefix(strings.ToUpper(reply), m.responsePrefix()) {
		return 0, false
	}
	fields := strings.Fields(reply)
	if len(fields) < 2+m.Bytes {
		return 0, false
	}

	var data [2]float64
	for i := 0; i < m.Bytes; i++ {
		v, err := strconv.ParseUint(fields[2+i], 16, 8)
		if err != nil {
			return 0, false
		}
		data[i] = float64(v)
	}
	return m.decode(data[0], data[1]), true
}

// Sink receives decoded readings.
type Sink interface {
	Write(m Metric, value float64) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(m Metric, value float64) error

// Write calls f.
func (f SinkFunc) Write(m Metric, value float64) error {
	return f(m, value)
}
