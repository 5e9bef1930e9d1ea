// Package policy decides whether the host must stay powered after the
// ignition has gone off.
//
// The host stays up only while all three hold: a Wi-Fi client that is not
// on the ignore list is associated, the run-time cap since the most recent
// ignition-off has not been reached, and the vehicle is outside the home
// region.
package policy

import (
	"log"
	"sort"
	"time"

	"github.com/sweeney/carberryd/internal/clock"
	"github.com/sweeney/carberryd/internal/host"
)

// Defaults for Limits.
const (
	DefaultMaxRunTime  = 3600 * time.Second
	DefaultHomeRadiusM = 20.0
)

// Limits are the fixed thresholds of the decision.
type Limits struct {
	MaxRunTime  time.Duration
	HomeRadiusM float64
}

// Inputs are everything the decision depends on.
type Inputs struct {
	Stations []string
	Ignore   []string

	// HasOffTime is false when no ignition-off has been observed.
	HasOffTime bool
	Elapsed    time.Duration

	DistanceM float64
}

// Decision is the outcome plus the signals that produced it.
type Decision struct {
	Relevant       []string
	ClientsPresent bool
	WithinRunTime  bool
	NotAtHome      bool
	StayAlive      bool

	Elapsed   time.Duration
	DistanceM float64
}

// Decide evaluates the three signals. It has no side effects.
func Decide(in Inputs, lim Limits) Decision {
	d := Decision{
		Relevant:  RelevantStations(in.Stations, in.Ignore),
		Elapsed:   in.Elapsed,
		DistanceM: in.DistanceM,
	}
	d.ClientsPresent = len(d.Relevant) > 0
	d.WithinRunTime = in.HasOffTime && in.Elapsed < lim.MaxRunTime
	d.NotAtHome = in.DistanceM > lim.HomeRadiusM
	d.StayAlive = d.ClientsPresent && d.WithinRunTime && d.NotAtHome
	return d
}

// RelevantStations returns the distinct stations not in ignore, sorted.
func RelevantStations(stations, ignore []string) []string {
	skip := make(map[string]bool, len(ignore))
	for _, s := range ignore {
		skip[s] = true
	}
	seen := make(map[string]bool, len(stations))
	var out []string
	for _, s := range stations {
		if skip[s] || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// DistanceMeter reports the distance from home in meters.
type DistanceMeter interface {
	DistanceFromHome() float64
}

// Policy gathers Inputs from the host and the geofence.
type Policy struct {
	stations host.StationLister
	ignore   []string
	fence    DistanceMeter
	clock    clock.Clock
	limits   Limits
}

// New creates a Policy.
func New(stations host.StationLister, ignore []string, fence DistanceMeter, clk clock.Clock, limits Limits) *Policy {
	return &Policy{
		stations: stations,
		ignore:   ignore,
		fence:    fence,
		clock:    clk,
		limits:   limits,
	}
}

// Evaluate queries the collaborators and decides. offTime is the most
// recent ignition-off; the zero time means none was recorded.
func (p *Policy) Evaluate(offTime time.Time) Decision {
	in := Inputs{
		Stations:   p.stations.Stations(),
		Ignore:     p.ignore,
		HasOffTime: !offTime.IsZero(),
	}
	log.Printf("policy: associated stations: %v, ignoring: %v", in.Stations, in.Ignore)

	if in.HasOffTime {
		in.Elapsed = p.clock.Now().Sub(offTime)
		log.Printf("policy: running for %d seconds", int(in.Elapsed.Seconds()))
	} else {
		log.Printf("policy: ignition-off time not set")
	}
	in.DistanceM = p.fence.DistanceFromHome()

	d := Decide(in, p.limits)
	log.Printf("policy: clients=%v within_run_time=%v not_at_home=%v -> stay_alive=%v",
		d.ClientsPresent, d.WithinRunTime, d.NotAtHome, d.StayAlive)
	return d
}

// NeedToStayAlive reports whether the host must stay powered.
func (p *Policy) NeedToStayAlive(offTime time.Time) bool {
	return p.Evaluate(offTime).StayAlive
}
