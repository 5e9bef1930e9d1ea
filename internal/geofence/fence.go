package geofence

import (
	"errors"
	"log"
)

// ErrUnavailable marks a location service that cannot be reached at all.
// A Fence that sees it stops asking for the rest of the process lifetime.
var ErrUnavailable = errors.New("location service unavailable")

// Fallback is the coordinate used whenever no fix is available. Against any
// realistic home it is far away, so the vehicle is treated as not at home.
var Fallback = Coordinate{Lat: 0, Lng: 0}

// Locator fetches one coordinate fix.
type Locator interface {
	Fix() (Coordinate, error)
}

// Fence measures distance from home. Not safe for concurrent use.
type Fence struct {
	locator Locator
	home    HomeRegion
	enabled bool
}

// New creates an enabled Fence.
func New(locator Locator, home HomeRegion) *Fence {
	return &Fence{locator: locator, home: home, enabled: locator != nil}
}

// Enabled reports whether the location service is still consulted.
func (f *Fence) Enabled() bool {
	return f.enabled
}

// DistanceFromHome returns the current distance from home in meters.
//
// Once the locator reports ErrUnavailable the Fence disables itself for
// good and every call measures from Fallback. Other fetch errors use
// Fallback for that call only.
func (f *Fence) DistanceFromHome() float64 {
	loc := Fallback
	if f.enabled {
		fix, err := f.locator.Fix()
		switch {
		case errors.Is(err, ErrUnavailable):
			f.enabled = false
			log.Printf("geofence: %v; disabling location checks", err)
		case err != nil:
			log.Printf("geofence: no fix: %v", err)
		default:
			loc = fix
		}
	}

	dist := Distance(loc, f.home.Center)
	if loc != Fallback {
		log.Printf("geofence: %.2f m from home, at (%f,%f)", dist, loc.Lat, loc.Lng)
	}
	return dist
}
