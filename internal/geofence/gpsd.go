package geofence

import (
	"errors"
	"fmt"
	"time"

	gpsd "github.com/stratoberry/go-gpsd"
)

// DefaultGPSDAddr is gpsd's standard listening address.
const DefaultGPSDAddr = "127.0.0.1:2947"

// GPSDLocator reads the first usable TPV report from gpsd.
type GPSDLocator struct {
	addr    string
	timeout time.Duration
}

// NewGPSDLocator creates a locator for the gpsd at addr. Each Fix waits at
// most timeout for a report.
func NewGPSDLocator(addr string, timeout time.Duration) *GPSDLocator {
	return &GPSDLocator{addr: addr, timeout: timeout}
}

// Fix dials gpsd, watches the stream and returns the first 2D or 3D fix.
// The whole exchange, greeting included, is bounded by the locator's
// timeout. A failed dial is reported as ErrUnavailable.
func (l *GPSDLocator) Fix() (Coordinate, error) {
	deadline := time.NewTimer(l.timeout)
	defer deadline.Stop()

	session, err := l.dial(deadline.C)
	if err != nil {
		return Coordinate{}, err
	}

	fixes := make(chan Coordinate, 1)
	session.AddFilter("TPV", func(r interface{}) {
		tpv, ok := r.(*gpsd.TPVReport)
		if !ok || tpv.Mode < gpsd.Mode2D {
			return
		}
		select {
		case fixes <- Coordinate{Lat: tpv.Lat, Lng: tpv.Lon}:
		default:
		}
	})

	done := session.Watch()
	streamEnded := false
	defer func() {
		session.Close()
		if !streamEnded {
			// The watcher reports on done once the socket is closed.
			go func() { <-done }()
		}
	}()

	select {
	case c := <-fixes:
		return c, nil
	case <-done:
		streamEnded = true
		return Coordinate{}, errors.New("gpsd stream ended before a fix")
	case <-deadline.C:
		return Coordinate{}, fmt.Errorf("no fix from gpsd within %v", l.timeout)
	}
}

// dial connects and reads gpsd's greeting. The library reads the greeting
// without a deadline, so a gpsd that accepts but never speaks is given up
// on when expired fires; its session is closed once the dial returns.
func (l *GPSDLocator) dial(expired <-chan time.Time) (*gpsd.Session, error) {
	type result struct {
		session *gpsd.Session
		err     error
	}
	dialed := make(chan result, 1)
	go func() {
		s, err := gpsd.DialTimeout(l.addr, l.timeout)
		dialed <- result{s, err}
	}()

	select {
	case r := <-dialed:
		if r.err != nil {
			return nil, fmt.Errorf("%w: gpsd at %s: %v", ErrUnavailable, l.addr, r.err)
		}
		return r.session, nil
	case <-expired:
		go func() {
			if r := <-dialed; r.session != nil {
				r.session.Close()
			}
		}()
		return nil, fmt.Errorf("gpsd at %s: no greeting within %v", l.addr, l.timeout)
	}
}
