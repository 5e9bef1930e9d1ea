// Package clock abstracts wall time and blocking pauses so the daemon's
// named delays (reconnect pause, keep-alive pause, telemetry backoff) can be
// driven deterministically in tests.
package clock

import "time"

// Clock provides the current time and a blocking sleep.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }
