// Package led drives a status LED on a GPIO output line.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package led

import "log"

// DefaultPin is the BCM line the LED is wired to.
const DefaultPin = 17

// Line is a single GPIO output.
type Line interface {
	// Set drives the line high (on) or low.
	Set(on bool) error

	// Close releases GPIO resources.
	Close() error
}

// Indicator lights the LED while the host is being held awake after the
// ignition went off. Set errors are logged, never returned.
type Indicator struct {
	line Line
	on   bool
}

// NewIndicator creates an Indicator and switches the LED off.
func NewIndicator(line Line) *Indicator {
	i := &Indicator{line: line, on: true}
	i.Set(false)
	return i
}

// Set switches the LED, skipping redundant writes.
func (i *Indicator) Set(on bool) {
	if i == nil || i.line == nil || i.on == on {
		return
	}
	if err := i.line.Set(on); err != nil {
		log.Printf("led: set %v: %v", on, err)
		return
	}
	i.on = on
}

// On reports the last state successfully written.
func (i *Indicator) On() bool {
	return i != nil && i.on
}
