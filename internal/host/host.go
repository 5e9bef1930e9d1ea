// Package host wraps the operating-system facilities the supervisor relies
// on: listing Wi-Fi clients associated with hostapd and powering the host off.
package host

import "os/exec"

// Runner executes a command and returns its standard output.
type Runner func(name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}
