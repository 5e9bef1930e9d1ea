package host

import (
	"fmt"
	"log"
	"os/exec"

	"github.com/godbus/dbus/v5"
)

// DefaultSystemctl is the systemctl used to halt the host.
const DefaultSystemctl = "/usr/bin/systemctl"

// Halter powers the host off. Halt returns once the request has been
// handed to the OS; the actual power-off happens asynchronously.
type Halter interface {
	Halt() error
}

// SystemctlHalter runs "systemctl halt" without waiting for it.
type SystemctlHalter struct {
	Path string
}

// NewSystemctlHalter creates a halter for the systemctl at path.
func NewSystemctlHalter(path string) *SystemctlHalter {
	return &SystemctlHalter{Path: path}
}

// Halt starts systemctl halt. It fails if systemctl cannot be started.
func (s *SystemctlHalter) Halt() error {
	cmd := exec.Command(s.Path, "halt")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s halt: %w", s.Path, err)
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			log.Printf("host: %s halt: %v", s.Path, err)
		}
	}()
	return nil
}

// LogindHalter asks systemd-logind over the system D-Bus to power off.
type LogindHalter struct {
	// Interactive allows polkit to prompt; always false for a daemon.
	Interactive bool
}

const (
	logindDest   = "org.freedesktop.login1"
	logindPath   = "/org/freedesktop/login1"
	logindMethod = "org.freedesktop.login1.Manager.PowerOff"
)

// Halt calls org.freedesktop.login1.Manager.PowerOff.
func (l *LogindHalter) Halt() error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("connect system bus: %w", err)
	}
	call := conn.Object(logindDest, dbus.ObjectPath(logindPath)).Call(logindMethod, 0, l.Interactive)
	if call.Err != nil {
		return fmt.Errorf("logind PowerOff: %w", call.Err)
	}
	return nil
}
