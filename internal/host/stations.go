package host

import (
	"log"
	"os"
	"strings"
)

// Default hostapd locations.
const (
	DefaultHostapdControlDir = "/var/run/hostapd"
	DefaultHostapdCLI        = "/usr/sbin/hostapd_cli"
)

// StationLister returns the identifiers (MAC addresses) of the network
// clients currently associated with the host's access point. Failures are
// logged and yield an empty list.
type StationLister interface {
	Stations() []string
}

// HostapdLister asks hostapd_cli for the stations on every interface that
// has a control socket in ControlDir.
type HostapdLister struct {
	ControlDir string
	CLIPath    string
	Run        Runner
}

// NewHostapdLister creates a lister using the given paths and os/exec.
func NewHostapdLister(controlDir, cliPath string) *HostapdLister {
	return &HostapdLister{ControlDir: controlDir, CLIPath: cliPath, Run: ExecRunner}
}

// Interfaces returns the interface names hostapd exposes control sockets for.
func (h *HostapdLister) Interfaces() []string {
	entries, err := os.ReadDir(h.ControlDir)
	if err != nil {
		log.Printf("host: check hostapd config: %v", err)
		return nil
	}
	var ifaces []string
	for _, e := range entries {
		ifaces = append(ifaces, e.Name())
	}
	return ifaces
}

// Stations lists associated stations across all hostapd interfaces.
func (h *HostapdLister) Stations() []string {
	var stations []string
	for _, iface := range h.Interfaces() {
		out, err := h.Run(h.CLIPath, "-i", iface, "list_sta")
		if err != nil {
			log.Printf("host: hostapd_cli list_sta on %s: %v", iface, err)
			continue
		}
		stations = append(stations, parseStations(string(out))...)
	}
	return stations
}

func parseStations(out string) []string {
	var stations []string
	for _, line := range strings.Split(out, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			stations = append(stations, s)
		}
	}
	return stations
}
