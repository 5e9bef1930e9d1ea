// Package config loads the supervisor's settings: built-in defaults,
// overlaid by an optional TOML file, overlaid by the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/sweeney/carberryd/internal/geofence"
	"github.com/sweeney/carberryd/internal/host"
	"github.com/sweeney/carberryd/internal/policy"
	"github.com/sweeney/carberryd/internal/protocol"
)

// Environment variable names.
const (
	EnvTimer1         = "TIMER1"
	EnvHomeCoord      = "HOME_COORD"
	EnvIgnoreStations = "IGNORE_STATIONS"
)

// Defaults.
const (
	DefaultTimer1         = 300
	MaxTimer1             = 300
	DefaultTimer2         = 20
	DefaultIdleDelay      = 600 * time.Second
	DefaultGPSDTimeout    = 5 * time.Second
	DefaultReconnectPause = time.Second
)

// DefaultHome is a reference point in Amsterdam.
var DefaultHome = geofence.Coordinate{Lat: 52.3566777, Lng: 4.9492952}

// Config is the full supervisor configuration.
type Config struct {
	DeviceAddr string

	// Timer1 and Timer2 are the companion board's ignition timers in
	// seconds. Timer1 is bounded to [0, MaxTimer1].
	Timer1 int
	Timer2 int

	Home           geofence.HomeRegion
	IgnoreStations []string

	HostapdControlDir string
	HostapdCLI        string
	GPSDAddr          string
	GPSDTimeout       time.Duration

	MaxRunTime     time.Duration
	IdleDelay      time.Duration
	KeepAlivePause time.Duration
	ReconnectPause time.Duration
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DeviceAddr:        protocol.DefaultAddr,
		Timer1:            DefaultTimer1,
		Timer2:            DefaultTimer2,
		Home:              geofence.HomeRegion{Center: DefaultHome, RadiusM: policy.DefaultHomeRadiusM},
		HostapdControlDir: host.DefaultHostapdControlDir,
		HostapdCLI:        host.DefaultHostapdCLI,
		GPSDAddr:          geofence.DefaultGPSDAddr,
		GPSDTimeout:       DefaultGPSDTimeout,
		MaxRunTime:        policy.DefaultMaxRunTime,
		IdleDelay:         DefaultIdleDelay,
		KeepAlivePause:    5 * time.Second,
		ReconnectPause:    DefaultReconnectPause,
	}
}

// fileConfig mirrors the TOML file. Pointers distinguish unset from zero.
type fileConfig struct {
	DeviceAddr        string    `toml:"device_addr"`
	Timer1            *int      `toml:"timer1"`
	Timer2            *int      `toml:"timer2"`
	Home              *fileHome `toml:"home"`
	IgnoreStations    []string  `toml:"ignore_stations"`
	HostapdControlDir string    `toml:"hostapd_control_dir"`
	HostapdCLI        string    `toml:"hostapd_cli"`
	GPSDAddr          string    `toml:"gpsd_addr"`
	GPSDTimeout       string    `toml:"gpsd_timeout"`
	MaxRunTime        string    `toml:"max_run_time"`
	IdleDelay         string    `toml:"idle_delay"`
}

type fileHome struct {
	Lat     *float64 `toml:"lat"`
	Lng     *float64 `toml:"lng"`
	RadiusM *float64 `toml:"radius_m"`
}

// Load builds the configuration. An empty path or a missing file leaves
// the defaults in place; environment variables are applied last.
func Load(path string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnv(&cfg, os.Getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("config: %s not found, using defaults", path)
			return nil
		}
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var raw fileConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	if s := strings.TrimSpace(raw.DeviceAddr); s != "" {
		cfg.DeviceAddr = s
	}
	if raw.Timer1 != nil {
		cfg.Timer1 = boundTimer1(*raw.Timer1)
	}
	if raw.Timer2 != nil {
		if *raw.Timer2 < 0 {
			return fmt.Errorf("parse config: timer2 must not be negative, got %d", *raw.Timer2)
		}
		cfg.Timer2 = *raw.Timer2
	}
	if raw.Home != nil {
		if raw.Home.Lat != nil {
			cfg.Home.Center.Lat = *raw.Home.Lat
		}
		if raw.Home.Lng != nil {
			cfg.Home.Center.Lng = *raw.Home.Lng
		}
		if raw.Home.RadiusM != nil {
			cfg.Home.RadiusM = *raw.Home.RadiusM
		}
	}
	if raw.IgnoreStations != nil {
		cfg.IgnoreStations = cleanList(raw.IgnoreStations)
	}
	if s := strings.TrimSpace(raw.HostapdControlDir); s != "" {
		cfg.HostapdControlDir = s
	}
	if s := strings.TrimSpace(raw.HostapdCLI); s != "" {
		cfg.HostapdCLI = s
	}
	if s := strings.TrimSpace(raw.GPSDAddr); s != "" {
		cfg.GPSDAddr = s
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"gpsd_timeout", raw.GPSDTimeout, &cfg.GPSDTimeout},
		{"max_run_time", raw.MaxRunTime, &cfg.MaxRunTime},
		{"idle_delay", raw.IdleDelay, &cfg.IdleDelay},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse config: %s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

// ApplyEnv overlays TIMER1, HOME_COORD and IGNORE_STATIONS. An unusable
// TIMER1 falls back to the default; a malformed HOME_COORD is an error.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if v := strings.TrimSpace(getenv(EnvTimer1)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("config: %s=%q is not a number, using %d", EnvTimer1, v, DefaultTimer1)
			n = DefaultTimer1
		}
		cfg.Timer1 = boundTimer1(n)
	}

	if v := strings.TrimSpace(getenv(EnvHomeCoord)); v != "" {
		c, err := ParseCoordinate(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvHomeCoord, err)
		}
		cfg.Home.Center = c
	}

	if v := getenv(EnvIgnoreStations); v != "" {
		cfg.IgnoreStations = cleanList(strings.Split(v, ","))
	}
	return nil
}

// ParseCoordinate parses "lat,lng".
func ParseCoordinate(s string) (geofence.Coordinate, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return geofence.Coordinate{}, fmt.Errorf("want \"lat,lng\", got %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return geofence.Coordinate{}, fmt.Errorf("latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return geofence.Coordinate{}, fmt.Errorf("longitude: %w", err)
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return geofence.Coordinate{}, fmt.Errorf("coordinate out of range: %q", s)
	}
	return geofence.Coordinate{Lat: lat, Lng: lng}, nil
}

func boundTimer1(n int) int {
	if n < 0 || n > MaxTimer1 {
		log.Printf("config: timer1 %d outside [0, %d], using %d", n, MaxTimer1, DefaultTimer1)
		return DefaultTimer1
	}
	return n
}

func cleanList(items []string) []string {
	out := []string{}
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
