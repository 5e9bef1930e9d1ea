// Command carberryd supervises a vehicle single-board computer through the
// Carberry companion board: it keeps the host awake after the ignition goes
// off while it is still useful, and powers it down cleanly otherwise.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/carberryd/internal/clock"
	"github.com/sweeney/carberryd/internal/config"
	"github.com/sweeney/carberryd/internal/geofence"
	"github.com/sweeney/carberryd/internal/host"
	"github.com/sweeney/carberryd/internal/ignition"
	"github.com/sweeney/carberryd/internal/led"
	"github.com/sweeney/carberryd/internal/mqtt"
	"github.com/sweeney/carberryd/internal/policy"
	"github.com/sweeney/carberryd/internal/protocol"
	"github.com/sweeney/carberryd/internal/status"
	"github.com/sweeney/carberryd/internal/telemetry"
	"github.com/sweeney/carberryd/internal/web"
)

// dialTimeout bounds each TCP connect to the board's daemon.
const dialTimeout = 5 * time.Second

type options struct {
	configPath   string
	broker       string
	httpAddr     string
	ledPin       int
	halt         string
	telemetry    bool
	telemetryDir string
	redisAddr    string
	quietWire    bool
	probe        bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "/etc/carberryd.toml", "TOML config file (missing file uses defaults)")
	flag.StringVar(&o.broker, "broker", "tcp://localhost:1883", "MQTT broker address (empty to disable)")
	flag.StringVar(&o.httpAddr, "http", ":80", "HTTP status address (empty to disable)")
	flag.IntVar(&o.ledPin, "led-pin", led.DefaultPin, "BCM pin for the keep-awake LED (-1 to disable)")
	flag.StringVar(&o.halt, "halt", "systemctl", `How to power off the host: "systemctl" or "logind"`)
	flag.BoolVar(&o.telemetry, "telemetry", false, "Poll engine data over OBD on a second connection")
	flag.StringVar(&o.telemetryDir, "telemetry-dir", telemetry.DefaultFileDir, "Directory for per-metric telemetry files")
	flag.StringVar(&o.redisAddr, "redis", "", "Redis address for telemetry (empty to disable)")
	flag.BoolVar(&o.quietWire, "quiet-wire", false, "Do not log every line sent to and read from the board")
	flag.BoolVar(&o.probe, "probe", false, "Handshake with the board, print the result and exit")

	flag.Parse()

	if err := run(o); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(o options) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Probe mode
	if o.probe {
		link, err := protocol.Dial(cfg.DeviceAddr, dialTimeout, protocol.Options{Trace: !o.quietWire})
		if err != nil {
			return err
		}
		defer link.Close()
		if err := link.Handshake(); err != nil {
			return err
		}
		fmt.Printf("%s: OK\n", cfg.DeviceAddr)
		return nil
	}

	halter, err := newHalter(o.halt)
	if err != nil {
		return err
	}

	clk := clock.Real()
	fence := geofence.New(geofence.NewGPSDLocator(cfg.GPSDAddr, cfg.GPSDTimeout), cfg.Home)
	stations := host.NewHostapdLister(cfg.HostapdControlDir, cfg.HostapdCLI)
	pol := policy.New(stations, cfg.IgnoreStations, fence, clk, policy.Limits{
		MaxRunTime:  cfg.MaxRunTime,
		HomeRadiusM: cfg.Home.RadiusM,
	})

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		DeviceAddr:     cfg.DeviceAddr,
		Broker:         o.broker,
		HTTPPort:       o.httpAddr,
		Timer1:         cfg.Timer1,
		Timer2:         cfg.Timer2,
		MaxRunTime:     cfg.MaxRunTime,
		HomeLat:        cfg.Home.Center.Lat,
		HomeLng:        cfg.Home.Center.Lng,
		HomeRadiusM:    cfg.Home.RadiusM,
		IgnoreStations: cfg.IgnoreStations,
		Telemetry:      o.telemetry,
	})
	tracker.SetGeofenceEnabled(fence.Enabled())

	// Initialize MQTT
	var publisher mqtt.Publisher
	var mqttStatus mqtt.ConnectionStatus
	if o.broker != "" {
		p, err := mqtt.NewRealPublisher(o.broker, mqtt.DefaultClientID)
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer p.Close()
		publisher, mqttStatus = p, p
	}

	// Initialize LED
	var indicator *led.Indicator
	if o.ledPin >= 0 {
		line, err := led.NewRealLine(o.ledPin)
		if err != nil {
			log.Printf("led disabled: %v", err)
		} else {
			defer line.Close()
			indicator = led.NewIndicator(line)
		}
	}

	obs := &observer{clock: clk, tracker: tracker, publisher: publisher, led: indicator, fence: fence}
	machine := ignition.New(nil, pol, halter, clk, ignition.Options{
		KeepAlivePause: cfg.KeepAlivePause,
		Observer:       obs,
	})

	d := &daemon{
		cfg:       cfg,
		clock:     clk,
		machine:   machine,
		tracker:   tracker,
		publisher: publisher,
	}
	d.dial = func() (*protocol.Link, error) {
		return protocol.Dial(cfg.DeviceAddr, dialTimeout, protocol.Options{
			Trace:     !o.quietWire,
			OnAnomaly: d.onAnomaly,
		})
	}

	// Publish startup event with full status snapshot
	if publisher != nil {
		refreshMQTT(tracker, mqttStatus)
		snap := tracker.Snapshot()
		startupEvent := mqtt.SystemEvent{
			Timestamp:  snap.Now,
			Event:      "STARTUP",
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
		}
		if err := publisher.PublishSystem(startupEvent); err != nil {
			log.Printf("failed to publish startup event: %v", err)
		} else {
			log.Printf("published startup event")
		}
	}

	// Start HTTP status server
	if o.httpAddr != "" {
		srv := web.New(o.httpAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", o.httpAddr)
	}

	if o.telemetry {
		sinks, closeSinks := telemetrySinks(o, tracker)
		defer closeSinks()
		go runTelemetry(cfg, clk, sinks, !o.quietWire)
	}

	log.Printf("started: device=%s timer1=%d timer2=%d home=%.7f,%.7f radius=%.0fm max_run_time=%v ignore=%v",
		cfg.DeviceAddr, cfg.Timer1, cfg.Timer2, cfg.Home.Center.Lat, cfg.Home.Center.Lng,
		cfg.Home.RadiusM, cfg.MaxRunTime, cfg.IgnoreStations)

	go d.supervise()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return waitForSignal(sigCh, d, tracker, publisher, mqttStatus, time.Now)
}

// waitForSignal blocks until a signal arrives, then publishes SHUTDOWN.
// The event loop is not interrupted; returning lets main exit.
func waitForSignal(sig <-chan os.Signal, d *daemon, tracker *status.Tracker, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, now func() time.Time) error {
	s := <-sig
	log.Printf("received %v, shutting down", s)
	d.Stop()

	if publisher == nil {
		return nil
	}
	signalName := "UNKNOWN"
	if s == syscall.SIGINT {
		signalName = "SIGINT"
	} else if s == syscall.SIGTERM {
		signalName = "SIGTERM"
	}
	refreshMQTT(tracker, mqttStatus)
	event := mqtt.SystemEvent{
		Timestamp:  now(),
		Event:      "SHUTDOWN",
		Reason:     signalName,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(tracker.Snapshot(), "SHUTDOWN", signalName),
	}
	if err := publisher.PublishSystem(event); err != nil {
		log.Printf("failed to publish shutdown event: %v", err)
	} else {
		log.Printf("published shutdown event")
	}
	return nil
}

func refreshMQTT(tracker *status.Tracker, mqttStatus mqtt.ConnectionStatus) {
	if mqttStatus != nil {
		tracker.SetMQTTConnected(mqttStatus.IsConnected())
	}
}

func newHalter(method string) (host.Halter, error) {
	switch method {
	case "systemctl":
		return host.NewSystemctlHalter(host.DefaultSystemctl), nil
	case "logind":
		return &host.LogindHalter{}, nil
	default:
		return nil, fmt.Errorf("unknown halt method %q (want systemctl or logind)", method)
	}
}

// telemetrySinks builds the configured sinks. A sink that cannot be
// opened is logged and skipped.
func telemetrySinks(o options, tracker *status.Tracker) ([]telemetry.Sink, func()) {
	sinks := []telemetry.Sink{
		telemetry.SinkFunc(func(m telemetry.Metric, v float64) error {
			tracker.SetMetric(m.Name, v)
			return nil
		}),
	}
	closers := []func() error{}

	if fs, err := telemetry.NewFileSink(o.telemetryDir); err != nil {
		log.Printf("telemetry: file sink disabled: %v", err)
	} else {
		sinks = append(sinks, fs)
	}
	if o.redisAddr != "" {
		rs, err := telemetry.NewRedisSink(o.redisAddr, telemetry.DefaultRedisKey)
		if err != nil {
			log.Printf("telemetry: redis sink disabled: %v", err)
		} else {
			sinks = append(sinks, rs)
			closers = append(closers, rs.Close)
		}
	}

	return sinks, func() {
		for _, c := range closers {
			c()
		}
	}
}

// runTelemetry polls over its own connection so OBD traffic never delays
// ignition events. It stops for good once the poller gives up.
func runTelemetry(cfg config.Config, clk clock.Clock, sinks []telemetry.Sink, trace bool) {
	for {
		link, err := protocol.Dial(cfg.DeviceAddr, dialTimeout, protocol.Options{Trace: trace})
		if err == nil {
			err = link.Handshake()
		}
		if err != nil {
			log.Printf("telemetry: connect: %v, retrying in %v", err, cfg.ReconnectPause)
			clk.Sleep(cfg.ReconnectPause)
			continue
		}

		p := telemetry.NewPoller(link, clk, sinks, telemetry.Options{IdleDelay: cfg.IdleDelay})
		err = p.Prepare()
		if err == nil {
			err = p.Run()
		}
		link.Close()
		if err == nil {
			log.Printf("telemetry: stopped")
			return
		}
		log.Printf("telemetry: %v, reconnecting in %v", err, cfg.ReconnectPause)
		clk.Sleep(cfg.ReconnectPause)
	}
}
