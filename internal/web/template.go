package web

import (
	"fmt"
	"html/template"
	"io"
	"sort"
	"time"

	"github.com/sweeney/carberryd/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"stateOrUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
	"utc": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
	"yesno": func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="{{.Refresh}}">
<title>carberryd</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.alert { background: #fee; border: 1px solid red; padding: 6px 8px; }
</style>
</head>
<body>
<h1>carberryd</h1>
{{if not .LinkConnected}}<p id="link-down" class="alert">Carberry link down ({{.Reconnects}} reconnects so far)</p>
{{end}}
<h2>Vehicle</h2>
<table>
<tr><th>Ignition</th><td id="ignition" class="{{if eq (stateOrUnknown .Ignition) "ON"}}on{{else if eq (stateOrUnknown .Ignition) "OFF"}}off{{else}}unknown{{end}}">{{stateOrUnknown .Ignition}}</td></tr>
<tr><th>Ignition off since</th><td>{{utc .OffTime}}</td></tr>
<tr><th>Shutdown in progress</th><td>{{yesno .ShutdownInProgress}}</td></tr>
</table>
{{with .LastDecision}}
<h2>Last Decision ({{utc $.LastDecisionAt}})</h2>
<table>
<tr><th>Stay alive</th><td class="{{if .StayAlive}}on{{else}}off{{end}}">{{yesno .StayAlive}}</td></tr>
<tr><th>Clients present</th><td>{{yesno .ClientsPresent}}{{range .Relevant}} {{.}}{{end}}</td></tr>
<tr><th>Within run time</th><td>{{yesno .WithinRunTime}} ({{.Elapsed}})</td></tr>
<tr><th>Not at home</th><td>{{yesno .NotAtHome}} ({{printf "%.1f" .DistanceM}} m)</td></tr>
</table>
{{end}}
<h2>Connectivity</h2>
<table>
<tr><th>Carberry</th><td class="{{if .LinkConnected}}connected{{else}}disconnected{{end}}">{{if .LinkConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Device</th><td>{{.Config.DeviceAddr}}</td></tr>
<tr><th>Reconnects</th><td>{{.Reconnects}}</td></tr>
<tr><th>Reply anomalies</th><td>{{.LinkAnomalies}}</td></tr>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Geofence</th><td>{{if .GeofenceEnabled}}enabled{{else}}disabled{{end}}</td></tr>
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Ignition OFF</th><td>{{.Counts.IgnitionOff}}</td></tr>
<tr><th>Ignition ON</th><td>{{.Counts.IgnitionOn}}</td></tr>
<tr><th>GOTOSLEEP</th><td>{{.Counts.GoToSleep}}</td></tr>
<tr><th>Keep-alives</th><td>{{.Counts.KeepAlives}} ({{.Counts.KeepAliveFailures}} refused)</td></tr>
<tr><th>Power-offs</th><td>{{.Counts.PowerOffs}}</td></tr>
<tr><th>Unknown events</th><td>{{.Counts.UnknownEvents}}</td></tr>
</table>
{{if .MetricNames}}
<h2>Telemetry</h2>
<table>
{{range .MetricNames}}<tr><th>{{.}}</th><td>{{index $.Metrics .}}</td></tr>
{{end}}</table>
{{end}}
<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{utc .StartTime}}</td></tr>
<tr><th>Ignition timers</th><td>{{.Config.Timer1}}s / {{.Config.Timer2}}s</td></tr>
<tr><th>Max run time</th><td>{{.Config.MaxRunTime}}</td></tr>
<tr><th>Home</th><td>{{.Config.HomeLat}}, {{.Config.HomeLng}} (r={{.Config.HomeRadiusM}} m)</td></tr>
<tr><th>Ignored stations</th><td>{{range .Config.IgnoreStations}}{{.}} {{else}}-{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

// refreshSeconds is how often the page reloads itself: quickly while the
// board link is down so a reconnect shows up promptly.
func refreshSeconds(snap status.Snapshot) int {
	if !snap.LinkConnected {
		return 3
	}
	return 10
}

func renderHTML(w io.Writer, snap status.Snapshot) {
	names := make([]string, 0, len(snap.Metrics))
	for k := range snap.Metrics {
		names = append(names, k)
	}
	sort.Strings(names)

	data := struct {
		status.Snapshot
		Uptime      time.Duration
		MetricNames []string
		Refresh     int
	}{
		Snapshot:    snap,
		Uptime:      snap.Uptime(),
		MetricNames: names,
		Refresh:     refreshSeconds(snap),
	}
	indexTmpl.Execute(w, data)
}
