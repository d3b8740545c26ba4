package web

import (
	"fmt"
	"html/template"
	"io"
	"math"
	"time"

	"github.com/sweeney/kiln-controller/internal/status"
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
	"temp": func(v float64) string {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "no reading"
		}
		return fmt.Sprintf("%.1f", v)
	},
	"percent": func(v float64) string {
		return fmt.Sprintf("%.0f%%", v*100)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Kiln Controller</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: #c40; font-weight: bold; }
.off { color: #888; }
.fault { color: red; font-weight: bold; }
.masked { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Kiln Controller</h1>

<h2>Firing</h2>
<table>
<tr><th>State</th><td id="state">{{.State}}</td></tr>
{{if .SessionID}}<tr><th>Profile</th><td>{{.Profile}}</td></tr>
<tr><th>Session</th><td>{{.SessionID}}</td></tr>
<tr><th>Started</th><td>{{.SessionStart.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Elapsed</th><td>{{uptime .Elapsed}}</td></tr>
<tr><th>Target</th><td>{{temp .Setpoint}}°{{.Config.Unit}}</td></tr>
<tr><th>Measured</th><td>{{temp .Measured}}°{{.Config.Unit}}</td></tr>
<tr><th>Heating</th><td class="{{if .Heating}}on{{else}}off{{end}}">{{if .Heating}}ON{{else}}OFF{{end}} ({{percent .Output}})</td></tr>
<tr><th>Sensor</th><td class="{{if .Fault.Active}}fault{{else if .Fault.Suppressed}}masked{{end}}">{{if .Fault.Active}}FAULT since {{.Fault.Since.UTC.Format "15:04:05"}}, {{.Fault.Attempts}} failed reads: {{.Fault.LastError}}{{else if .Fault.Suppressed}}masked near peak: {{.Fault.LastError}}{{else}}ok{{end}}</td></tr>
<tr><th>Ticks</th><td>{{.Ticks}}</td></tr>{{end}}
{{if .LastError}}<tr><th>Last error</th><td class="fault">{{.LastError}}</td></tr>{{end}}
</table>

<p>
<select id="profile">{{range .Profiles}}<option>{{.}}</option>{{else}}<option value="">no profiles</option>{{end}}</select>
<button onclick="start()">Start</button>
<button onclick="stop()">Stop</button>
</p>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>Suppress above</th><td>{{if eq .Config.SuppressAbove 0.0}}disabled{{else}}{{temp .Config.SuppressAbove}}°{{.Config.Unit}}{{end}}</td></tr>
<tr><th>Status messages</th><td>{{if eq .Config.StatusIntervalMs 0}}disabled{{else}}{{.Config.StatusIntervalMs}}ms{{end}}</td></tr>
<tr><th>Fault repeats</th><td>{{.Config.FaultIntervalMs}}ms</td></tr>
<tr><th>Audit logs</th><td>{{.Config.AuditDir}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> <a href="/api/profiles">Profiles</a></p>
<script>
function post(path, body) {
  return fetch(path, {
    method: "POST",
    headers: {"Content-Type": "application/json"},
    body: body ? JSON.stringify(body) : undefined
  }).then(function(r) { return r.json(); });
}
function start() {
  var name = document.getElementById("profile").value;
  post("/api/start", {profile: name}).then(function(d) {
    if (d.error) { alert(d.error); } else { location.reload(); }
  });
}
function stop() {
  post("/api/stop").then(function() { location.reload(); });
}
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, profiles []string) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime   time.Duration
		Profiles []string
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Profiles: profiles,
	}
	indexTmpl.Execute(w, data)
}
