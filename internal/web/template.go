package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/ir-turret/internal/status"
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
			return "unknown"
		}
		return s
	},
	"cm": func(v float64) string {
		return fmt.Sprintf("%.1fcm", v)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>IR Turret</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.idle { color: #888; }
.aiming { color: green; font-weight: bold; }
.firing { color: red; font-weight: bold; }
.range-guard { color: orange; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>IR Turret</h1>

<h2>State</h2>
<table>
<tr><th>Controller</th><td class="{{stateOrUnknown .State}}">{{stateOrUnknown .State}}</td></tr>
<tr><th>Obstructed</th><td>{{if .Obstructed}}yes{{else}}no{{end}}</td></tr>
<tr><th>Pan / Tilt / Trigger</th><td>{{.Targets.Pan}}&deg; / {{.Targets.Tilt}}&deg; / {{.Targets.Trigger}}&deg;</td></tr>
{{if not .LastCommand.At.IsZero}}<tr><th>Last command</th><td>{{.LastCommand.Button}}{{if .LastCommand.Repeat}} (repeat){{end}} at {{.LastCommand.At.UTC.Format "15:04:05Z"}}</td></tr>{{end}}
{{if not .LastRange.At.IsZero}}<tr><th>Last range</th><td>{{if .LastRange.Valid}}{{cm .LastRange.DistanceCM}}{{else}}invalid{{end}} at {{.LastRange.At.UTC.Format "15:04:05Z"}}</td></tr>{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}} — {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Commands</th><td>{{.Counts.Commands}}</td></tr>
<tr><th>Repeats</th><td>{{.Counts.Repeats}}</td></tr>
<tr><th>Fires</th><td>{{.Counts.Fires}}</td></tr>
<tr><th>Ranges</th><td>{{.Counts.Ranges}}</td></tr>
<tr><th>Invalid ranges</th><td>{{.Counts.InvalidRanges}}</td></tr>
<tr><th>Dropped edges</th><td>{{.Counts.DroppedEdges}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>Range guard</th><td>{{.Config.GuardPolicy}}{{if ne .Config.GuardPolicy "off"}} at {{cm .Config.GuardDistanceCM}}{{end}}</td></tr>
<tr><th>Temperature</th><td>{{.Config.TempC}}&deg;C</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
