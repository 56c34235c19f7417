package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/shaft-encoder/internal/status"
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
	"degrees": func(rad float64) string {
		return fmt.Sprintf("%.2f°", status.Degrees(rad))
	},
	"pin": func(p int) string {
		if p < 0 {
			return "none"
		}
		return fmt.Sprintf("GPIO%d", p)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="2">
<title>Shaft Encoder</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.ok { color: green; font-weight: bold; }
.warn { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Shaft Encoder</h1>

<h2>Angle</h2>
<table>
{{if .Initialized}}<tr><th>Angle</th><td id="angle-deg" class="ok">{{degrees .Angle}}</td></tr>
<tr><th>Radians</th><td id="angle-rad">{{printf "%.4f" .Angle}}</td></tr>
<tr><th>Position</th><td>{{.Position}} / {{.CPR}}</td></tr>
{{else}}<tr><th>Angle</th><td id="angle-deg" class="warn">not initialized</td></tr>
{{end}}<tr><th>Index</th><td>{{if not .HasIndex}}none{{else if .NeedsSearch}}<span class="warn">searching</span>{{else}}found{{end}}</td></tr>
<tr><th>Ready</th><td>{{if and .Initialized .Baselined}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Reference found</th><td>{{.Counts.ReferenceFound}}</td></tr>
<tr><th>Angle</th><td>{{.Counts.Angle}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Pins</th><td>A={{pin .Config.PinA}} B={{pin .Config.PinB}} index={{pin .Config.PinIndex}} ({{.Config.Pull}})</td></tr>
<tr><th>PPR</th><td>{{.Config.PPR}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Deadband</th><td>{{.Config.DeadbandDeg}}°</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
