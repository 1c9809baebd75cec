package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/growroom-automation/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		secs := int64(d / time.Second)
		if secs >= 86400 {
			return fmt.Sprintf("%dd %02d:%02d", secs/86400, secs%86400/3600, secs%3600/60)
		}
		return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
	},
	"clock": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Local().Format("15:04:05")
	},
	"reading": func(v *float64) string {
		if v == nil {
			return "-"
		}
		return fmt.Sprintf("%.2f", *v)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Growroom Automation</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 960px; margin: 1.5em auto; padding: 0 1em; color: #222; }
h1 { font-size: 1.3em; border-bottom: 2px solid #4a7; }
h2 { font-size: 1.1em; color: #4a7; }
table { border-collapse: collapse; width: 100%; }
th { background: #f3f6f3; }
td, th { padding: 3px 10px; border: 1px solid #e2e2e2; text-align: left; }
.on { color: #1a8a3a; font-weight: 600; }
.off { color: #777; }
.inactive td { color: #aaa; }
.err { color: #c22; }
.connected { color: #1a8a3a; }
.disconnected { color: #c22; }
</style>
</head>
<body>
<h1>Growroom Automation</h1>

<h2>Devices</h2>
<table id="devices">
<tr><th>Device</th><th>Category</th><th>State</th><th>Next on</th><th>Next off</th><th>Reading</th><th>Detail</th></tr>
{{range .Devices}}<tr class="{{if not .Active}}inactive{{end}}">
<td>{{.Name}}</td><td>{{.Category}}</td>
<td id="state-{{.Name}}" class="{{if .On}}on{{else}}off{{end}}">{{if .On}}ON{{else}}OFF{{end}}</td>
<td>{{clock .PendingOn}}</td><td>{{clock .PendingOff}}</td>
<td>{{reading .Reading}}</td>
<td>{{if .Error}}<span class="err">{{.Error}}</span>{{else}}{{.Detail}}{{end}}</td>
</tr>
{{else}}<tr><td colspan="7">no automations</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td id="mqtt" class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Store</th><td>{{.Config.Store}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Ready</th><td>{{if .Ready}}yes{{else}}no{{end}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Instance</th><td>{{.InstanceID}}</td></tr>
<tr><th>Reconcile corrections</th><td>{{.Corrections}}</td></tr>
{{range $name, $n := .Restarts}}<tr><th>Restarts {{$name}}</th><td>{{$n}}</td></tr>
{{end}}{{if .Config.Version}}<tr><th>Version</th><td>{{.Config.Version}}</td></tr>{{end}}
</table>

<script>
(function() {
  var proto = location.protocol === "https:" ? "wss:" : "ws:";
  var ws = new WebSocket(proto + "//" + location.host + "/ws");
  ws.onmessage = function(ev) {
    var st = JSON.parse(ev.data).status;
    (st.devices || []).forEach(function(d) {
      var el = document.getElementById("state-" + d.name);
      if (el) { el.textContent = d.state; el.className = d.state === "ON" ? "on" : "off"; }
    });
    var m = document.getElementById("mqtt");
    m.textContent = st.mqtt.connected ? "connected" : "disconnected";
    m.className = st.mqtt.connected ? "connected" : "disconnected";
  };
  ws.onclose = function() { setTimeout(function() { location.reload(); }, 10000); };
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has an Uptime() method but the template needs a field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
