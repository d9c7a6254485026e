package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/lag-sensor/internal/config"
	"github.com/sweeney/lag-sensor/internal/mqtt"
	"github.com/sweeney/lag-sensor/internal/status"
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
	"delay": config.FormatDelay,
	"stamp": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
	"objectID": mqtt.ObjectID,
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Lag Sensor</title>
<style>
body { font-family: monospace; max-width: 900px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.unknown { color: orange; }
.armed { color: green; }
.empty { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Lag Sensor{{if .Config.WSBroker}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Sensors</h2>
{{if .Sensors}}<table>
<tr><th>Name</th><th>Entity</th><th>Delay</th><th>Value</th><th>Observed</th><th>Timer</th><th>Pending</th><th>Emitted</th></tr>
{{range .Sensors}}<tr>
<td>{{.Name}}</td>
<td>{{.EntityID}}</td>
<td>{{delay .Delay}}</td>
<td id="value-{{objectID .Name}}">{{if .HasValue}}{{.Current.Value}}{{if .Current.Unit}} {{.Current.Unit}}{{end}}{{else}}<span class="unknown">unknown</span>{{end}}</td>
<td id="observed-{{objectID .Name}}">{{if .HasValue}}{{stamp .Current.ObservedAt}}{{else}}-{{end}}</td>
<td class="{{if eq (printf "%s" .Stats.State) "ARMED"}}armed{{else}}empty{{end}}">{{if eq (printf "%s" .Stats.State) "ARMED"}}{{stamp .Stats.NextFire}}{{else}}idle{{end}}</td>
<td>{{.Stats.Pending}}</td>
<td>{{.Stats.Counts.Emitted}}</td>
</tr>
{{end}}</table>{{else}}<p>No sensors configured.</p>{{end}}

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Client ID</th><td>{{.Config.ClientID}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Totals</h2>
<table>
<tr><th>Received</th><td>{{.Totals.Received}}</td></tr>
<tr><th>From history</th><td>{{.Totals.Historical}}</td></tr>
<tr><th>Emitted</th><td>{{.Totals.Emitted}}</td></tr>
<tr><th>Dropped</th><td>{{.Totals.Dropped}}</td></tr>
<tr><th>Duplicates</th><td>{{.Totals.Duplicates}}</td></tr>
<tr><th>Emit errors</th><td>{{.Totals.EmitErrors}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{stamp .StartTime}}</td></tr>
<tr><th>Reloads</th><td>{{.Reloads}}{{if .Reloads}} (last {{stamp .LastReload}}){{end}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>History</th><td>{{.Config.History}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
{{if .Config.WSBroker}}
<script src="/mqtt.min.js"></script>
<script>
(function() {
  var broker = "{{.Config.WSBroker}}";
  var topic = "{{.StateFilter}}";
  var dot = document.getElementById("live-dot");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  var client = mqtt.connect(broker, { reconnectPeriod: 5000 });

  client.on("connect", function() {
    setDot("ok", "live");
    client.subscribe(topic);
  });

  client.on("reconnect", function() {
    setDot("pending", "reconnecting");
  });

  client.on("offline", function() {
    setDot("err", "offline");
  });

  client.on("error", function() {
    setDot("err", "error");
  });

  client.on("message", function(t, payload) {
    try {
      var id = t.split("/")[1];
      var msg = JSON.parse(payload.toString()).lag_sensor;
      var v = document.getElementById("value-" + id);
      var o = document.getElementById("observed-" + id);
      if (!msg || !v) return;
      v.textContent = msg.value + (msg.unit_of_measurement ? " " + msg.unit_of_measurement : "");
      if (o) o.textContent = msg.observed_at.replace(/\.\d+Z$/, "Z");
    } catch (e) {}
  });
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	data := struct {
		status.Snapshot
		Uptime      time.Duration
		StateFilter string
	}{
		Snapshot:    snap,
		Uptime:      snap.Uptime(),
		StateFilter: mqtt.TopicPrefix + "/+/state",
	}
	return indexTmpl.Execute(w, data)
}
