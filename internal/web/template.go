package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/westinghouse/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		switch {
		case days > 0:
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		case h > 0:
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		case m > 0:
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"playerState": func(p status.Player) string {
		if !p.Reachable || p.State == "" {
			return "UNKNOWN"
		}
		return p.State
	},
	"onOff": func(on bool) string {
		if on {
			return "ON"
		}
		return "OFF"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Westinghouse</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 35%; }
.on, .connected, .POLLING { color: green; font-weight: bold; }
.off { color: #888; }
.unknown, .STARTING, .DISPATCHING { color: orange; }
.disconnected, .STOPPED { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; background: orange; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
</style>
</head>
<body>
<h1>Westinghouse<span id="live-dot" class="live-dot" title="connecting"></span></h1>

<h2>Player</h2>
<table>
<tr><th>Address</th><td>{{.Config.PlayerAddr}}</td></tr>
<tr><th>Reachable</th><td id="player-reachable" class="{{if .Player.Reachable}}connected{{else}}disconnected{{end}}">{{if .Player.Reachable}}yes{{else}}no{{end}}</td></tr>
<tr><th>State</th><td id="player-state">{{playerState .Player}}</td></tr>
<tr><th>Volume</th><td id="player-volume">{{if ge .Player.Volume 0}}{{.Player.Volume}}{{else}}-{{end}}</td></tr>
</table>

<h2>Controls</h2>
<table id="controls">
<tr><th>Name</th><td>Phase / last event / dispatches / errors</td></tr>
{{range .Controls}}<tr><th>{{.Name}} <small>({{.Kind}} {{.Pins}})</small></th><td id="control-{{.Name}}"><span class="{{.Phase}}">{{.Phase}}</span> {{if .LastEvent}}{{.LastEvent}}{{else}}-{{end}} / {{.Dispatches}} / {{.Errors}}{{if .LastError}} <small>{{.LastError}}</small>{{end}}</td></tr>
{{end}}</table>

<h2>Lamps</h2>
<table>
{{range $name, $on := .Lamps}}<tr><th>{{$name}}</th><td id="lamp-{{$name}}" class="{{if $on}}on{{else}}off{{end}}">{{onOff $on}}</td></tr>
{{else}}<tr><th>-</th><td>none configured</td></tr>
{{end}}</table>

<h2>System</h2>
<table>
<tr><th>Ready</th><td>{{if .Ready}}yes{{else}}no{{end}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}{{if .Config.Broker}} ({{.Config.Broker}}){{end}}</td></tr>
<tr><th>GPIO chip</th><td>{{.Config.Chip}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }
  function text(id, v) {
    var el = document.getElementById(id);
    if (el) { el.textContent = v; }
  }
  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try {
        var s = JSON.parse(ev.data).status;
        text("player-reachable", s.player.reachable ? "yes" : "no");
        text("player-state", s.player.state);
        text("player-volume", s.player.volume >= 0 ? s.player.volume : "-");
        Object.keys(s.lamps || {}).forEach(function(k) {
          text("lamp-" + k, s.lamps[k] ? "ON" : "OFF");
        });
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// The template needs fields, not methods with arguments.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Ready  bool
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Ready:    snap.Ready(),
	}
	return indexTmpl.Execute(w, data)
}
