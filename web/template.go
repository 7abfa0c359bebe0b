package web

// status page template: the websocket pushes "scale:epoch" after each epoch
// and the page refreshes the plot and sample image in place.
const statusPage = `<!DOCTYPE html>
<html>
<head>
<title>training</title>
<style>
body { font-family: sans-serif; background: #222; color: #ddd; margin: 1em; }
table { border-collapse: collapse; }
td { padding: 2px 10px; border: 1px solid #444; }
img { background: #fff; margin: 4px 0; }
a { color: #8cf; }
.row { display: flex; gap: 2em; align-items: flex-start; }
</style>
</head>
<body>
<h3>scale <span id="scale">{{.Snap.Scale}}</span> / {{.Snap.Scales}} &mdash;
epoch <span id="epoch">{{.Snap.Epoch}}</span> of {{.Snap.Epochs}} &mdash;
run time {{.Elapsed}} &mdash; <a href="/stop">stop</a></h3>
<div class="row">
<div>
<img id="plot" src="/plot.svg" width="800" height="400">
<br>
<img id="sample" src="/sample/{{.Snap.Scale}}/{{.Snap.Epoch}}" alt="no sample yet">
</div>
<div>
<table>
<tr><td></td><td>last</td><td>smoothed</td><td>mean</td></tr>
{{range .Losses}}<tr><td>{{.Name}} loss</td><td>{{.Latest}}</td><td>{{.Smooth}}</td><td>{{.Mean}}</td></tr>
{{end}}</table>
<br>
<table>
{{range .Settings}}<tr><td>{{.Name}}</td><td>{{.Value}}</td></tr>
{{end}}</table>
</div>
</div>
<script>
var ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = function(ev) {
	var parts = ev.data.split(":");
	document.getElementById("scale").textContent = parts[0];
	document.getElementById("epoch").textContent = parts[1];
	document.getElementById("plot").src = "/plot.svg?t=" + Date.now();
	document.getElementById("sample").src = "/sample/" + parts[0] + "/" + parts[1];
};
</script>
</body>
</html>
`
