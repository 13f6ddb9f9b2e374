package httpapi

// panelTemplate renders Snapshot as a minimal operator status page. Kept
// deliberately plain (no JS, no build step) in the same spirit as the
// inline-HTML admin pages elsewhere in this codebase's ancestry.
const panelTemplate = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>walkie-talkie admin</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem; background: #111; color: #eee; }
table { border-collapse: collapse; width: 100%; margin-bottom: 2rem; }
th, td { border: 1px solid #444; padding: 0.4rem 0.6rem; text-align: left; }
th { background: #222; }
h1 { font-size: 1.2rem; }
.muted { color: #888; }
</style>
</head>
<body>
<h1>walkie-talkie relay — uptime {{.Uptime}}</h1>

<h2>Channels</h2>
<table>
<tr><th>Name</th><th>Owner</th><th>Users</th><th>Members</th></tr>
{{range .Channels}}
<tr><td>{{.Name}}</td><td>{{.Owner}}</td><td>{{.UserCount}}</td><td>{{range .Users}}{{.}} {{end}}</td></tr>
{{end}}
</table>

<h2>Sessions</h2>
<table>
<tr><th>Name</th><th>Channel</th><th>Talking</th><th>Muted</th><th>Queue</th></tr>
{{range .Sessions}}
<tr><td>{{.Name}}</td><td class="muted">{{.Channel}}</td><td>{{.Talking}}</td><td>{{.Muted}}</td><td>{{.QueueSize}}</td></tr>
{{end}}
</table>
</body>
</html>
`
