package api

import (
	"net/http"
)

const monitorUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>scand - Signal Monitor</title>
    <style>
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: monospace;
            background: #1a1a2e;
            color: #eee;
            height: 100vh;
            display: flex;
            flex-direction: column;
        }
        header {
            background: #16213e;
            padding: 12px 20px;
            border-bottom: 1px solid #0f3460;
            display: flex;
            justify-content: space-between;
            align-items: center;
        }
        header h1 { font-size: 16px; font-weight: normal; }
        #state {
            padding: 4px 10px;
            border-radius: 4px;
            font-size: 12px;
        }
        #state.running { background: #1b4332; color: #95d5b2; }
        #state.paused { background: #78350f; color: #fcd34d; }
        #state.stopped { background: #7f1d1d; color: #fca5a5; }
        main { flex: 1; overflow-y: auto; padding: 10px; }
        table { width: 100%; border-collapse: collapse; font-size: 13px; }
        th, td {
            text-align: left;
            padding: 6px 12px;
            border-bottom: 1px solid #0f3460;
        }
        th { color: #94a3b8; font-weight: normal; }
        td.value { color: #95d5b2; }
        td.type { color: #94a3b8; }
        tr.stale td.value { color: #64748b; }
        footer {
            background: #16213e;
            padding: 8px 20px;
            border-top: 1px solid #0f3460;
            font-size: 12px;
            color: #94a3b8;
        }
    </style>
</head>
<body>
    <header>
        <h1>scand signal monitor</h1>
        <span id="state">connecting</span>
    </header>
    <main>
        <table>
            <thead>
                <tr><th>Signal</th><th>Type</th><th>Value</th><th>Rev</th><th>Updated</th></tr>
            </thead>
            <tbody id="signals"></tbody>
        </table>
    </main>
    <footer id="stats"></footer>
    <script>
        const rows = new Map();
        const tbody = document.getElementById('signals');

        function upsert(sig) {
            let tr = rows.get(sig.name);
            if (!tr) {
                tr = document.createElement('tr');
                tr.innerHTML = '<td></td><td class="type"></td><td class="value"></td><td></td><td></td>';
                rows.set(sig.name, tr);
                const names = [...rows.keys()].sort();
                tbody.insertBefore(tr, tbody.children[names.indexOf(sig.name)] || null);
            }
            const tds = tr.children;
            tds[0].textContent = sig.name;
            tds[1].textContent = sig.type;
            tds[2].textContent = JSON.stringify(sig.value);
            tds[3].textContent = sig.revision;
            tds[4].textContent = new Date(sig.updated_at).toLocaleTimeString();
        }

        function connect() {
            const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
            const ws = new WebSocket(proto + '//' + location.host + '/ws/signals');
            ws.onmessage = (ev) => upsert(JSON.parse(ev.data));
            ws.onclose = () => setTimeout(connect, 2000);
        }
        connect();

        async function poll() {
            try {
                const r = await fetch('/api/engine');
                const e = await r.json();
                const el = document.getElementById('state');
                el.textContent = e.state;
                el.className = e.state;
                const m = e.metrics;
                document.getElementById('stats').textContent =
                    'scans: ' + m.scan_count +
                    '  overruns: ' + m.overrun_count +
                    '  block errors: ' + m.error_count;
            } catch (err) { /* retry on next tick */ }
        }
        poll();
        setInterval(poll, 1000);
    </script>
</body>
</html>
`

// uiHandler serves the built-in signal monitor page.
func uiHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(monitorUIHTML))
}
