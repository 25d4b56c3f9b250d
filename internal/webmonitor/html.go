package webmonitor

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>seesafe monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: sans-serif; background: #111; color: #eee; margin: 0; padding: 16px; }
        .banner { font-size: 28px; padding: 16px; border-radius: 8px; background: #234; }
        .banner.nearby { background: #a22; }
        table { border-collapse: collapse; margin-top: 16px; width: 100%; }
        td, th { border-bottom: 1px solid #333; padding: 4px 8px; text-align: left; }
        .stats { margin-top: 16px; color: #9ab; font-size: 14px; }
    </style>
</head>
<body>
    <div class="banner" id="banner">Waiting for frames...</div>
    <div class="stats" id="stats"></div>
    <table>
        <thead><tr><th>name</th><th>confidence</th><th>depth</th><th>box</th></tr></thead>
        <tbody id="obstacles"></tbody>
    </table>
<script>
const banner = document.getElementById('banner');
const rows = document.getElementById('obstacles');
const stats = document.getElementById('stats');

new EventSource('/api/obstacles/stream').onmessage = (e) => {
    const ev = JSON.parse(e.data);
    banner.classList.toggle('nearby', ev.nearby);
    banner.textContent = ev.nearby ? 'Warning! Nearby object detected!' : 'No nearby objects.';
    rows.innerHTML = '';
    for (const o of ev.obstacles) {
        const tr = document.createElement('tr');
        tr.innerHTML = '<td>' + o.name + '</td><td>' + o.confidence.toFixed(2) + '</td><td>' +
            o.depth.toFixed(1) + '</td><td>' + [o.x1, o.y1, o.x2, o.y2].join(', ') + '</td>';
        rows.appendChild(tr);
    }
};

new EventSource('/api/status/stream').onmessage = (e) => {
    const st = JSON.parse(e.data);
    stats.textContent = 'device ' + (st.device.deviceId || '-') +
        ' | fps ' + st.frames.current_fps.toFixed(1) +
        ' | latency ' + st.frames.cycle_latency_ms + 'ms' +
        ' | skipped ' + st.frames.frames_skipped +
        ' | samples ' + st.telemetry.samples_pending +
        ' | chunks ' + st.telemetry.chunks_sent + '/' + st.telemetry.chunks_dropped + ' dropped';
};
</script>
</body>
</html>
`
