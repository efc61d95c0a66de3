package api

const eventsDocsHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Lifecycle Events — Browser Fleet</title>
  <style>
    *, *::before, *::after { box-sizing: border-box; }

    body {
      margin: 0;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", sans-serif;
      font-size: 14px;
      line-height: 1.65;
      background: #0d1117;
      color: #c9d1d9;
      display: flex;
      flex-direction: column;
      min-height: 100vh;
    }

    a { color: #58a6ff; text-decoration: none; }
    a:hover { text-decoration: underline; }

    nav {
      background: #161b22;
      border-bottom: 1px solid #30363d;
      padding: 0 24px;
      height: 48px;
      display: flex;
      align-items: center;
      gap: 24px;
      flex-shrink: 0;
    }
    nav .brand { font-weight: 600; font-size: 15px; color: #e6edf3; }
    nav .sep { color: #484f58; }
    nav .current { color: #e6edf3; font-weight: 500; }
    nav .back { font-size: 13px; }

    .layout {
      display: flex;
      flex: 1;
      max-width: 1100px;
      width: 100%;
      margin: 0 auto;
      padding: 0 16px;
    }

    aside {
      width: 220px;
      flex-shrink: 0;
      padding: 32px 16px 32px 0;
      border-right: 1px solid #21262d;
    }
    aside h4 {
      margin: 0 0 8px;
      font-size: 11px;
      text-transform: uppercase;
      letter-spacing: 0.08em;
      color: #8b949e;
    }
    aside ul { list-style: none; margin: 0; padding: 0; }
    aside li { margin: 4px 0; }
    aside a { font-size: 13px; color: #c9d1d9; }

    main { flex: 1; padding: 32px 0 64px 32px; min-width: 0; }
    main h1 { margin: 0 0 4px; font-size: 24px; color: #e6edf3; }
    main h2 {
      margin: 36px 0 12px;
      font-size: 18px;
      color: #e6edf3;
      border-bottom: 1px solid #21262d;
      padding-bottom: 6px;
    }
    main h3 { margin: 20px 0 8px; font-size: 14px; color: #e6edf3; }
    .subtitle { color: #8b949e; margin: 0 0 24px; }

    code {
      background: #161b22;
      border: 1px solid #30363d;
      border-radius: 4px;
      padding: 1px 5px;
      font-family: "SFMono-Regular", Consolas, "Liberation Mono", Menlo, monospace;
      font-size: 12.5px;
      color: #c9d1d9;
    }
    pre {
      background: #161b22;
      border: 1px solid #30363d;
      border-radius: 6px;
      padding: 14px 16px;
      overflow-x: auto;
      margin: 0 0 16px;
    }
    pre code { background: none; border: none; padding: 0; font-size: 13px; }

    table {
      width: 100%;
      border-collapse: collapse;
      margin: 0 0 16px;
      font-size: 13px;
    }
    th, td {
      text-align: left;
      padding: 7px 10px;
      border: 1px solid #30363d;
      vertical-align: top;
    }
    th { background: #161b22; color: #e6edf3; font-weight: 600; }

    .endpoint {
      display: flex;
      align-items: center;
      gap: 10px;
      background: #161b22;
      border: 1px solid #30363d;
      border-radius: 6px;
      padding: 10px 14px;
      margin-bottom: 16px;
      font-family: "SFMono-Regular", Consolas, "Liberation Mono", Menlo, monospace;
    }
    .method {
      background: #1f6feb;
      border-radius: 4px;
      color: #fff;
      font-size: 12px;
      font-weight: 600;
      padding: 2px 8px;
    }
    .path { font-size: 13px; color: #c9d1d9; }

    .callout {
      background: #161b22;
      border-left: 3px solid #1f6feb;
      border-radius: 0 6px 6px 0;
      padding: 12px 16px;
      margin-bottom: 20px;
      font-size: 13px;
    }
    .callout.warning { border-color: #d29922; }
    .callout strong { color: #e6edf3; }

    .event-card {
      background: #161b22;
      border: 1px solid #30363d;
      border-radius: 8px;
      padding: 16px 20px;
      margin-bottom: 14px;
    }
    .event-card h3 { margin: 0 0 10px; font-size: 14px; }
    .event-card code { font-size: 13px; }

    .sse-block {
      background: #161b22;
      border: 1px solid #30363d;
      border-radius: 6px;
      padding: 16px;
      margin-bottom: 20px;
      font-family: "SFMono-Regular", Consolas, "Liberation Mono", Menlo, monospace;
      font-size: 13px;
      line-height: 1.8;
    }
    .sse-key { color: #79c0ff; }
    .sse-value { color: #a5d6ff; }
  </style>
</head>
<body>

<nav>
  <span class="brand">Browser Fleet</span>
  <span class="sep">/</span>
  <span class="current">Lifecycle Events</span>
  <a class="back" href="/docs">← REST API Docs</a>
</nav>

<div class="layout">

  <aside>
    <h4>On this page</h4>
    <ul>
      <li><a href="#overview">Overview</a></li>
      <li><a href="#endpoints">Endpoints</a></li>
      <li><a href="#types">Event Types</a></li>
      <li><a href="#sse-format">SSE Event Format</a></li>
      <li><a href="#examples">Examples</a></li>
      <li><a href="#notes">Notes</a></li>
    </ul>
  </aside>

  <main>
    <h1>Lifecycle Events</h1>
    <p class="subtitle">Stream session lifecycle transitions over SSE or WebSocket.</p>

    <h2 id="overview">Overview</h2>
    <p>
      The coordinator publishes an event every time a session changes state:
      created, became ready, failed during startup, destroyed on request, or
      reaped after sitting idle. Subscribers see the whole fleet; the
      <code>types</code> filter narrows the stream to the transitions they
      care about.
    </p>
    <div class="callout">
      <strong>Always on.</strong> The feed needs no configuration. Connect
      whenever the coordinator is running.
    </div>

    <h2 id="endpoints">Endpoints</h2>
    <div class="endpoint">
      <span class="method">GET</span>
      <span class="path">/api/v1/events</span>
    </div>
    <p>Server-Sent Events stream. Stays open until the client disconnects.</p>
    <div class="endpoint">
      <span class="method">GET</span>
      <span class="path">/api/v1/events/ws</span>
    </div>
    <p>Same feed as a WebSocket upgrade. One JSON text frame per event.</p>

    <h3>Query Parameters</h3>
    <table>
      <thead>
        <tr><th>Name</th><th>Type</th><th>Required</th><th>Description</th></tr>
      </thead>
      <tbody>
        <tr>
          <td><code>types</code></td>
          <td>string</td>
          <td>No</td>
          <td>
            Comma-separated list of event types to receive. Omit to receive
            everything. Example: <code>?types=session.failed,session.reaped</code>
          </td>
        </tr>
      </tbody>
    </table>

    <h2 id="types">Event Types</h2>

    <div class="event-card">
      <h3><code>session.created</code></h3>
      <p>A create request was accepted and a worker container is starting.
      The session is not forwardable yet.</p>
    </div>

    <div class="event-card">
      <h3><code>session.ready</code></h3>
      <p>The worker passed its health gate. Forwarded operations are accepted
      from this point on.</p>
    </div>

    <div class="event-card">
      <h3><code>session.failed</code></h3>
      <p>Startup failed (spawn error, health timeout, or destroy during
      startup). The <code>detail</code> field names the reason. All resources
      were rolled back.</p>
    </div>

    <div class="event-card">
      <h3><code>session.destroyed</code></h3>
      <p>The session was torn down by an explicit delete request.</p>
    </div>

    <div class="event-card">
      <h3><code>session.reaped</code></h3>
      <p>The session sat idle past the timeout and the reaper tore it down.
      The <code>detail</code> field carries the idle duration.</p>
    </div>

    <h2 id="sse-format">SSE Event Format</h2>
    <p>Each event follows the standard SSE format. The <code>event</code> field is the event type.</p>
    <div class="sse-block">
      <span class="sse-key">event:</span> <span class="sse-value">session.ready</span><br>
      <span class="sse-key">data:</span> <span class="sse-value">{"type":"session.ready","session_id":"1de2c3a4b5f6","at":"2025-06-01T12:00:05Z"}</span><br>
      <br>
      <span class="sse-key">event:</span> <span class="sse-value">session.reaped</span><br>
      <span class="sse-key">data:</span> <span class="sse-value">{"type":"session.reaped","session_id":"1de2c3a4b5f6","at":"2025-06-01T12:35:05Z","detail":"idle for 30m3s"}</span><br>
      <br>
    </div>
    <p>
      WebSocket subscribers receive the same JSON objects, one per text frame,
      with no SSE framing.
    </p>

    <h2 id="examples">Examples</h2>

    <h3>Browser — EventSource</h3>
    <pre><code>const sse = new EventSource('http://127.0.0.1:8488/api/v1/events');

sse.addEventListener('session.ready', (e) => {
  const evt = JSON.parse(e.data);
  console.log('ready:', evt.session_id);
});

sse.addEventListener('session.reaped', (e) => {
  const evt = JSON.parse(e.data);
  console.log('reaped:', evt.session_id, evt.detail);
});</code></pre>

    <h3>curl</h3>
    <pre><code>curl -N http://127.0.0.1:8488/api/v1/events
curl -N 'http://127.0.0.1:8488/api/v1/events?types=session.failed,session.reaped'</code></pre>

    <h3>WebSocket — websocat</h3>
    <pre><code>websocat ws://127.0.0.1:8488/api/v1/events/ws</code></pre>

    <h2 id="notes">Notes</h2>
    <div class="callout warning">
      <strong>Slow consumers drop events.</strong> Each subscriber gets a
      bounded buffer. When it fills, new events are dropped for that
      subscriber rather than stalling the coordinator. The feed is a
      convenience signal; <code>GET /api/v1/sessions</code> remains the
      source of truth.
    </div>
    <p>
      Events are not persisted. A subscriber that connects after a transition
      will not see it replayed.
    </p>
  </main>

</div>

</body>
</html>`
