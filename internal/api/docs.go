package api

const docsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="referrer" content="same-origin" />
  <meta name="viewport" content="width=device-width, initial-scale=1, shrink-to-fit=no" />
  <title>Restriction Watcher API</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
</head>
<body style="height: 100vh; margin: 0; position: relative;">
  <a href="/docs/stream" style="
    position: fixed;
    top: 12px;
    right: 16px;
    z-index: 9999;
    background: #161b22;
    border: 1px solid #30363d;
    border-radius: 6px;
    color: #58a6ff;
    font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif;
    font-size: 12px;
    font-weight: 500;
    padding: 5px 12px;
    text-decoration: none;
  ">Event Stream Docs →</a>
  <elements-api
    apiDescriptionUrl="/openapi.json"
    router="hash"
    layout="sidebar"
    tryItCredentialsPolicy="same-origin"
    darkMode
  />
</body>
</html>`

const streamDocsHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Event Stream — Restriction Watcher</title>
  <style>
    body {
      margin: 0 auto;
      max-width: 860px;
      padding: 24px;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
      font-size: 14px;
      line-height: 1.65;
      background: #0d1117;
      color: #c9d1d9;
    }
    a { color: #58a6ff; text-decoration: none; }
    h1, h2 { color: #e6edf3; }
    code, pre {
      font-family: "SFMono-Regular", Consolas, monospace;
      background: #161b22;
      border: 1px solid #30363d;
      border-radius: 6px;
    }
    code { padding: 1px 5px; }
    pre { padding: 12px 16px; overflow-x: auto; }
    table { border-collapse: collapse; width: 100%; }
    th, td { border: 1px solid #30363d; padding: 6px 10px; text-align: left; }
  </style>
</head>
<body>
  <p><a href="/docs">← REST API docs</a></p>
  <h1>Event Stream</h1>
  <p>Detections and tab changes are pushed live over Server-Sent Events and WebSocket.</p>

  <h2>Endpoints</h2>
  <table>
    <tr><th>Path</th><th>Transport</th><th>Default kinds</th></tr>
    <tr><td><code>/api/v1/alerts/stream</code></td><td>SSE</td><td><code>alert</code></td></tr>
    <tr><td><code>/api/v1/alerts/ws</code></td><td>WebSocket</td><td><code>alert</code></td></tr>
    <tr><td><code>/api/v1/events/stream</code></td><td>SSE</td><td>all</td></tr>
    <tr><td><code>/api/v1/events/ws</code></td><td>WebSocket</td><td>all</td></tr>
  </table>
  <p>Pass <code>?kinds=alert,tab</code> to choose kinds explicitly.</p>

  <h2>Kinds</h2>
  <p><code>alert</code>: a restriction was detected on a watched tab.</p>
  <pre>{"id":"…","session_id":"…","target_id":"…","url":"https://www.linkedin.com/jobs/view/…","message":"Warning: This job has location restrictions that prevent you from applying.","text":"…","at":"2026-01-02T15:04:05Z"}</pre>
  <p><code>tab</code>: a tab was attached or detached.</p>
  <pre>{"type":"attached","tab":{"target_id":"…","url":"…","browser_id":"B0D5A8E8","attached_at":"…"}}</pre>

  <h2>Framing</h2>
  <p>SSE sends <code>event: &lt;kind&gt;</code> and <code>data: &lt;payload&gt;</code>. WebSocket sends one text frame per event:</p>
  <pre>{"kind":"alert","payload":{…}}</pre>
  <p>Slow clients have events dropped rather than stalling the watcher.</p>
</body>
</html>`
