package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// parseKinds reads the optional ?kinds=alert,tab filter, falling back to
// defaults. nil accepts all.
func parseKinds(r *http.Request, defaults []string) map[string]bool {
	kinds := defaults
	if q := r.URL.Query().Get("kinds"); q != "" {
		kinds = strings.Split(q, ",")
	}
	if len(kinds) == 0 {
		return nil
	}
	filter := make(map[string]bool)
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			filter[k] = true
		}
	}
	if len(filter) == 0 {
		return nil
	}
	return filter
}

// SSEHandler returns an http.HandlerFunc that streams events as SSE. With no
// ?kinds query only defaultKinds are sent, or everything when none are given.
func SSEHandler(broker *Broker, defaultKinds ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		filter := parseKinds(r, defaultKinds)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)

		for {
			select {
			case <-r.Context().Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if filter != nil && !filter[evt.Kind] {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, evt.Payload)
				flusher.Flush()
			}
		}
	}
}

type wsMessage struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// WSHandler returns an http.HandlerFunc that streams events over a
// WebSocket as text frames holding {"kind":..., "payload":...}.
func WSHandler(broker *Broker, defaultKinds ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := parseKinds(r, defaultKinds)

		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			slog.Debug("stream websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		defer func() { _ = conn.Close() }()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Clients only ever send control frames; the connection ends on
		// close or read error.
		go func() {
			defer cancel()
			for {
				h, err := ws.ReadHeader(conn)
				if err != nil {
					return
				}
				if _, err := io.CopyN(io.Discard, conn, h.Length); err != nil {
					return
				}
				if h.OpCode == ws.OpClose {
					return
				}
			}
		}()

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)
		slog.Debug("stream websocket client connected", "remote", r.RemoteAddr, "subscriber_id", id)

		for {
			select {
			case <-ctx.Done():
				_ = ws.WriteFrame(conn, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if filter != nil && !filter[evt.Kind] {
					continue
				}
				msg, err := json.Marshal(wsMessage{Kind: evt.Kind, Payload: json.RawMessage(evt.Payload)})
				if err != nil {
					continue
				}
				if err := wsutil.WriteServerText(conn, msg); err != nil {
					slog.Debug("stream websocket write failed", "subscriber_id", id, "error", err)
					return
				}
			}
		}
	}
}
