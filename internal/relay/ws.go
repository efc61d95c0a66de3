package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// WSHandler returns an http.HandlerFunc that streams lifecycle events over a
// WebSocket. Same feed and ?types= filter as the SSE handler; useful for
// clients that already hold a WebSocket stack and want ping/pong keepalive.
func WSHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		typeFilter := parseTypeFilter(r)

		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			slog.Debug("event feed upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		// Reader goroutine: answers pings and notices the client closing.
		clientGone := make(chan struct{})
		go func() {
			defer close(clientGone)
			for {
				if _, _, err := wsutil.ReadClientData(conn); err != nil {
					return
				}
			}
		}()

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)

		for {
			select {
			case <-clientGone:
				return
			case evt, ok := <-ch:
				if !ok {
					// Broker closed: the coordinator is shutting down.
					frame := ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "shutdown"))
					_ = ws.WriteFrame(conn, frame)
					return
				}
				if typeFilter != nil && !typeFilter[evt.Type] {
					continue
				}
				payload, err := json.Marshal(evt)
				if err != nil {
					continue
				}
				if err := wsutil.WriteServerText(conn, payload); err != nil {
					return
				}
			}
		}
	}
}
