package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/echovoice/echo/internal/bus"
)

// pingInterval is how often an idle SSE stream sends a keep-alive comment so
// proxies and clients do not drop the connection.
const pingInterval = 15 * time.Second

// streamSSE returns a handler that subscribes to b and relays every value as
// a server-sent event. eventName picks the SSE "event:" field per value; the
// "data:" field is the JSON-serialized value. The subscription is dropped when
// the client disconnects.
func streamSSE[T any](b *bus.Bus[T], eventName func(T) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		sub := b.Subscribe()
		defer b.Unsubscribe(sub)

		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				slog.Debug("sse client disconnected", "path", r.URL.Path)
				return

			case <-ticker.C:
				if _, err := fmt.Fprint(w, ":ping\n\n"); err != nil {
					return
				}
				flusher.Flush()

			case v, ok := <-sub.C():
				if !ok {
					return
				}
				data, err := json.Marshal(v)
				if err != nil {
					slog.Warn("sse marshal failed", "path", r.URL.Path, "err", err)
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventName(v), data); err != nil {
					return
				}
				flusher.Flush()
				ticker.Reset(pingInterval)
			}
		}
	}
}
