package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"querygate/internal/domain"
)

// sseHeartbeat is the interval between comment lines that keep idle
// connections from being reaped by intermediaries.
const sseHeartbeat = 30 * time.Second

// streamEvents serves the live status stream over Server-Sent Events. On
// connect, the subscription replays one sync event per in-flight execution
// visible to the caller before any new transitions.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	principal, ok := domain.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, domain.ErrForbidden("no authenticated principal"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, unsubscribe := h.manager.Subscribe(principal)
	defer unsubscribe()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				// Dropped for falling behind; the client reconnects and
				// resyncs via the replay events.
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: status\nid: %d\ndata: %s\n\n", ev.EventID, data)
			flusher.Flush()
		}
	}
}
