package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/auth"
)

const keepAliveInterval = 25 * time.Second

// Stream handles Server-Sent Events with domain events. Admins receive every
// event, other users only their own.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.opts.Hub == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming_disabled", "streaming disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming_unsupported", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	caller, _ := auth.PrincipalFromContext(r.Context())
	filter := caller.UserID
	if caller.IsAdmin() {
		filter = ""
	}
	ch := a.opts.Hub.Subscribe(ctx, filter)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		case evt, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", evt.ID, evt.Type, payload)
			flusher.Flush()
		}
	}
}
