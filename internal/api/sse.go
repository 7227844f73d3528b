package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/quipubase/quipubase-go/internal/apperr"
	"github.com/quipubase/quipubase-go/internal/eventbus"
	"go.uber.org/zap"
)

// streamFrame is the payload carried by each SSE "data:" line, matching
// the {event, data} shape promised in §6.
type streamFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// stream opens a streaming subscription: the server sends one event frame
// per delivered Event plus periodic keep-alive comments, until the client
// disconnects or a stop event is published.
func (h *handlers) stream(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "collection_id")

	sub, err := h.engine.Subscribe(r.Context(), collectionID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sub.Cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperr.Protocol("api: streaming unsupported by response writer"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	interval := h.keepAliveInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	keepAlive := time.NewTicker(interval)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeSSEFrame(w, event); err != nil {
				if h.logger != nil {
					h.logger.Debug("stream write failed, client likely disconnected", zap.Error(err))
				}
				return
			}
			flusher.Flush()
			if event.Kind == eventbus.KindStop {
				return
			}

		case <-keepAlive.C:
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEFrame(w http.ResponseWriter, event eventbus.Event) error {
	frame := streamFrame{Event: string(event.Kind), Data: event.Payload}
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}
