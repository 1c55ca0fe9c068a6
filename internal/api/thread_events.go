package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"hirenest-chat/internal/chat"
	"hirenest-chat/internal/gateway"
)

// Event is one Server-Sent Event
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// FormatSSE formats an event in SSE wire format
func FormatSSE(event Event) ([]byte, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	return []byte("event: " + event.Type + "\ndata: " + string(data) + "\n\n"), nil
}

// ThreadEventsHandler streams a thread's confirmed messages over SSE
type ThreadEventsHandler struct {
	threads *ThreadsHandler
	gw      gateway.Gateway
	log     *slog.Logger
}

// NewThreadEventsHandler creates a new handler
func NewThreadEventsHandler(threads *ThreadsHandler, gw gateway.Gateway, log *slog.Logger) *ThreadEventsHandler {
	return &ThreadEventsHandler{
		threads: threads,
		gw:      gw,
		log:     log.With("component", "sse"),
	}
}

// HandleEvents handles GET /api/threads/{id}/events
func (h *ThreadEventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	_, thread, err := h.threads.participantThread(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.log.Error("streaming not supported")
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	sub, err := h.gw.Subscribe(ctx, gateway.SubscribeRequest{
		Collection: gateway.Messages,
		Events:     []gateway.ChangeType{gateway.ChangeInsert},
		Filters:    []gateway.Filter{gateway.Eq("thread_id", thread.ID)},
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if _, err := w.Write([]byte("event: connected\ndata: {}\n\n")); err != nil {
		h.log.Debug("failed to send connected event", "error", err)
		return
	}
	flusher.Flush()

	h.log.Info("client connected", "thread_id", thread.ID)

	for {
		select {
		case <-ctx.Done():
			h.log.Info("client disconnected", "thread_id", thread.ID)
			return
		case change, ok := <-sub.Events():
			if !ok {
				h.log.Debug("event channel closed", "thread_id", thread.ID)
				return
			}
			msg, err := chat.ParseMessage(change.Row)
			if err != nil {
				h.log.Warn("dropping malformed message", "error", err)
				continue
			}
			data, err := FormatSSE(Event{Type: "message", Data: msg})
			if err != nil {
				h.log.Warn("failed to format event", "error", err)
				continue
			}
			if _, err := w.Write(data); err != nil {
				h.log.Debug("failed to write event", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}
