package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"hirenest-chat/internal/gateway"
)

const subscribeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// RealtimeHandler serves change feeds over websocket. The client's first frame is
// a gateway.SubscribeRequest; the server answers with a subscribed or error frame
// and then pushes change frames until either side closes.
type RealtimeHandler struct {
	gw  gateway.Gateway
	log *slog.Logger
}

// NewRealtimeHandler creates a new realtime handler
func NewRealtimeHandler(gw gateway.Gateway, log *slog.Logger) *RealtimeHandler {
	return &RealtimeHandler{gw: gw, log: log.With("component", "realtime")}
}

// HandleRealtime handles GET /realtime/v1
func (h *RealtimeHandler) HandleRealtime(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(subscribeTimeout))
	var req gateway.SubscribeRequest
	if err := conn.ReadJSON(&req); err != nil {
		h.log.Debug("no subscription frame", "error", err)
		conn.WriteJSON(gateway.Frame{Type: gateway.FrameError, Code: gateway.CodeInvalidQuery, Message: "expected subscription frame"})
		return
	}
	conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := h.gw.Subscribe(ctx, req)
	if err != nil {
		_, code := errorStatus(err)
		conn.WriteJSON(gateway.Frame{Type: gateway.FrameError, Code: code, Message: err.Error()})
		return
	}
	defer sub.Close()

	if err := conn.WriteJSON(gateway.Frame{Type: gateway.FrameSubscribed}); err != nil {
		return
	}
	h.log.Info("realtime client subscribed", "collection", req.Collection, "filters", len(req.Filters))

	// The client sends nothing after subscribing; a read error means it went away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.log.Debug("realtime read error", "error", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("realtime client disconnected", "collection", req.Collection)
			return
		case change, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := conn.WriteJSON(gateway.Frame{Type: gateway.FrameChange, Change: &change}); err != nil {
				h.log.Debug("realtime write failed", "error", err)
				return
			}
		}
	}
}
