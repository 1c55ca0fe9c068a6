package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"hirenest-chat/internal/chat"
	"hirenest-chat/internal/session"
)

// NotificationsHandler serves the caller's unread messages
type NotificationsHandler struct {
	notifier *chat.Notifier
	log      *slog.Logger
}

// NewNotificationsHandler creates a new notifications handler
func NewNotificationsHandler(notifier *chat.Notifier, log *slog.Logger) *NotificationsHandler {
	return &NotificationsHandler{notifier: notifier, log: log.With("component", "notifications")}
}

// CountResponse carries the unread badge count
type CountResponse struct {
	Count int `json:"count"`
}

// List handles GET /api/notifications
func (h *NotificationsHandler) List(w http.ResponseWriter, r *http.Request) {
	me, err := session.FromContext(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	limit := chat.DefaultUnreadLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(w, "invalid limit")
			return
		}
		limit = n
	}

	msgs, err := h.notifier.Unread(r.Context(), me.UserID, limit)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, MessagesResponse{Messages: msgs})
}

// Count handles GET /api/notifications/count
func (h *NotificationsHandler) Count(w http.ResponseWriter, r *http.Request) {
	me, err := session.FromContext(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	n, err := h.notifier.UnreadCount(r.Context(), me.UserID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}
