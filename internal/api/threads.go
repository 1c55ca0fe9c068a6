package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"hirenest-chat/internal/chat"
	"hirenest-chat/internal/gateway"
	"hirenest-chat/internal/models"
	"hirenest-chat/internal/session"
)

// ThreadsHandler serves the thread list, thread resolution and message history/send
type ThreadsHandler struct {
	gw         gateway.Gateway
	aggregator *chat.Aggregator
	resolver   *chat.Resolver
	deliverer  *chat.Deliverer
	limiter    *limiterPool
	log        *slog.Logger
}

// NewThreadsHandler creates a new threads handler
func NewThreadsHandler(gw gateway.Gateway, policy chat.ThreadPolicy, sendRPS float64, log *slog.Logger) *ThreadsHandler {
	return &ThreadsHandler{
		gw:         gw,
		aggregator: chat.NewAggregator(gw, log),
		resolver:   chat.NewResolver(gw, policy, log),
		deliverer:  chat.NewDeliverer(gw, log),
		limiter:    newLimiterPool(sendRPS, int(sendRPS)+1),
		log:        log.With("component", "threads"),
	}
}

// EnsureThreadRequest is the body of POST /api/threads/ensure. The caller fills
// the id of the other side; their own id comes from the session.
type EnsureThreadRequest struct {
	ProviderID string `json:"provider_id,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
	ForceNew   bool   `json:"force_new,omitempty"`
}

// EnsureThreadResponse carries the resolved thread id
type EnsureThreadResponse struct {
	ThreadID string `json:"thread_id"`
}

// SendMessageRequest is the body of POST /api/threads/{id}/messages
type SendMessageRequest struct {
	Content  string `json:"content"`
	ClientID string `json:"client_id,omitempty"`
}

// MessagesResponse wraps a message list
type MessagesResponse struct {
	Messages []models.Message `json:"messages"`
}

// List handles GET /api/threads
func (h *ThreadsHandler) List(w http.ResponseWriter, r *http.Request) {
	me, err := session.FromContext(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	list := h.aggregator.ListThreads(r.Context(), me)
	if q := r.URL.Query().Get("q"); q != "" {
		list = chat.FilterSummaries(list, q)
	}
	writeJSON(w, http.StatusOK, list)
}

// Ensure handles POST /api/threads/ensure
func (h *ThreadsHandler) Ensure(w http.ResponseWriter, r *http.Request) {
	me, err := session.FromContext(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	var req EnsureThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	customerID, providerID := me.UserID, req.ProviderID
	if me.Role == models.RoleServiceProvider {
		customerID, providerID = req.CustomerID, me.UserID
	}

	id, err := h.resolver.EnsureThread(r.Context(), customerID, providerID, req.ForceNew)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, EnsureThreadResponse{ThreadID: id})
}

// participantThread loads the path's thread and checks the caller belongs to it
func (h *ThreadsHandler) participantThread(r *http.Request) (session.Identity, models.Thread, error) {
	me, err := session.FromContext(r.Context())
	if err != nil {
		return me, models.Thread{}, err
	}
	thread, err := chat.LoadThread(r.Context(), h.gw, r.PathValue("id"))
	if err != nil {
		return me, thread, err
	}
	if !thread.HasParticipant(me.UserID) {
		return me, thread, chat.ErrNotParticipant
	}
	return me, thread, nil
}

// Messages handles GET /api/threads/{id}/messages. Reading marks the caller's
// incoming messages read.
func (h *ThreadsHandler) Messages(w http.ResponseWriter, r *http.Request) {
	me, thread, err := h.participantThread(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	msgs, skipped, err := chat.LoadHistory(r.Context(), h.gw, thread.ID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if skipped > 0 {
		h.log.Warn("skipped malformed messages", "thread_id", thread.ID, "count", skipped)
	}

	// Best effort: deployments without read receipts still get their history
	if _, err := chat.MarkRead(r.Context(), h.gw, thread.ID, me.UserID, time.Now()); err != nil {
		h.log.Debug("mark read skipped", "thread_id", thread.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, MessagesResponse{Messages: msgs})
}

// Send handles POST /api/threads/{id}/messages
func (h *ThreadsHandler) Send(w http.ResponseWriter, r *http.Request) {
	me, thread, err := h.participantThread(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	if !h.limiter.Allow(me.UserID) {
		writeJSON(w, http.StatusTooManyRequests, gateway.ErrorBody{Code: "rate_limited", Message: "too many messages"})
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	msg, err := h.deliverer.Deliver(r.Context(), chat.Outgoing{
		ThreadID: thread.ID,
		SenderID: me.UserID,
		Content:  req.Content,
		ClientID: req.ClientID,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	h.log.Info("message sent", "thread_id", thread.ID, "message_id", msg.ID, "sender_id", me.UserID)
	writeJSON(w, http.StatusCreated, msg)
}
