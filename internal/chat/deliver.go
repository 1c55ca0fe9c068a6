package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"hirenest-chat/internal/gateway"
	"hirenest-chat/internal/logger"
	"hirenest-chat/internal/models"
)

// Outgoing is a message on its way to the gateway
type Outgoing struct {
	ThreadID string
	SenderID string
	Content  string
	// ClientID correlates the stored row with a local placeholder. Optional.
	ClientID string
}

// Deliverer stores outgoing messages
type Deliverer struct {
	gw  gateway.Gateway
	log *slog.Logger
	now func() time.Time
}

// NewDeliverer creates a deliverer over gw
func NewDeliverer(gw gateway.Gateway, log *slog.Logger) *Deliverer {
	return &Deliverer{
		gw:  gw,
		log: logger.OrDefault(log).With("component", "deliver"),
		now: time.Now,
	}
}

// Deliver stores out and bumps the thread's activity timestamp.
//
// The recipient is resolved from the thread's participants. The insert first
// carries recipient_id and client_id; if the gateway rejects that shape the
// minimal payload (thread_id, sender_id, content) is tried once.
func (d *Deliverer) Deliver(ctx context.Context, out Outgoing) (models.Message, error) {
	content := strings.TrimSpace(out.Content)
	if content == "" {
		return models.Message{}, ErrEmptyContent
	}
	if out.ThreadID == "" || out.SenderID == "" {
		return models.Message{}, errors.New("thread and sender are required")
	}

	var recipient string
	thread, err := LoadThread(ctx, d.gw, out.ThreadID)
	switch {
	case err == nil:
		if !thread.HasParticipant(out.SenderID) {
			return models.Message{}, ErrNotParticipant
		}
		recipient = thread.Counterpart(out.SenderID)
	case errors.Is(err, ErrThreadNotFound):
		return models.Message{}, err
	default:
		absorb(d.log, "resolve_recipient", err, "thread_id", out.ThreadID)
	}

	minimal := gateway.Row{
		"thread_id": out.ThreadID,
		"sender_id": out.SenderID,
		"content":   content,
	}
	rich := gateway.Row{}
	for k, v := range minimal {
		rich[k] = v
	}
	if recipient != "" {
		rich["recipient_id"] = recipient
	}
	if out.ClientID != "" {
		rich["client_id"] = out.ClientID
	}

	payload := "rich"
	row, err := d.gw.Insert(ctx, gateway.Messages, rich)
	if err != nil && len(rich) > len(minimal) {
		d.log.Info("rich insert rejected, retrying minimal payload", "thread_id", out.ThreadID, "error", err)
		payload = "minimal"
		row, err = d.gw.Insert(ctx, gateway.Messages, minimal)
	}
	if err != nil {
		sendsTotal.WithLabelValues("failed").Inc()
		return models.Message{}, err
	}
	sendsTotal.WithLabelValues(payload).Inc()

	msg, convErr := messageFromRow(row)
	if convErr != nil {
		d.log.Warn("stored message failed validation", "thread_id", out.ThreadID, "error", convErr)
		msg = models.Message{
			ID:       optionalString(row, "id"),
			ThreadID: out.ThreadID,
			SenderID: out.SenderID,
			Content:  content,
		}
	}

	if _, err := d.gw.Update(ctx, gateway.Threads,
		[]gateway.Filter{gateway.Eq("id", out.ThreadID)},
		gateway.Row{"updated_at": gateway.Timestamp(d.now())},
	); err != nil {
		absorb(d.log, "bump_updated_at", err, "thread_id", out.ThreadID)
	}

	d.log.Debug("message delivered", "thread_id", out.ThreadID, "message_id", msg.ID, "payload", payload)
	return msg, nil
}
