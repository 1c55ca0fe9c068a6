package chat

import (
	"context"
	"fmt"
	"log/slog"

	"hirenest-chat/internal/gateway"
	"hirenest-chat/internal/logger"
	"hirenest-chat/internal/models"
)

// DefaultUnreadLimit caps the notification list
const DefaultUnreadLimit = 50

// Notifier reports messages a user has not read yet
type Notifier struct {
	gw  gateway.Gateway
	log *slog.Logger
}

// NewNotifier creates a notifier over gw
func NewNotifier(gw gateway.Gateway, log *slog.Logger) *Notifier {
	return &Notifier{
		gw:  gw,
		log: logger.OrDefault(log).With("component", "notifier"),
	}
}

func unreadFilters(userID string) []gateway.Filter {
	return []gateway.Filter{gateway.Eq("recipient_id", userID), gateway.IsNull("read_at")}
}

// Unread returns unread messages addressed to userID, newest first
func (n *Notifier) Unread(ctx context.Context, userID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultUnreadLimit
	}
	rows, err := n.gw.Query(ctx, gateway.Query{
		Collection: gateway.Messages,
		Filters:    unreadFilters(userID),
		Order:      []gateway.Order{{Column: "created_at", Desc: true}},
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("unread for %s: %w", userID, err)
	}

	out := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		m, err := messageFromRow(row)
		if err != nil {
			n.log.Warn("skipping malformed message", "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// UnreadCount returns the number of unread messages addressed to userID
func (n *Notifier) UnreadCount(ctx context.Context, userID string) (int, error) {
	rows, err := n.gw.Query(ctx, gateway.Query{
		Collection: gateway.Messages,
		Columns:    []string{"id"},
		Filters:    unreadFilters(userID),
	})
	if err != nil {
		return 0, fmt.Errorf("unread count for %s: %w", userID, err)
	}
	return len(rows), nil
}

// WatchBadge emits the unread count now and again after every message insert or
// update addressed to userID. Only the latest count is kept for a slow reader.
// The channel closes when ctx ends or the feed stops.
func (n *Notifier) WatchBadge(ctx context.Context, userID string) (<-chan int, error) {
	sub, err := n.gw.Subscribe(ctx, gateway.SubscribeRequest{
		Collection: gateway.Messages,
		Events:     []gateway.ChangeType{gateway.ChangeInsert, gateway.ChangeUpdate},
		Filters:    []gateway.Filter{gateway.Eq("recipient_id", userID)},
	})
	if err != nil {
		return nil, fmt.Errorf("watch badge for %s: %w", userID, err)
	}

	out := make(chan int, 1)
	publish := func() {
		count, err := n.UnreadCount(ctx, userID)
		if err != nil {
			absorb(n.log, "badge_count", err, "user_id", userID)
			return
		}
		select {
		case out <- count:
		default:
			// Replace the stale value
			select {
			case <-out:
			default:
			}
			out <- count
		}
	}

	go func() {
		defer close(out)
		defer sub.Close()

		publish()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub.Events():
				if !ok {
					return
				}
				publish()
			}
		}
	}()
	return out, nil
}
