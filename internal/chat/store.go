// Package chat is the messaging view-model: thread list aggregation, the per-thread
// message stream with optimistic sends, thread resolution and unread notifications.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hirenest-chat/internal/gateway"
	"hirenest-chat/internal/models"
)

var (
	ErrMalformedRow   = errors.New("malformed row")
	ErrThreadNotFound = errors.New("thread not found")
	ErrNotParticipant = errors.New("user is not a participant of the thread")
	ErrEmptyContent   = errors.New("message content is empty")
	ErrInvalidPair    = errors.New("customer and provider ids are required")
)

// Rows cross into typed entities here and nowhere else.

// ParseMessage validates a message row from the gateway or its feed
func ParseMessage(row gateway.Row) (models.Message, error) {
	return messageFromRow(row)
}

func threadFromRow(row gateway.Row) (models.Thread, error) {
	var t models.Thread
	var err error
	if t.ID, err = requireString(row, "id"); err != nil {
		return t, err
	}
	if t.CustomerID, err = requireString(row, "customer_id"); err != nil {
		return t, err
	}
	if t.ProviderID, err = requireString(row, "provider_id"); err != nil {
		return t, err
	}
	if t.CreatedAt, err = parseTime(row["created_at"]); err != nil {
		return t, fmt.Errorf("%w: thread %s created_at: %v", ErrMalformedRow, t.ID, err)
	}
	if _, ok := row["updated_at"]; ok {
		if t.UpdatedAt, err = parseTime(row["updated_at"]); err != nil {
			return t, fmt.Errorf("%w: thread %s updated_at: %v", ErrMalformedRow, t.ID, err)
		}
	} else {
		t.UpdatedAt = t.CreatedAt
	}
	return t, nil
}

func messageFromRow(row gateway.Row) (models.Message, error) {
	var m models.Message
	var err error
	if m.ID, err = requireString(row, "id"); err != nil {
		return m, err
	}
	if m.ThreadID, err = requireString(row, "thread_id"); err != nil {
		return m, err
	}
	if m.SenderID, err = requireString(row, "sender_id"); err != nil {
		return m, err
	}
	if m.Content, err = requireString(row, "content"); err != nil {
		return m, err
	}
	if m.CreatedAt, err = parseTime(row["created_at"]); err != nil {
		return m, fmt.Errorf("%w: message %s created_at: %v", ErrMalformedRow, m.ID, err)
	}
	m.RecipientID = optionalString(row, "recipient_id")
	m.ClientID = optionalString(row, "client_id")
	if v := row["read_at"]; v != nil {
		at, err := parseTime(v)
		if err != nil {
			return m, fmt.Errorf("%w: message %s read_at: %v", ErrMalformedRow, m.ID, err)
		}
		m.ReadAt = &at
	}
	return m, nil
}

func requireString(row gateway.Row, key string) (string, error) {
	s := optionalString(row, key)
	if s == "" {
		return "", fmt.Errorf("%w: missing %s", ErrMalformedRow, key)
	}
	return s, nil
}

func optionalString(row gateway.Row, key string) string {
	switch v := row[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, err
		}
		return parsed.UTC(), nil
	case nil:
		return time.Time{}, errors.New("missing timestamp")
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	}
}

// LoadThread fetches one thread by id
func LoadThread(ctx context.Context, gw gateway.Gateway, threadID string) (models.Thread, error) {
	rows, err := gw.Query(ctx, gateway.Query{
		Collection: gateway.Threads,
		Filters:    []gateway.Filter{gateway.Eq("id", threadID)},
		Limit:      1,
	})
	if err != nil {
		return models.Thread{}, fmt.Errorf("load thread %s: %w", threadID, err)
	}
	if len(rows) == 0 {
		return models.Thread{}, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	return threadFromRow(rows[0])
}

// LoadHistory fetches every message of a thread, oldest first. Rows that fail
// validation are skipped and reported through skipped.
func LoadHistory(ctx context.Context, gw gateway.Gateway, threadID string) (msgs []models.Message, skipped int, err error) {
	rows, err := gw.Query(ctx, gateway.Query{
		Collection: gateway.Messages,
		Filters:    []gateway.Filter{gateway.Eq("thread_id", threadID)},
		Order:      []gateway.Order{{Column: "created_at"}},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("load history %s: %w", threadID, err)
	}

	msgs = make([]models.Message, 0, len(rows))
	for _, row := range rows {
		m, err := messageFromRow(row)
		if err != nil {
			skipped++
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, skipped, nil
}

// MarkRead stamps read_at on the thread's unread messages addressed to userID
func MarkRead(ctx context.Context, gw gateway.Gateway, threadID, userID string, at time.Time) (int64, error) {
	n, err := gw.Update(ctx, gateway.Messages,
		[]gateway.Filter{
			gateway.Eq("thread_id", threadID),
			gateway.Eq("recipient_id", userID),
			gateway.IsNull("read_at"),
		},
		gateway.Row{"read_at": gateway.Timestamp(at)},
	)
	if err != nil {
		return 0, fmt.Errorf("mark read %s: %w", threadID, err)
	}
	return n, nil
}
