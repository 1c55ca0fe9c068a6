package chat

import (
	"fmt"

	"hirenest-chat/internal/models"
)

// ReconcileMode selects how confirmed messages are matched to optimistic placeholders
type ReconcileMode string

const (
	// MatchClientID pairs a confirmed row with the placeholder carrying the same
	// client correlation id, falling back to content for rows stored without one.
	MatchClientID ReconcileMode = "client-id"
	// MatchContent pairs by thread, sender and content only.
	MatchContent ReconcileMode = "content"
)

// ParseReconcileMode validates a configured mode
func ParseReconcileMode(s string) (ReconcileMode, error) {
	switch ReconcileMode(s) {
	case MatchClientID, MatchContent:
		return ReconcileMode(s), nil
	case "":
		return MatchClientID, nil
	}
	return "", fmt.Errorf("unknown reconcile mode %q", s)
}

type mergeResult string

const (
	mergedByClientID mergeResult = "client_id"
	mergedByContent  mergeResult = "content"
	mergeAppended    mergeResult = "appended"
	mergeDuplicate   mergeResult = "duplicate"
)

// reconcile merges one confirmed message into list. A matched placeholder is
// replaced in place; anything else is appended. Rows already present are ignored.
func reconcile(list []models.ChatMessage, confirmed models.Message, mode ReconcileMode) ([]models.ChatMessage, mergeResult) {
	for _, m := range list {
		if !m.Optimistic && m.ID == confirmed.ID {
			return list, mergeDuplicate
		}
	}

	if i, result := placeholderFor(list, confirmed, mode); i >= 0 {
		list[i] = models.ChatMessage{Message: confirmed}
		return list, result
	}
	return append(list, models.ChatMessage{Message: confirmed}), mergeAppended
}

// placeholderFor returns the index of the optimistic entry confirmed stands for, or -1
func placeholderFor(list []models.ChatMessage, confirmed models.Message, mode ReconcileMode) (int, mergeResult) {
	if mode != MatchContent && confirmed.ClientID != "" {
		for i, m := range list {
			if m.Optimistic && m.ClientID == confirmed.ClientID {
				return i, mergedByClientID
			}
		}
	}

	for i, m := range list {
		if !m.Optimistic {
			continue
		}
		if m.ThreadID != confirmed.ThreadID || m.SenderID != confirmed.SenderID || m.Content != confirmed.Content {
			continue
		}
		// Both sides carry correlation ids and they disagree: a different send
		if mode != MatchContent && m.ClientID != "" && confirmed.ClientID != "" {
			continue
		}
		return i, mergedByContent
	}
	return -1, ""
}

// withHistory lays history out oldest first and keeps the placeholders no
// history row confirms after it. A send confirmed before history was read
// appears once, as its stored row.
func withHistory(history []models.Message, pending []models.ChatMessage, mode ReconcileMode) []models.ChatMessage {
	pending = append([]models.ChatMessage(nil), pending...)
	list := make([]models.ChatMessage, 0, len(history)+len(pending))
	for _, m := range history {
		if i, _ := placeholderFor(pending, m, mode); i >= 0 {
			pending = append(pending[:i], pending[i+1:]...)
		}
		list = append(list, models.ChatMessage{Message: m})
	}
	return append(list, pending...)
}
