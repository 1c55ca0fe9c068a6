package models

import (
	"strings"
	"time"
)

// Role identifies which side of the marketplace a user is on
type Role string

const (
	RoleCustomer        Role = "customer"
	RoleServiceProvider Role = "service-provider"
)

// ParseRole normalizes a role string. "provider" is accepted as an alias.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(RoleCustomer):
		return RoleCustomer, true
	case string(RoleServiceProvider), "provider":
		return RoleServiceProvider, true
	}
	return "", false
}

// ParticipantColumn returns the threads column holding a user of this role
func (r Role) ParticipantColumn() string {
	if r == RoleServiceProvider {
		return "provider_id"
	}
	return "customer_id"
}

// CounterpartColumn returns the threads column holding the other participant
func (r Role) CounterpartColumn() string {
	if r == RoleServiceProvider {
		return "customer_id"
	}
	return "provider_id"
}

// Profile is the public display identity of a user
type Profile struct {
	ID        string `json:"id" yaml:"id"`
	FullName  string `json:"full_name" yaml:"full_name"`
	AvatarURL string `json:"avatar_url,omitempty" yaml:"avatar_url"`
	Role      Role   `json:"role" yaml:"role"`
}

// Thread is a conversation between exactly one customer and one provider
type Thread struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	ProviderID string    `json:"provider_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Counterpart returns the participant that is not userID
func (t Thread) Counterpart(userID string) string {
	if userID == t.CustomerID {
		return t.ProviderID
	}
	return t.CustomerID
}

// HasParticipant reports whether userID is one of the two participants
func (t Thread) HasParticipant(userID string) bool {
	return userID != "" && (userID == t.CustomerID || userID == t.ProviderID)
}

// Message is a confirmed chat message within a thread
type Message struct {
	ID          string     `json:"id"`
	ThreadID    string     `json:"thread_id"`
	SenderID    string     `json:"sender_id"`
	RecipientID string     `json:"recipient_id,omitempty"`
	ClientID    string     `json:"client_id,omitempty"`
	Content     string     `json:"content"`
	CreatedAt   time.Time  `json:"created_at"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

// ChatMessage is a message as shown in an open thread. Optimistic entries are
// local placeholders for sends that have not been confirmed yet.
type ChatMessage struct {
	Message
	Optimistic bool `json:"optimistic,omitempty"`
}

// Preview is the last message of a thread shown in the thread list
type Preview struct {
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ThreadSummary is the thread list projection for one viewer
type ThreadSummary struct {
	ThreadID          string    `json:"thread_id"`
	CounterpartID     string    `json:"counterpart_id,omitempty"`
	CounterpartName   string    `json:"counterpart_name"`
	CounterpartAvatar string    `json:"counterpart_avatar,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
	LastMessage       *Preview  `json:"last_message,omitempty"`
}
