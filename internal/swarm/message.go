package swarm

import (
	"context"
	"time"
)

// MessageType classifies inter-agent messages.
type MessageType string

const (
	MessageRequest      MessageType = "request"
	MessageResponse     MessageType = "response"
	MessageAlert        MessageType = "alert"
	MessageObservation  MessageType = "observation"
	MessageCoordination MessageType = "coordination"
)

// BroadcastRecipient addresses a message to every agent instead of one.
const BroadcastRecipient = "broadcast"

// Message is a one-shot note between agents. Draining an inbox marks
// its messages read; they are never delivered twice.
type Message struct {
	ID        string         `json:"id"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	Type      MessageType    `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Priority  Priority       `json:"priority"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Read      bool           `json:"read"`
}

// Expired reports whether the message's expiry has passed at now.
func (m *Message) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}

// MessageBus delivers messages to per-agent inboxes. Sends are
// fire-and-forget from the task state machine's point of view.
type MessageBus interface {
	// Send appends a message to the recipient's inbox.
	Send(ctx context.Context, msg *Message) error
	// Drain returns and removes all unexpired messages waiting for the
	// agent, oldest first.
	Drain(ctx context.Context, agentID string) ([]*Message, error)
	Close() error
}
