// Package types defines core data structures for the hub
package types

import (
	"encoding/json"
	"time"
)

// ConversationStatus represents the state of a conversation
type ConversationStatus string

const (
	ConversationStatusActive    ConversationStatus = "active"
	ConversationStatusCompleted ConversationStatus = "completed"
	ConversationStatusFailed    ConversationStatus = "failed"
	ConversationStatusTimeout   ConversationStatus = "timeout"
)

// Terminal reports whether the status is absorbing. A conversation in a
// terminal status never accepts another message.
func (s ConversationStatus) Terminal() bool {
	switch s {
	case ConversationStatusCompleted, ConversationStatusFailed, ConversationStatusTimeout:
		return true
	}
	return false
}

// Conversation represents a multi-turn exchange between named modules
type Conversation struct {
	ID            string             `json:"conversation_id" db:"conversation_id"`
	Participants  []string           `json:"participants" db:"participants"`
	Status        ConversationStatus `json:"status" db:"status"`
	CreatedAt     int64              `json:"created_at" db:"created_at"`
	LastMessageAt int64              `json:"last_message_at" db:"last_message_at"`

	// Turn tracking. TurnCount always equals len(MessageHistory).
	TurnCount      int      `json:"turn_count" db:"turn_count"`
	MessageHistory []string `json:"message_history"`

	// Optional metadata
	Topic   string         `json:"topic,omitempty" db:"topic"`
	Context map[string]any `json:"context,omitempty" db:"context"`
}

// HasParticipant reports whether the named module takes part in the conversation
func (c *Conversation) HasParticipant(name string) bool {
	for _, p := range c.Participants {
		if p == name {
			return true
		}
	}
	return false
}

// Initiator returns the module that opened the conversation
func (c *Conversation) Initiator() string {
	if len(c.Participants) == 0 {
		return ""
	}
	return c.Participants[0]
}

// Duration returns the elapsed time between creation and last activity
func (c *Conversation) Duration() time.Duration {
	last := c.LastMessageAt
	if last == 0 {
		last = c.CreatedAt
	}
	return time.Duration(last-c.CreatedAt) * time.Second
}

// Clone returns a deep copy. The manager hands out clones so callers can
// never mutate the live in-memory state.
func (c *Conversation) Clone() *Conversation {
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	out.MessageHistory = append([]string(nil), c.MessageHistory...)
	if c.Context != nil {
		out.Context = make(map[string]any, len(c.Context))
		for k, v := range c.Context {
			out.Context[k] = v
		}
	}
	return &out
}

// Message represents a single communication turn between two modules.
// Messages are immutable once created: they are persisted exactly once and
// only ever read afterwards.
type Message struct {
	ID             string `json:"id" db:"id"`
	ConversationID string `json:"conversation_id" db:"conversation_id"`
	TurnNumber     int    `json:"turn_number" db:"turn_number"`
	Source         string `json:"source" db:"sender"`
	Target         string `json:"target" db:"receiver"`
	Type           string `json:"type" db:"type"`

	// Content is the serialized message payload
	Content   json.RawMessage `json:"content" db:"content"`
	Timestamp int64           `json:"timestamp" db:"timestamp"`
}

// MessageTypeMessage is the default type tag for untyped payloads
const MessageTypeMessage = "message"

// DeliveryStatusDelivered marks a successfully routed message
const DeliveryStatusDelivered = "delivered"

// RoutingResult describes the outcome of a successful message delivery
type RoutingResult struct {
	RoutedTo       string          `json:"routed_to"`
	ConversationID string          `json:"conversation_id"`
	Status         string          `json:"status"`
	Response       json.RawMessage `json:"response,omitempty"`
}

// ModuleActivity counts a module's involvement in conversations
type ModuleActivity struct {
	Initiated    int `json:"initiated"`
	Participated int `json:"participated"`
}

// ConversationAnalytics summarizes all known conversations, active and historical
type ConversationAnalytics struct {
	TotalConversations int                        `json:"total_conversations"`
	ByStatus           map[ConversationStatus]int `json:"by_status"`
	AvgTurnCount       float64                    `json:"avg_turn_count"`
	AvgDurationSeconds float64                    `json:"avg_duration_seconds"`
	ModuleActivity     map[string]*ModuleActivity `json:"module_activity"`
}
