// Package events provides in-process streaming of conversation lifecycle events
package events

import (
	"encoding/json"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// EventConversationCreated is emitted when a conversation is opened
	EventConversationCreated EventType = "conversation.created"
	// EventMessageRouted is emitted when a message is delivered to its target
	EventMessageRouted EventType = "message.routed"
	// EventConversationCompleted is emitted when a conversation completes successfully
	EventConversationCompleted EventType = "conversation.completed"
	// EventConversationEnded is emitted when a conversation is ended explicitly
	EventConversationEnded EventType = "conversation.ended"
	// EventConversationTimeout is emitted when the monitor terminates a stalled conversation
	EventConversationTimeout EventType = "conversation.timeout"
)

// Event represents a single conversation lifecycle event
type Event struct {
	ID             string         `json:"id"`
	Type           EventType      `json:"type"`
	Timestamp      int64          `json:"timestamp"`
	ConversationID string         `json:"conversation_id"`
	Module         string         `json:"module,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, conversationID, module string, data map[string]any) *Event {
	return &Event{
		Type:           eventType,
		Timestamp:      time.Now().Unix(),
		ConversationID: conversationID,
		Module:         module,
		Data:           data,
	}
}

// EventFilter defines filters for streaming events
type EventFilter struct {
	Types          []EventType `json:"types,omitempty"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Module         string      `json:"module,omitempty"`
	Since          int64       `json:"since,omitempty"` // Unix timestamp
	Until          int64       `json:"until,omitempty"` // Unix timestamp
}

// FormatEvent formats an event for JSONL output
func FormatEvent(event *Event) ([]byte, error) {
	return json.Marshal(event)
}
