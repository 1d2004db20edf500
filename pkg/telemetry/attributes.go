// Package telemetry provides OpenTelemetry observability for the hub
package telemetry

import "go.opentelemetry.io/otel/attribute"

// Semantic convention keys for hub-specific attributes
const (
	// Conversation attributes
	KeyConversationID     = "hub.conversation.id"
	KeyConversationStatus = "hub.conversation.status"
	KeyConversationTopic  = "hub.conversation.topic"

	// Message attributes
	KeyMessageID   = "hub.message.id"
	KeyMessageType = "hub.message.type"
	KeyTurnNumber  = "hub.message.turn_number"

	// Module attributes
	KeyModuleSource = "hub.module.source"
	KeyModuleTarget = "hub.module.target"

	// Termination attributes
	KeyEndReason = "hub.end.reason"

	// Error attributes
	KeyErrorCategory = "hub.error.category"
)

// Error categories
const (
	ErrorCategoryValidation = "validation"
	ErrorCategoryHandler    = "handler"
	ErrorCategoryStorage    = "storage"
	ErrorCategoryTimeout    = "timeout"
	ErrorCategoryUnknown    = "unknown"
)

// ConversationAttrs returns a set of attributes for a conversation
func ConversationAttrs(id, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(KeyConversationID, id),
		attribute.String(KeyConversationStatus, status),
	}
}

// MessageAttrs returns a set of attributes for a message
func MessageAttrs(id, msgType, source, target string, turn int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(KeyMessageID, id),
		attribute.String(KeyMessageType, msgType),
		attribute.String(KeyModuleSource, source),
		attribute.String(KeyModuleTarget, target),
		attribute.Int(KeyTurnNumber, turn),
	}
}
