package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the global tracer for the hub
var tracer = otel.Tracer("granger-hub")

// Span names for hub operations
const (
	// Conversation spans
	SpanConversationCreate   = "hub.conversation.create"
	SpanConversationComplete = "hub.conversation.complete"
	SpanConversationEnd      = "hub.conversation.end"

	// Routing spans
	SpanMessageRoute   = "hub.message.route"
	SpanHandlerProcess = "hub.handler.process"

	// Monitor spans
	SpanMonitorTimeout = "hub.monitor.timeout"

	// Query spans
	SpanAnalytics = "hub.analytics.compute"
)

// StartConversationSpan starts a span for a conversation lifecycle operation
func StartConversationSpan(ctx context.Context, name, conversationID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String(KeyConversationID, conversationID))
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartRouteSpan starts a span for a message routing operation
func StartRouteSpan(ctx context.Context, conversationID, target string, turn int, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String(KeyConversationID, conversationID),
		attribute.String(KeyModuleTarget, target),
		attribute.Int(KeyTurnNumber, turn),
	)
	return tracer.Start(ctx, SpanMessageRoute, trace.WithAttributes(attrs...))
}

// StartHandlerSpan starts a span for a module handler invocation
func StartHandlerSpan(ctx context.Context, module string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String(KeyModuleTarget, module))
	return tracer.Start(ctx, SpanHandlerProcess, trace.WithAttributes(attrs...))
}

// RecordError records an error on a span with an error category
func RecordError(span trace.Span, err error, category string) {
	if err == nil {
		return
	}

	span.RecordError(err, trace.WithAttributes(
		attribute.String(KeyErrorCategory, category),
	))
	span.SetStatus(codes.Error, err.Error())
}

// SetConversationStatus sets the conversation status as a span attribute
func SetConversationStatus(span trace.Span, status string) {
	span.SetAttributes(attribute.String(KeyConversationStatus, status))
}
