// Package hub implements the conversation manager: the single authority for
// conversation lifecycle, message routing, turn ordering and status
// transitions between named modules.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/grahama1970/granger-hub/internal/events"
	"github.com/grahama1970/granger-hub/internal/registry"
	"github.com/grahama1970/granger-hub/internal/store"
	"github.com/grahama1970/granger-hub/pkg/telemetry"
	"github.com/grahama1970/granger-hub/pkg/types"
)

// ReasonTimeout is the end reason recorded when the monitor terminates a
// stalled conversation.
const ReasonTimeout = "timeout"

// Config holds manager configuration
type Config struct {
	// ConversationTimeout is the inactivity threshold after which a
	// conversation is terminated by its monitor.
	ConversationTimeout time.Duration

	// MonitorInterval is the monitor poll interval. Timeouts are enforced
	// within one interval of the threshold being crossed.
	MonitorInterval time.Duration

	// Logger receives structured logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Bus receives lifecycle events. Optional.
	Bus *events.Bus
}

// activeConversation is the in-memory record of one active conversation.
// Its mutex serializes routing per conversation id; distinct conversations
// route fully concurrently.
type activeConversation struct {
	mu           sync.Mutex
	state        *types.Conversation
	lastActivity time.Time
	cancel       context.CancelFunc
}

// Manager orchestrates conversations between registered modules
type Manager struct {
	mu     sync.RWMutex
	active map[string]*activeConversation

	store    store.Store
	registry *registry.Registry
	bus      *events.Bus
	logger   *slog.Logger

	timeout      time.Duration
	pollInterval time.Duration

	wg sync.WaitGroup
}

// NewManager creates a conversation manager. The registry is passed by
// reference: the manager consumes its lookup capability but never owns
// module lifecycle.
func NewManager(st store.Store, reg *registry.Registry, cfg Config) *Manager {
	if cfg.ConversationTimeout <= 0 {
		cfg.ConversationTimeout = 5 * time.Minute
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Manager{
		active:       make(map[string]*activeConversation),
		store:        st,
		registry:     reg,
		bus:          cfg.Bus,
		logger:       cfg.Logger,
		timeout:      cfg.ConversationTimeout,
		pollInterval: cfg.MonitorInterval,
	}
}

// CreateOptions carries optional conversation metadata
type CreateOptions struct {
	Topic   string
	Context map[string]any
	Type    string // type tag for the initial message
}

// CreateConversation opens a conversation between two modules. The initial
// message counts as turn 1. On success the conversation is active, persisted
// and watched by a timeout monitor.
func (m *Manager) CreateConversation(ctx context.Context, initiator, target string, initial any, opts *CreateOptions) (*types.Conversation, error) {
	ctx, span := telemetry.StartConversationSpan(ctx, telemetry.SpanConversationCreate, "")
	defer span.End()

	if initiator == "" || target == "" {
		err := fmt.Errorf("%w: initiator and target must be non-empty", ErrInvalidParticipant)
		telemetry.RecordError(span, err, telemetry.ErrorCategoryValidation)
		return nil, err
	}
	if initiator == target {
		err := fmt.Errorf("%w: initiator and target must differ", ErrInvalidParticipant)
		telemetry.RecordError(span, err, telemetry.ErrorCategoryValidation)
		return nil, err
	}
	if opts == nil {
		opts = &CreateOptions{}
	}

	content, err := marshalContent(initial)
	if err != nil {
		return nil, fmt.Errorf("encoding initial message: %w", err)
	}

	id := newConversationID()
	now := time.Now()

	msg := &types.Message{
		ID:             newMessageID(),
		ConversationID: id,
		TurnNumber:     1,
		Source:         initiator,
		Target:         target,
		Type:           messageType(opts.Type),
		Content:        content,
		Timestamp:      now.Unix(),
	}

	conv := &types.Conversation{
		ID:             id,
		Participants:   []string{initiator, target},
		Status:         types.ConversationStatusActive,
		TurnCount:      1,
		MessageHistory: []string{msg.ID},
		Topic:          opts.Topic,
		Context:        opts.Context,
		CreatedAt:      now.Unix(),
		LastMessageAt:  now.Unix(),
	}

	// Write order: state first, then message. On any failure the
	// conversation is never registered in memory, so no partial state is
	// left active.
	if err := m.store.SaveConversation(ctx, conv); err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorCategoryStorage)
		return nil, fmt.Errorf("persisting conversation: %w", err)
	}
	if err := m.store.SaveMessage(ctx, msg); err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorCategoryStorage)
		return nil, fmt.Errorf("persisting initial message: %w", err)
	}

	entry := &activeConversation{
		state:        conv,
		lastActivity: now,
	}

	m.mu.Lock()
	m.active[id] = entry
	m.mu.Unlock()

	m.startMonitor(entry, id)

	m.logger.Info("conversation created",
		"conversation_id", id,
		"initiator", initiator,
		"target", target,
		"topic", opts.Topic,
	)
	m.publish(ctx, events.NewEvent(events.EventConversationCreated, id, initiator, map[string]any{
		"target": target,
		"topic":  opts.Topic,
	}))

	return conv.Clone(), nil
}

// RouteMessage validates a message, delivers it to the target module's
// handler and records the outcome. Routing to an unknown conversation id is
// a no-op query: it returns (nil, nil), not an error.
//
// Turn ordering is strict: the message's turn number must be exactly one
// past the current turn count. Out-of-order or duplicate turns are rejected,
// never reordered.
func (m *Manager) RouteMessage(ctx context.Context, msg *types.Message) (*types.RoutingResult, error) {
	ctx, span := telemetry.StartRouteSpan(ctx, msg.ConversationID, msg.Target, msg.TurnNumber)
	defer span.End()

	m.mu.RLock()
	entry, ok := m.active[msg.ConversationID]
	m.mu.RUnlock()

	if !ok {
		// Distinguish a genuine miss from a known-but-terminated
		// conversation evicted from the active set.
		stored, err := m.store.GetConversation(ctx, msg.ConversationID)
		if errors.Is(err, store.ErrNotFound) {
			m.logger.Debug("route to unknown conversation", "conversation_id", msg.ConversationID)
			return nil, nil
		}
		if err != nil {
			telemetry.RecordError(span, err, telemetry.ErrorCategoryStorage)
			return nil, fmt.Errorf("looking up conversation: %w", err)
		}
		if stored.Status.Terminal() {
			err = fmt.Errorf("%w: %s (status %s)", ErrInactiveConversation, msg.ConversationID, stored.Status)
		} else {
			// Active in the store but not in this process; Restore is the
			// recovery path.
			err = fmt.Errorf("%w: %s is not loaded in this process (restore required)", ErrInactiveConversation, msg.ConversationID)
		}
		telemetry.RecordError(span, err, telemetry.ErrorCategoryValidation)
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	state := entry.state
	if state.Status.Terminal() {
		err := fmt.Errorf("%w: %s (status %s)", ErrInactiveConversation, state.ID, state.Status)
		telemetry.RecordError(span, err, telemetry.ErrorCategoryValidation)
		return nil, err
	}

	if msg.Source == "" || msg.Target == "" {
		err := fmt.Errorf("%w: source and target must be non-empty", ErrInvalidParticipant)
		telemetry.RecordError(span, err, telemetry.ErrorCategoryValidation)
		return nil, err
	}
	if msg.Source == msg.Target {
		err := fmt.Errorf("%w: source and target must differ", ErrInvalidParticipant)
		telemetry.RecordError(span, err, telemetry.ErrorCategoryValidation)
		return nil, err
	}

	expected := state.TurnCount + 1
	if msg.TurnNumber != expected {
		err := fmt.Errorf("%w: got turn %d, expected %d", ErrOutOfOrderTurn, msg.TurnNumber, expected)
		telemetry.RecordError(span, err, telemetry.ErrorCategoryValidation)
		return nil, err
	}

	handler, err := m.registry.Resolve(msg.Target)
	if err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorCategoryValidation)
		return nil, err
	}

	// Fill in generated fields for messages built by hand
	if msg.ID == "" {
		msg.ID = newMessageID()
	}
	if msg.Type == "" {
		msg.Type = types.MessageTypeMessage
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}

	hctx, hspan := telemetry.StartHandlerSpan(ctx, msg.Target)
	response, herr := handler.Process(hctx, msg.Content)
	if herr != nil {
		telemetry.RecordError(hspan, herr, telemetry.ErrorCategoryHandler)
	}
	hspan.End()

	if herr != nil {
		// A failed delivery does not count as a turn: history and turn
		// count only advance on confirmed delivery. The conversation
		// stays active.
		m.logger.Warn("handler failed",
			"conversation_id", state.ID,
			"module", msg.Target,
			"turn", msg.TurnNumber,
			"error", herr,
		)
		return nil, &HandlerError{Module: msg.Target, Err: herr}
	}

	// Write order: message first, then the state that references it. If
	// either write fails the in-memory state is left untouched, so memory
	// never runs ahead of what was last persisted.
	now := time.Now()
	next := state.Clone()
	next.TurnCount++
	next.MessageHistory = append(next.MessageHistory, msg.ID)
	next.LastMessageAt = now.Unix()

	if err := m.store.SaveMessage(ctx, msg); err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorCategoryStorage)
		return nil, fmt.Errorf("persisting message: %w", err)
	}
	if err := m.store.SaveConversation(ctx, next); err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorCategoryStorage)
		return nil, fmt.Errorf("persisting conversation state: %w", err)
	}

	entry.state = next
	entry.lastActivity = now

	m.logger.Debug("message routed",
		"conversation_id", state.ID,
		"source", msg.Source,
		"target", msg.Target,
		"turn", msg.TurnNumber,
	)
	m.publish(ctx, events.NewEvent(events.EventMessageRouted, state.ID, msg.Target, map[string]any{
		"source": msg.Source,
		"turn":   msg.TurnNumber,
	}))

	return &types.RoutingResult{
		RoutedTo:       msg.Target,
		ConversationID: state.ID,
		Status:         types.DeliveryStatusDelivered,
		Response:       response,
	}, nil
}

// GetConversationState returns the current state of a conversation, or
// (nil, nil) if it is unknown. The active in-memory set is consulted first;
// on a miss the store is queried, which also serves conversations created
// before a process restart.
func (m *Manager) GetConversationState(ctx context.Context, conversationID string) (*types.Conversation, error) {
	m.mu.RLock()
	entry, ok := m.active[conversationID]
	m.mu.RUnlock()

	if ok {
		entry.mu.Lock()
		defer entry.mu.Unlock()
		return entry.state.Clone(), nil
	}

	conv, err := m.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	return conv, nil
}

// GetConversationHistory returns all messages of a conversation in ascending
// turn order. The store is the canonical source for history; an unknown id
// yields an empty slice, not an error.
func (m *Manager) GetConversationHistory(ctx context.Context, conversationID string) ([]*types.Message, error) {
	msgs, err := m.store.GetMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	return msgs, nil
}

// CompleteConversation transitions a conversation to completed. The durable
// record is preserved for analytics.
func (m *Manager) CompleteConversation(ctx context.Context, conversationID string) error {
	ctx, span := telemetry.StartConversationSpan(ctx, telemetry.SpanConversationComplete, conversationID)
	defer span.End()

	err := m.terminate(ctx, conversationID, types.ConversationStatusCompleted, "")
	if err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorCategoryValidation)
	}
	return err
}

// EndConversation transitions a conversation to a terminal failure state
// with the given reason. A reason of "timeout" records a timeout
// termination; any other reason ends the conversation as failed.
func (m *Manager) EndConversation(ctx context.Context, conversationID, reason string) error {
	ctx, span := telemetry.StartConversationSpan(ctx, telemetry.SpanConversationEnd, conversationID)
	defer span.End()

	status := types.ConversationStatusFailed
	if reason == ReasonTimeout {
		status = types.ConversationStatusTimeout
	}

	err := m.terminate(ctx, conversationID, status, reason)
	if err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorCategoryValidation)
	}
	return err
}

// terminate moves an active conversation to a terminal status, persists the
// final snapshot, evicts it from the active set and cancels its monitor.
// Terminal states are absorbing: terminating an already-terminated or
// unknown conversation fails with ErrInactiveConversation.
func (m *Manager) terminate(ctx context.Context, conversationID string, status types.ConversationStatus, reason string) error {
	m.mu.RLock()
	entry, ok := m.active[conversationID]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrInactiveConversation, conversationID)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.state.Status.Terminal() {
		return fmt.Errorf("%w: %s (status %s)", ErrInactiveConversation, conversationID, entry.state.Status)
	}

	next := entry.state.Clone()
	next.Status = status
	if reason != "" {
		if next.Context == nil {
			next.Context = map[string]any{}
		}
		next.Context["end_reason"] = reason
	}

	if err := m.store.SaveConversation(ctx, next); err != nil {
		// The conversation stays active and consistent with the last
		// persisted snapshot.
		return fmt.Errorf("persisting terminal state: %w", err)
	}

	entry.state = next
	if entry.cancel != nil {
		entry.cancel()
	}

	m.mu.Lock()
	delete(m.active, conversationID)
	m.mu.Unlock()

	eventType := events.EventConversationEnded
	switch status {
	case types.ConversationStatusCompleted:
		eventType = events.EventConversationCompleted
	case types.ConversationStatusTimeout:
		eventType = events.EventConversationTimeout
	}

	m.logger.Info("conversation ended",
		"conversation_id", conversationID,
		"status", status,
		"reason", reason,
		"turns", next.TurnCount,
	)
	// The monitor's context is cancelled just above; keep the terminal
	// event deliverable anyway.
	m.publish(context.WithoutCancel(ctx), events.NewEvent(eventType, conversationID, "", map[string]any{
		"status": string(status),
		"reason": reason,
		"turns":  next.TurnCount,
	}))

	return nil
}

// FindModuleConversations returns the ids of all conversations, active and
// historical, in which the named module participates.
func (m *Manager) FindModuleConversations(ctx context.Context, moduleName string) ([]string, error) {
	convs, err := m.store.GetConversationsByParticipant(ctx, moduleName)
	if err != nil {
		return nil, fmt.Errorf("finding conversations for %s: %w", moduleName, err)
	}

	ids := make([]string, 0, len(convs))
	for _, conv := range convs {
		ids = append(ids, conv.ID)
	}
	return ids, nil
}

// GetConversationAnalytics aggregates counts by status, average turn count,
// average duration and per-module activity over all known conversations.
func (m *Manager) GetConversationAnalytics(ctx context.Context) (*types.ConversationAnalytics, error) {
	ctx, span := telemetry.StartConversationSpan(ctx, telemetry.SpanAnalytics, "")
	defer span.End()

	convs, err := m.store.ListConversations(ctx, "")
	if err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorCategoryStorage)
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	analytics := &types.ConversationAnalytics{
		TotalConversations: len(convs),
		ByStatus:           make(map[types.ConversationStatus]int),
		ModuleActivity:     make(map[string]*types.ModuleActivity),
	}

	var totalTurns, totalDuration int64
	for _, conv := range convs {
		analytics.ByStatus[conv.Status]++
		totalTurns += int64(conv.TurnCount)
		totalDuration += int64(conv.Duration() / time.Second)

		for i, participant := range conv.Participants {
			activity, ok := analytics.ModuleActivity[participant]
			if !ok {
				activity = &types.ModuleActivity{}
				analytics.ModuleActivity[participant] = activity
			}
			activity.Participated++
			if i == 0 {
				activity.Initiated++
			}
		}
	}

	if len(convs) > 0 {
		analytics.AvgTurnCount = float64(totalTurns) / float64(len(convs))
		analytics.AvgDurationSeconds = float64(totalDuration) / float64(len(convs))
	}

	return analytics, nil
}

// Restore loads conversations that are still active in the store into the
// in-memory active set and starts monitors for them. It is meant to be
// called once after process start and returns the number of conversations
// restored.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	convs, err := m.store.ListConversations(ctx, types.ConversationStatusActive)
	if err != nil {
		return 0, fmt.Errorf("listing active conversations: %w", err)
	}

	restored := 0
	for _, conv := range convs {
		// List queries return bare snapshots without the message id
		// history; load the full record so the installed state keeps
		// turn_count == len(message_history).
		full, err := m.store.GetConversation(ctx, conv.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return restored, fmt.Errorf("loading conversation %s: %w", conv.ID, err)
		}

		m.mu.Lock()
		if _, ok := m.active[full.ID]; ok {
			m.mu.Unlock()
			continue
		}
		entry := &activeConversation{
			state:        full,
			lastActivity: time.Now(),
		}
		m.active[full.ID] = entry
		m.mu.Unlock()

		m.startMonitor(entry, full.ID)
		restored++
	}

	if restored > 0 {
		m.logger.Info("restored active conversations", "count", restored)
	}
	return restored, nil
}

// ActiveCount returns the number of conversations in the active set
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Close cancels all timeout monitors and waits for them to exit. Active
// conversations stay active in the store; Restore picks them up on the next
// start.
func (m *Manager) Close() {
	// Snapshot first: entry locks are never taken while holding m.mu, since
	// terminate acquires them in the opposite order.
	m.mu.RLock()
	entries := make([]*activeConversation, 0, len(m.active))
	for _, entry := range m.active {
		entries = append(entries, entry)
	}
	m.mu.RUnlock()

	for _, entry := range entries {
		entry.mu.Lock()
		if entry.cancel != nil {
			entry.cancel()
		}
		entry.mu.Unlock()
	}

	m.wg.Wait()
}

func (m *Manager) publish(ctx context.Context, event *events.Event) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, event); err != nil {
		m.logger.Debug("event publish failed", "type", event.Type, "error", err)
	}
}

// NewMessage builds a message for an existing conversation. The id and
// timestamp are generated; content is serialized immediately so the message
// is immutable from creation.
func NewMessage(conversationID string, turnNumber int, source, target, msgType string, content any) (*types.Message, error) {
	encoded, err := marshalContent(content)
	if err != nil {
		return nil, fmt.Errorf("encoding content: %w", err)
	}
	return &types.Message{
		ID:             newMessageID(),
		ConversationID: conversationID,
		TurnNumber:     turnNumber,
		Source:         source,
		Target:         target,
		Type:           messageType(msgType),
		Content:        encoded,
		Timestamp:      time.Now().Unix(),
	}, nil
}

func marshalContent(v any) (json.RawMessage, error) {
	switch c := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return c, nil
	case []byte:
		return json.RawMessage(c), nil
	default:
		return json.Marshal(v)
	}
}

func messageType(t string) string {
	if t == "" {
		return types.MessageTypeMessage
	}
	return t
}

func newConversationID() string {
	return fmt.Sprintf("conv_%s", uuid.New().String()[:8])
}

func newMessageID() string {
	return fmt.Sprintf("msg_%s", uuid.New().String()[:8])
}
