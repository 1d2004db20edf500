package hub

import (
	"context"
	"errors"
	"time"

	"github.com/grahama1970/granger-hub/pkg/telemetry"
	"github.com/grahama1970/granger-hub/pkg/types"
)

// startMonitor launches the timeout monitor for one conversation. The
// monitor is cooperatively cancelled through the entry's cancel func
// whenever the conversation ends through any path.
func (m *Manager) startMonitor(entry *activeConversation, conversationID string) {
	ctx, cancel := context.WithCancel(context.Background())

	entry.mu.Lock()
	entry.cancel = cancel
	entry.mu.Unlock()

	m.wg.Add(1)
	go m.runMonitor(ctx, conversationID)
}

// runMonitor polls one conversation at the configured interval and ends it
// with reason "timeout" once inactivity exceeds the threshold. If the
// conversation reaches a terminal status through other means, the monitor
// observes that on its next tick and exits without further action.
func (m *Manager) runMonitor(ctx context.Context, conversationID string) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			entry, ok := m.active[conversationID]
			m.mu.RUnlock()

			if !ok {
				return
			}

			entry.mu.Lock()
			status := entry.state.Status
			last := entry.lastActivity
			entry.mu.Unlock()

			if status.Terminal() {
				return
			}

			if time.Since(last) <= m.timeout {
				continue
			}

			_, span := telemetry.StartConversationSpan(ctx, telemetry.SpanMonitorTimeout, conversationID)
			telemetry.SetConversationStatus(span, string(types.ConversationStatusTimeout))

			m.logger.Warn("conversation timed out",
				"conversation_id", conversationID,
				"idle", time.Since(last).Round(time.Millisecond),
				"threshold", m.timeout,
			)

			err := m.EndConversation(ctx, conversationID, ReasonTimeout)
			if err != nil && !errors.Is(err, ErrInactiveConversation) {
				// Persistence failed; the conversation is still active,
				// retry on the next tick.
				telemetry.RecordError(span, err, telemetry.ErrorCategoryStorage)
				m.logger.Error("ending timed out conversation failed",
					"conversation_id", conversationID,
					"error", err,
				)
				span.End()
				continue
			}
			span.End()
			return
		}
	}
}
