package hub_test

import (
	"context"
	"testing"
	"time"

	"github.com/grahama1970/granger-hub/internal/events"
	"github.com/grahama1970/granger-hub/internal/hub"
	"github.com/grahama1970/granger-hub/internal/store"
	"github.com/grahama1970/granger-hub/pkg/types"
)

// waitForStatus polls until the conversation reaches the wanted status or
// the deadline passes
func waitForStatus(t *testing.T, m *hub.Manager, id string, want types.ConversationStatus, deadline time.Duration) *types.Conversation {
	t.Helper()

	var state *types.Conversation
	stop := time.Now().Add(deadline)
	for time.Now().Before(stop) {
		var err error
		state, err = m.GetConversationState(context.Background(), id)
		if err != nil {
			t.Fatalf("GetConversationState failed: %v", err)
		}
		if state != nil && state.Status == want {
			return state
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Conversation %s did not reach status %s (last: %+v)", id, want, state)
	return nil
}

func TestMonitor_TimeoutEnforced(t *testing.T) {
	m := hub.NewManager(store.NewMemoryStore(), echoRegistry("ModuleA", "ModuleB"), hub.Config{
		ConversationTimeout: 50 * time.Millisecond,
		MonitorInterval:     10 * time.Millisecond,
	})
	t.Cleanup(m.Close)
	ctx := context.Background()

	conv, err := m.CreateConversation(ctx, "ModuleA", "ModuleB", nil, nil)
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	state := waitForStatus(t, m, conv.ID, types.ConversationStatusTimeout, 2*time.Second)

	if state.Context["end_reason"] != "timeout" {
		t.Errorf("Expected end_reason timeout, got %v", state.Context["end_reason"])
	}
	if m.ActiveCount() != 0 {
		t.Errorf("Expected conversation evicted from active set, got %d active", m.ActiveCount())
	}

	// Routing into the timed out conversation is rejected
	msg, _ := hub.NewMessage(conv.ID, 2, "ModuleA", "ModuleB", "", nil)
	if _, err := m.RouteMessage(ctx, msg); err == nil {
		t.Error("Expected routing into timed out conversation to fail")
	}
}

func TestMonitor_ActivityResetsIdleClock(t *testing.T) {
	m := hub.NewManager(store.NewMemoryStore(), echoRegistry("ModuleA", "ModuleB"), hub.Config{
		ConversationTimeout: 300 * time.Millisecond,
		MonitorInterval:     20 * time.Millisecond,
	})
	t.Cleanup(m.Close)
	ctx := context.Background()

	conv, err := m.CreateConversation(ctx, "ModuleA", "ModuleB", nil, nil)
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	// Keep routing well inside the threshold; the conversation must survive
	source, target := "ModuleA", "ModuleB"
	for turn := 2; turn <= 4; turn++ {
		time.Sleep(100 * time.Millisecond)
		msg, _ := hub.NewMessage(conv.ID, turn, source, target, "", nil)
		if _, err := m.RouteMessage(ctx, msg); err != nil {
			t.Fatalf("Route turn %d failed: %v", turn, err)
		}
		source, target = target, source
	}

	state, _ := m.GetConversationState(ctx, conv.ID)
	if state.Status != types.ConversationStatusActive {
		t.Fatalf("Expected conversation to stay active while busy, got %s", state.Status)
	}

	// Once activity stops, the timeout fires
	waitForStatus(t, m, conv.ID, types.ConversationStatusTimeout, 2*time.Second)
}

func TestMonitor_TerminatedConversationNotResurrected(t *testing.T) {
	m := hub.NewManager(store.NewMemoryStore(), echoRegistry("ModuleA", "ModuleB"), hub.Config{
		ConversationTimeout: 50 * time.Millisecond,
		MonitorInterval:     10 * time.Millisecond,
	})
	t.Cleanup(m.Close)
	ctx := context.Background()

	conv, _ := m.CreateConversation(ctx, "ModuleA", "ModuleB", nil, nil)
	if err := m.CompleteConversation(ctx, conv.ID); err != nil {
		t.Fatalf("CompleteConversation failed: %v", err)
	}

	// Give the monitor ample time to misfire if cancellation were broken
	time.Sleep(200 * time.Millisecond)

	state, _ := m.GetConversationState(ctx, conv.ID)
	if state.Status != types.ConversationStatusCompleted {
		t.Errorf("Expected status to remain completed, got %s", state.Status)
	}
}

func TestManager_LifecycleEvents(t *testing.T) {
	bus := events.NewBus()
	t.Cleanup(func() { bus.Close() })

	ch := bus.Subscribe("test")

	m := hub.NewManager(store.NewMemoryStore(), echoRegistry("ModuleA", "ModuleB"), hub.Config{
		ConversationTimeout: 50 * time.Millisecond,
		MonitorInterval:     10 * time.Millisecond,
		Bus:                 bus,
	})
	t.Cleanup(m.Close)
	ctx := context.Background()

	conv, _ := m.CreateConversation(ctx, "ModuleA", "ModuleB", nil, nil)
	msg, _ := hub.NewMessage(conv.ID, 2, "ModuleA", "ModuleB", "", nil)
	if _, err := m.RouteMessage(ctx, msg); err != nil {
		t.Fatalf("RouteMessage failed: %v", err)
	}

	want := []events.EventType{
		events.EventConversationCreated,
		events.EventMessageRouted,
		events.EventConversationTimeout,
	}
	for _, wantType := range want {
		select {
		case got := <-ch:
			if got.Type != wantType {
				t.Errorf("Expected event %s, got %s", wantType, got.Type)
			}
			if got.ConversationID != conv.ID {
				t.Errorf("Event for wrong conversation: %s", got.ConversationID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for %s event", wantType)
		}
	}
}
