// Package store_test provides tests for the store package
package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/grahama1970/granger-hub/internal/db"
	"github.com/grahama1970/granger-hub/internal/store"
	"github.com/grahama1970/granger-hub/pkg/types"
)

func setupSQLiteStore(t *testing.T) store.Store {
	t.Helper()

	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	if err := d.InitSchema(); err != nil {
		t.Fatalf("Failed to init schema: %v", err)
	}

	return store.NewSQLiteStore(d)
}

// backends returns every Store implementation under test
func backends(t *testing.T) map[string]store.Store {
	t.Helper()
	return map[string]store.Store{
		"sqlite": setupSQLiteStore(t),
		"memory": store.NewMemoryStore(),
	}
}

func testConversation(id string, createdAt int64) *types.Conversation {
	return &types.Conversation{
		ID:            id,
		Participants:  []string{"ModuleA", "ModuleB"},
		Status:        types.ConversationStatusActive,
		TurnCount:     0,
		CreatedAt:     createdAt,
		LastMessageAt: createdAt,
	}
}

func testMessage(conversationID string, turn int) *types.Message {
	return &types.Message{
		ID:             "msg_" + conversationID + "_" + string(rune('0'+turn)),
		ConversationID: conversationID,
		TurnNumber:     turn,
		Source:         "ModuleA",
		Target:         "ModuleB",
		Type:           types.MessageTypeMessage,
		Content:        json.RawMessage(`{"content":"hello"}`),
		Timestamp:      100 + int64(turn),
	}
}

func TestStore_SaveGetConversation(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			conv := testConversation("conv_1", 100)
			conv.Topic = "greeting"
			conv.Context = map[string]any{"origin": "test"}

			if err := s.SaveConversation(ctx, conv); err != nil {
				t.Fatalf("SaveConversation failed: %v", err)
			}

			got, err := s.GetConversation(ctx, "conv_1")
			if err != nil {
				t.Fatalf("GetConversation failed: %v", err)
			}

			if got.ID != "conv_1" {
				t.Errorf("Expected ID conv_1, got %s", got.ID)
			}
			if len(got.Participants) != 2 || got.Participants[0] != "ModuleA" || got.Participants[1] != "ModuleB" {
				t.Errorf("Participants mismatch: %v", got.Participants)
			}
			if got.Status != types.ConversationStatusActive {
				t.Errorf("Expected status active, got %s", got.Status)
			}
			if got.Topic != "greeting" {
				t.Errorf("Expected topic greeting, got %q", got.Topic)
			}
			if got.Context["origin"] != "test" {
				t.Errorf("Context not round-tripped: %v", got.Context)
			}
		})
	}
}

func TestStore_GetConversation_NotFound(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetConversation(context.Background(), "nonexistent-id")
			if !errors.Is(err, store.ErrNotFound) {
				t.Errorf("Expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStore_SaveConversation_Update(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			conv := testConversation("conv_1", 100)
			if err := s.SaveConversation(ctx, conv); err != nil {
				t.Fatalf("SaveConversation failed: %v", err)
			}

			conv.Status = types.ConversationStatusCompleted
			conv.TurnCount = 3
			conv.LastMessageAt = 200
			if err := s.SaveConversation(ctx, conv); err != nil {
				t.Fatalf("Second SaveConversation failed: %v", err)
			}

			got, err := s.GetConversation(ctx, "conv_1")
			if err != nil {
				t.Fatalf("GetConversation failed: %v", err)
			}
			if got.Status != types.ConversationStatusCompleted {
				t.Errorf("Expected status completed, got %s", got.Status)
			}
			if got.TurnCount != 3 {
				t.Errorf("Expected turn count 3, got %d", got.TurnCount)
			}
			if got.LastMessageAt != 200 {
				t.Errorf("Expected last_message_at 200, got %d", got.LastMessageAt)
			}
		})
	}
}

func TestStore_Messages_TurnOrder(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := s.SaveConversation(ctx, testConversation("conv_1", 100)); err != nil {
				t.Fatalf("SaveConversation failed: %v", err)
			}

			// Insert out of order; reads must come back in turn order
			for _, turn := range []int{2, 1, 3} {
				if err := s.SaveMessage(ctx, testMessage("conv_1", turn)); err != nil {
					t.Fatalf("SaveMessage turn %d failed: %v", turn, err)
				}
			}

			msgs, err := s.GetMessages(ctx, "conv_1")
			if err != nil {
				t.Fatalf("GetMessages failed: %v", err)
			}
			if len(msgs) != 3 {
				t.Fatalf("Expected 3 messages, got %d", len(msgs))
			}
			for i, msg := range msgs {
				if msg.TurnNumber != i+1 {
					t.Errorf("Position %d: expected turn %d, got %d", i, i+1, msg.TurnNumber)
				}
			}
		})
	}
}

func TestStore_GetMessages_UnknownConversation(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			msgs, err := s.GetMessages(context.Background(), "nonexistent-id")
			if err != nil {
				t.Fatalf("Expected no error for unknown conversation, got %v", err)
			}
			if len(msgs) != 0 {
				t.Errorf("Expected empty history, got %d messages", len(msgs))
			}
		})
	}
}

func TestStore_MessageHistoryReconstructed(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			conv := testConversation("conv_1", 100)
			conv.TurnCount = 2
			if err := s.SaveConversation(ctx, conv); err != nil {
				t.Fatalf("SaveConversation failed: %v", err)
			}
			for turn := 1; turn <= 2; turn++ {
				if err := s.SaveMessage(ctx, testMessage("conv_1", turn)); err != nil {
					t.Fatalf("SaveMessage failed: %v", err)
				}
			}

			got, err := s.GetConversation(ctx, "conv_1")
			if err != nil {
				t.Fatalf("GetConversation failed: %v", err)
			}
			if len(got.MessageHistory) != got.TurnCount {
				t.Errorf("Expected history length %d, got %d", got.TurnCount, len(got.MessageHistory))
			}
		})
	}
}

func TestStore_GetConversationsByParticipant(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first := testConversation("conv_1", 100)
			second := testConversation("conv_2", 200)
			second.Participants = []string{"ModuleB", "ModuleC"}
			third := testConversation("conv_3", 300)
			third.Participants = []string{"ModuleC", "ModuleD"}

			for _, conv := range []*types.Conversation{first, second, third} {
				if err := s.SaveConversation(ctx, conv); err != nil {
					t.Fatalf("SaveConversation failed: %v", err)
				}
			}

			got, err := s.GetConversationsByParticipant(ctx, "ModuleB")
			if err != nil {
				t.Fatalf("GetConversationsByParticipant failed: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("Expected 2 conversations for ModuleB, got %d", len(got))
			}

			// No partial name matching
			got, err = s.GetConversationsByParticipant(ctx, "Module")
			if err != nil {
				t.Fatalf("GetConversationsByParticipant failed: %v", err)
			}
			if len(got) != 0 {
				t.Errorf("Expected no conversations for partial name, got %d", len(got))
			}
		})
	}
}

func TestStore_GetRecentConversations(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for i, id := range []string{"conv_1", "conv_2", "conv_3"} {
				if err := s.SaveConversation(ctx, testConversation(id, int64(100*(i+1)))); err != nil {
					t.Fatalf("SaveConversation failed: %v", err)
				}
			}

			got, err := s.GetRecentConversations(ctx, 2)
			if err != nil {
				t.Fatalf("GetRecentConversations failed: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("Expected 2 conversations, got %d", len(got))
			}
			if got[0].ID != "conv_3" || got[1].ID != "conv_2" {
				t.Errorf("Expected most recent first, got %s, %s", got[0].ID, got[1].ID)
			}
		})
	}
}

func TestStore_ListConversations_StatusFilter(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			active := testConversation("conv_1", 100)
			done := testConversation("conv_2", 200)
			done.Status = types.ConversationStatusCompleted

			for _, conv := range []*types.Conversation{active, done} {
				if err := s.SaveConversation(ctx, conv); err != nil {
					t.Fatalf("SaveConversation failed: %v", err)
				}
			}

			all, err := s.ListConversations(ctx, "")
			if err != nil {
				t.Fatalf("ListConversations failed: %v", err)
			}
			if len(all) != 2 {
				t.Errorf("Expected 2 conversations, got %d", len(all))
			}

			activeOnly, err := s.ListConversations(ctx, types.ConversationStatusActive)
			if err != nil {
				t.Fatalf("ListConversations with filter failed: %v", err)
			}
			if len(activeOnly) != 1 || activeOnly[0].ID != "conv_1" {
				t.Errorf("Expected only conv_1 active, got %v", activeOnly)
			}
		})
	}
}
