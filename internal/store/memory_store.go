package store

import (
	"context"
	"sort"
	"sync"

	"github.com/grahama1970/granger-hub/pkg/types"
)

// MemoryStore implements Store with in-process maps. It preserves the same
// contract as SQLiteStore and exists for tests and embedded callers that do
// not need durability.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*types.Conversation
	messages      map[string][]*types.Message
	order         []string // conversation ids in creation order
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*types.Conversation),
		messages:      make(map[string][]*types.Message),
	}
}

// SaveConversation inserts or updates a conversation snapshot
func (s *MemoryStore) SaveConversation(_ context.Context, conv *types.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conv.ID]; !ok {
		s.order = append(s.order, conv.ID)
	}
	s.conversations[conv.ID] = conv.Clone()
	return nil
}

// GetConversation retrieves a conversation by ID
func (s *MemoryStore) GetConversation(_ context.Context, conversationID string) (*types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}

	out := conv.Clone()
	out.MessageHistory = out.MessageHistory[:0]
	for _, msg := range s.messages[conversationID] {
		out.MessageHistory = append(out.MessageHistory, msg.ID)
	}
	return out, nil
}

// SaveMessage inserts a message
func (s *MemoryStore) SaveMessage(_ context.Context, msg *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *msg
	msgs := append(s.messages[msg.ConversationID], &copied)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].TurnNumber < msgs[j].TurnNumber })
	s.messages[msg.ConversationID] = msgs
	return nil
}

// GetMessages retrieves all messages of a conversation in ascending turn order
func (s *MemoryStore) GetMessages(_ context.Context, conversationID string) ([]*types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*types.Message{}
	for _, msg := range s.messages[conversationID] {
		copied := *msg
		out = append(out, &copied)
	}
	return out, nil
}

// GetConversationsByParticipant retrieves all conversations the named module takes part in
func (s *MemoryStore) GetConversationsByParticipant(_ context.Context, name string) ([]*types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*types.Conversation{}
	for i := len(s.order) - 1; i >= 0; i-- {
		conv := s.conversations[s.order[i]]
		if conv.HasParticipant(name) {
			out = append(out, conv.Clone())
		}
	}
	return out, nil
}

// GetRecentConversations retrieves the most recently created conversations
func (s *MemoryStore) GetRecentConversations(_ context.Context, limit int) ([]*types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*types.Conversation{}
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.conversations[s.order[i]].Clone())
	}
	return out, nil
}

// ListConversations retrieves every stored conversation, optionally filtered by status
func (s *MemoryStore) ListConversations(_ context.Context, status types.ConversationStatus) ([]*types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*types.Conversation{}
	for _, id := range s.order {
		conv := s.conversations[id]
		if status != "" && conv.Status != status {
			continue
		}
		out = append(out, conv.Clone())
	}
	return out, nil
}
