// Package store provides durable storage for conversations and messages
package store

import (
	"context"
	"errors"

	"github.com/grahama1970/granger-hub/pkg/types"
)

// Errors
var (
	// ErrNotFound indicates a read miss for a conversation or message
	ErrNotFound = errors.New("not found")

	// ErrStorage indicates an I/O failure in the backing store. Callers
	// match it with errors.Is to distinguish storage faults from misses.
	ErrStorage = errors.New("storage error")
)

// Store manages conversation and message persistence.
//
// Writes are individually atomic; no multi-statement transaction spans a
// conversation write and a message write. Callers rely on a consistent
// write order instead: the conversation row always exists before any of
// its messages, and a routed message is persisted before the state that
// references it.
type Store interface {
	// SaveConversation inserts or updates a conversation snapshot
	SaveConversation(ctx context.Context, conv *types.Conversation) error

	// GetConversation retrieves a conversation by ID, including its
	// message ID history in turn order. Returns ErrNotFound on a miss.
	GetConversation(ctx context.Context, conversationID string) (*types.Conversation, error)

	// SaveMessage inserts a message row
	SaveMessage(ctx context.Context, msg *types.Message) error

	// GetMessages retrieves all messages of a conversation in ascending
	// turn order. An unknown conversation yields an empty slice, not an error.
	GetMessages(ctx context.Context, conversationID string) ([]*types.Message, error)

	// GetConversationsByParticipant retrieves all conversations the named
	// module takes part in
	GetConversationsByParticipant(ctx context.Context, name string) ([]*types.Conversation, error)

	// GetRecentConversations retrieves the most recently created conversations
	GetRecentConversations(ctx context.Context, limit int) ([]*types.Conversation, error)

	// ListConversations retrieves every stored conversation, optionally
	// filtered by status. An empty status means no filter.
	ListConversations(ctx context.Context, status types.ConversationStatus) ([]*types.Conversation, error)
}
