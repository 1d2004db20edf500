package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/grahama1970/granger-hub/internal/db"
	"github.com/grahama1970/granger-hub/pkg/types"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store over an opened database
func NewSQLiteStore(d *db.Store) *SQLiteStore {
	return &SQLiteStore{db: d.DB}
}

// SaveConversation inserts or updates a conversation snapshot
func (s *SQLiteStore) SaveConversation(ctx context.Context, conv *types.Conversation) error {
	participants, err := json.Marshal(conv.Participants)
	if err != nil {
		return fmt.Errorf("encoding participants: %w", err)
	}

	var contextJSON sql.NullString
	if len(conv.Context) > 0 {
		b, err := json.Marshal(conv.Context)
		if err != nil {
			return fmt.Errorf("encoding context: %w", err)
		}
		contextJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (conversation_id, participants, status, turn_count, topic, context, created_at, last_message_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			participants = excluded.participants,
			status = excluded.status,
			turn_count = excluded.turn_count,
			topic = excluded.topic,
			context = excluded.context,
			last_message_at = excluded.last_message_at
	`, conv.ID, string(participants), conv.Status, conv.TurnCount,
		nullable(conv.Topic), contextJSON, conv.CreatedAt, conv.LastMessageAt)

	if err != nil {
		return fmt.Errorf("saving conversation: %w: %w", ErrStorage, err)
	}

	return nil
}

// GetConversation retrieves a conversation by ID
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (*types.Conversation, error) {
	conv, err := s.scanConversation(s.db.QueryRowContext(ctx, `
		SELECT conversation_id, participants, status, turn_count, topic, context, created_at, last_message_at
		FROM conversations WHERE conversation_id = ?
	`, conversationID))

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting conversation: %w: %w", ErrStorage, err)
	}

	// Reconstruct the message ID history from the messages table so that
	// turn_count == len(message_history) holds for loaded snapshots too.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM messages WHERE conversation_id = ? ORDER BY turn_number ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading message history: %w: %w", ErrStorage, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning message id: %w: %w", ErrStorage, err)
		}
		conv.MessageHistory = append(conv.MessageHistory, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading message history: %w: %w", ErrStorage, err)
	}

	return conv, nil
}

// SaveMessage inserts a message row
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *types.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender, receiver, type, content, timestamp, turn_number)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.Source, msg.Target, msg.Type,
		string(msg.Content), msg.Timestamp, msg.TurnNumber)

	if err != nil {
		return fmt.Errorf("saving message: %w: %w", ErrStorage, err)
	}

	return nil
}

// GetMessages retrieves all messages of a conversation in ascending turn order
func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID string) ([]*types.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender, receiver, type, content, timestamp, turn_number
		FROM messages
		WHERE conversation_id = ?
		ORDER BY turn_number ASC
	`, conversationID)

	if err != nil {
		return nil, fmt.Errorf("querying messages: %w: %w", ErrStorage, err)
	}
	defer rows.Close()

	messages := []*types.Message{}
	for rows.Next() {
		var msg types.Message
		var content sql.NullString

		err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.Source, &msg.Target,
			&msg.Type, &content, &msg.Timestamp, &msg.TurnNumber,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w: %w", ErrStorage, err)
		}
		if content.Valid {
			msg.Content = json.RawMessage(content.String)
		}

		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying messages: %w: %w", ErrStorage, err)
	}

	return messages, nil
}

// GetConversationsByParticipant retrieves all conversations the named module takes part in
func (s *SQLiteStore) GetConversationsByParticipant(ctx context.Context, name string) ([]*types.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, participants, status, turn_count, topic, context, created_at, last_message_at
		FROM conversations
		WHERE EXISTS (SELECT 1 FROM json_each(conversations.participants) WHERE json_each.value = ?)
		ORDER BY created_at DESC
	`, name)

	if err != nil {
		return nil, fmt.Errorf("querying conversations by participant: %w: %w", ErrStorage, err)
	}
	defer rows.Close()

	return s.collectConversations(rows)
}

// GetRecentConversations retrieves the most recently created conversations
func (s *SQLiteStore) GetRecentConversations(ctx context.Context, limit int) ([]*types.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, participants, status, turn_count, topic, context, created_at, last_message_at
		FROM conversations
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)

	if err != nil {
		return nil, fmt.Errorf("querying recent conversations: %w: %w", ErrStorage, err)
	}
	defer rows.Close()

	return s.collectConversations(rows)
}

// ListConversations retrieves every stored conversation, optionally filtered by status
func (s *SQLiteStore) ListConversations(ctx context.Context, status types.ConversationStatus) ([]*types.Conversation, error) {
	query := `
		SELECT conversation_id, participants, status, turn_count, topic, context, created_at, last_message_at
		FROM conversations
	`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w: %w", ErrStorage, err)
	}
	defer rows.Close()

	return s.collectConversations(rows)
}

// scanner abstracts sql.Row and sql.Rows for conversation scanning
type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanConversation(row scanner) (*types.Conversation, error) {
	var conv types.Conversation
	var participants string
	var topic, contextJSON sql.NullString

	err := row.Scan(
		&conv.ID, &participants, &conv.Status, &conv.TurnCount,
		&topic, &contextJSON, &conv.CreatedAt, &conv.LastMessageAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(participants), &conv.Participants); err != nil {
		return nil, fmt.Errorf("decoding participants: %w", err)
	}
	if topic.Valid {
		conv.Topic = topic.String
	}
	if contextJSON.Valid {
		if err := json.Unmarshal([]byte(contextJSON.String), &conv.Context); err != nil {
			return nil, fmt.Errorf("decoding context: %w", err)
		}
	}

	return &conv, nil
}

func (s *SQLiteStore) collectConversations(rows *sql.Rows) ([]*types.Conversation, error) {
	conversations := []*types.Conversation{}
	for rows.Next() {
		conv, err := s.scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w: %w", ErrStorage, err)
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w: %w", ErrStorage, err)
	}
	return conversations, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
