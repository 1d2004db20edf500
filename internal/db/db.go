// Package db handles database access for the hub
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/glebarez/go-sqlite"
)

// Store manages the underlying SQLite database
type Store struct {
	DB *sql.DB
}

// Open opens a SQLite database at the given path.
// Foreign keys, WAL mode and a busy timeout are applied to every pooled
// connection via DSN pragmas.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	return &Store{DB: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.DB.Close()
}

// InitSchema creates the database schema
func (s *Store) InitSchema() error {
	schema := `
	-- Conversations track multi-turn exchanges between modules
	CREATE TABLE IF NOT EXISTS conversations (
		conversation_id TEXT PRIMARY KEY,
		participants TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		turn_count INTEGER NOT NULL DEFAULT 0,
		topic TEXT,
		context TEXT,
		created_at INTEGER NOT NULL,
		last_message_at INTEGER NOT NULL
	);

	-- Messages are the individual turns of a conversation
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		sender TEXT NOT NULL,
		receiver TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'message',
		content TEXT,
		timestamp INTEGER NOT NULL,
		turn_number INTEGER NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id) ON DELETE CASCADE
	);

	-- Indexes for common queries
	CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_conversation_turn ON messages(conversation_id, turn_number);
	CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender);
	CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver);
	CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(status);
	CREATE INDEX IF NOT EXISTS idx_conversations_created ON conversations(created_at);
	`

	_, err := s.DB.Exec(schema)
	return err
}
