package server

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jmorel/visio/internal/domain"
)

const messageSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id      TEXT PRIMARY KEY,
	sender  TEXT NOT NULL,
	content TEXT NOT NULL,
	room_id TEXT NOT NULL,
	type    TEXT NOT NULL,
	sent_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, sent_at);
`

// MessageStore persists the chat history in a local sqlite database.
type MessageStore struct {
	db *sql.DB
}

func OpenStore(path string) (*MessageStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open message store: %w", err)
	}
	// sqlite allows a single writer; more connections just contend.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(messageSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message store: %w", err)
	}
	return &MessageStore{db: db}, nil
}

func (s *MessageStore) Save(msg domain.ChatMessage) error {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO messages (id, sender, content, room_id, type, sent_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Sender, msg.Content, string(msg.RoomID), msg.Type, ts.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// Recent returns up to limit messages from one room, oldest first.
func (s *MessageStore) Recent(room domain.RoomID, limit int) ([]domain.ChatMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, sender, content, room_id, type, sent_at FROM (
			SELECT * FROM messages WHERE room_id = ? ORDER BY sent_at DESC LIMIT ?
		) ORDER BY sent_at ASC`,
		string(room), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var out []domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		var room string
		if err := rows.Scan(&msg.ID, &msg.Sender, &msg.Content, &room, &msg.Type, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.RoomID = domain.RoomID(room)
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *MessageStore) Close() error {
	return s.db.Close()
}
