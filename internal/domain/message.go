package domain

import "time"

type RoomID string

// Message types mirrored on the chat broadcast topic.
const (
	MessageChat  = "CHAT"
	MessageJoin  = "JOIN"
	MessageLeave = "LEAVE"
)

const MaxMessageLen = 2000

// ChatMessage is a plain broadcast message, unrelated to call state.
type ChatMessage struct {
	ID        string    `json:"id,omitempty"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	RoomID    RoomID    `json:"roomId"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}
