package app

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jmorel/visio/internal/core"
	"github.com/jmorel/visio/internal/domain"
)

// ChatObserver is notified for every message delivered on the broadcast topic.
type ChatObserver func(domain.ChatMessage)

// ChatService is the plain message layer, independent of call state.
type ChatService struct {
	localID string
	roomID  domain.RoomID
	pub     core.SignalPublisher

	mu        sync.RWMutex
	messages  []domain.ChatMessage
	observers []ChatObserver
}

func NewChatService(localID string, roomID domain.RoomID, pub core.SignalPublisher) *ChatService {
	return &ChatService{localID: localID, roomID: roomID, pub: pub}
}

// Send publishes a chat message to the shared room.
func (s *ChatService) Send(content string) error {
	if content == "" {
		return nil
	}
	if len(content) > domain.MaxMessageLen {
		content = content[:domain.MaxMessageLen]
	}
	msg := domain.ChatMessage{
		ID:        uuid.NewString(),
		Sender:    s.localID,
		Content:   content,
		RoomID:    s.roomID,
		Type:      domain.MessageChat,
		Timestamp: time.Now(),
	}
	return s.pub.Publish(domain.DestChatSend, msg)
}

// AnnounceJoin tells the room this user is online.
func (s *ChatService) AnnounceJoin() error {
	msg := domain.ChatMessage{
		ID:        uuid.NewString(),
		Sender:    s.localID,
		Content:   fmt.Sprintf("%s joined the chat", s.localID),
		RoomID:    s.roomID,
		Type:      domain.MessageJoin,
		Timestamp: time.Now(),
	}
	return s.pub.Publish(domain.DestChatSend, msg)
}

// OnMessage registers an observer for inbound messages.
func (s *ChatService) OnMessage(fn ChatObserver) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Accept folds one delivered message into the history and fans it out.
func (s *ChatService) Accept(msg domain.ChatMessage) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	observers := s.observers
	s.mu.Unlock()

	log.Debug().Str("module", "app.chat").Str("sender", msg.Sender).Str("type", msg.Type).Msg("message")
	for _, fn := range observers {
		fn(msg)
	}
}

// History returns a snapshot of every message seen this session.
func (s *ChatService) History() []domain.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}
