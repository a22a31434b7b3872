package app

import (
	"strings"
	"sync"
	"testing"

	"github.com/jmorel/visio/internal/domain"
)

type recPublisher struct {
	mu       sync.Mutex
	sent     []domain.ChatMessage
	lastDest string
}

func (p *recPublisher) Publish(destination string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastDest = destination
	if msg, ok := v.(domain.ChatMessage); ok {
		p.sent = append(p.sent, msg)
	}
	return nil
}

func TestChatSend(t *testing.T) {
	pub := &recPublisher{}
	chat := NewChatService("alice", "general", pub)

	if err := chat.Send("hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if pub.lastDest != domain.DestChatSend {
		t.Fatalf("published to %q, want %q", pub.lastDest, domain.DestChatSend)
	}
	if len(pub.sent) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.sent))
	}
	msg := pub.sent[0]
	if msg.Sender != "alice" || msg.Content != "hello" || msg.Type != domain.MessageChat {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.RoomID != "general" {
		t.Fatalf("room = %q, want general", msg.RoomID)
	}
	if msg.ID == "" {
		t.Fatal("message has no id")
	}
}

func TestChatSendEmptyIsNoop(t *testing.T) {
	pub := &recPublisher{}
	chat := NewChatService("alice", "general", pub)

	if err := chat.Send(""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(pub.sent) != 0 {
		t.Fatalf("empty content published %d messages", len(pub.sent))
	}
}

func TestChatSendTruncatesLongContent(t *testing.T) {
	pub := &recPublisher{}
	chat := NewChatService("alice", "general", pub)

	if err := chat.Send(strings.Repeat("x", domain.MaxMessageLen+100)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := len(pub.sent[0].Content); got != domain.MaxMessageLen {
		t.Fatalf("content length = %d, want %d", got, domain.MaxMessageLen)
	}
}

func TestChatAnnounceJoin(t *testing.T) {
	pub := &recPublisher{}
	chat := NewChatService("alice", "general", pub)

	if err := chat.AnnounceJoin(); err != nil {
		t.Fatalf("AnnounceJoin: %v", err)
	}
	msg := pub.sent[0]
	if msg.Type != domain.MessageJoin {
		t.Fatalf("type = %q, want %q", msg.Type, domain.MessageJoin)
	}
	if !strings.Contains(msg.Content, "alice") {
		t.Fatalf("join content %q does not name the user", msg.Content)
	}
}

func TestChatAcceptHistoryAndObservers(t *testing.T) {
	chat := NewChatService("alice", "general", &recPublisher{})

	var seen []domain.ChatMessage
	chat.OnMessage(func(msg domain.ChatMessage) { seen = append(seen, msg) })

	first := domain.ChatMessage{Sender: "bob", Content: "hi", Type: domain.MessageChat}
	second := domain.ChatMessage{Sender: "carol", Content: "yo", Type: domain.MessageChat}
	chat.Accept(first)
	chat.Accept(second)

	if len(seen) != 2 {
		t.Fatalf("observer saw %d messages, want 2", len(seen))
	}
	hist := chat.History()
	if len(hist) != 2 || hist[0].Sender != "bob" || hist[1].Sender != "carol" {
		t.Fatalf("unexpected history %+v", hist)
	}

	// History is a snapshot; mutating it must not touch the service.
	hist[0].Content = "mutated"
	if chat.History()[0].Content != "hi" {
		t.Fatal("history snapshot shares backing storage")
	}
}
