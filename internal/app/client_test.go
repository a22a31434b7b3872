package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/jmorel/visio/internal/core"
	"github.com/jmorel/visio/internal/domain"
)

type fakeTransport struct {
	mu       sync.Mutex
	handlers map[string]func([]byte)
	failDest string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: map[string]func([]byte){}}
}

func (t *fakeTransport) Publish(destination string, v any) error { return nil }

func (t *fakeTransport) Subscribe(destination string, fn func(body []byte)) error {
	if destination == t.failDest {
		return errors.New("subscribe refused")
	}
	t.mu.Lock()
	t.handlers[destination] = fn
	t.mu.Unlock()
	return nil
}

// deliver simulates a server MESSAGE frame on one destination.
func (t *fakeTransport) deliver(tb testing.TB, destination string, v any) {
	tb.Helper()
	t.mu.Lock()
	fn := t.handlers[destination]
	t.mu.Unlock()
	if fn == nil {
		tb.Fatalf("no subscription for %q", destination)
	}
	body, err := json.Marshal(v)
	if err != nil {
		tb.Fatalf("marshal: %v", err)
	}
	fn(body)
}

type nullSource struct{}

func (nullSource) Acquire(ctx context.Context) (core.LocalMedia, error) {
	return nil, core.ErrMediaDeviceNotFound
}

type nullObserver struct {
	mu       sync.Mutex
	incoming []string
}

func (o *nullObserver) IncomingCall(from string) {
	o.mu.Lock()
	o.incoming = append(o.incoming, from)
	o.mu.Unlock()
}

func (o *nullObserver) RemoteStreamUpdated(*core.RemoteStream) {}

func nullDial(remote string) (core.MediaConnection, error) {
	return nil, errors.New("no connection in this test")
}

func TestNewClientSubscribesAllDestinations(t *testing.T) {
	tr := newFakeTransport()
	obs := &nullObserver{}
	if _, err := NewClient("alice", "general", tr, nullSource{}, nullDial, obs); err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	want := []string{
		domain.QueueCallRequest,
		domain.QueueOffer,
		domain.QueueAnswer,
		domain.QueueCandidate,
		domain.TopicMessages,
		domain.TopicNotifications,
	}
	for _, dest := range want {
		if tr.handlers[dest] == nil {
			t.Errorf("no subscription for %q", dest)
		}
	}
}

func TestClientRoutesSignalsToEngine(t *testing.T) {
	tr := newFakeTransport()
	obs := &nullObserver{}
	c, err := NewClient("alice", "general", tr, nullSource{}, nullDial, obs)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	tr.deliver(t, domain.QueueCallRequest, domain.Envelope{
		Type: domain.KindCallRequest,
		From: "bob",
		To:   "alice",
	})
	if len(obs.incoming) != 1 || obs.incoming[0] != "bob" {
		t.Fatalf("incoming = %v, want [bob]", obs.incoming)
	}
	if got, ok := c.Calls.IncomingFrom(); !ok || got != "bob" {
		t.Fatalf("IncomingFrom = %q, %v, want bob", got, ok)
	}
}

func TestClientRoutesChatToHistory(t *testing.T) {
	tr := newFakeTransport()
	c, err := NewClient("alice", "general", tr, nullSource{}, nullDial, &nullObserver{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	tr.deliver(t, domain.TopicMessages, domain.ChatMessage{
		Sender: "bob", Content: "hi", Type: domain.MessageChat, RoomID: "general",
	})
	hist := c.Chat.History()
	if len(hist) != 1 || hist[0].Sender != "bob" {
		t.Fatalf("unexpected history %+v", hist)
	}
}

func TestClientIgnoresMalformedPayloads(t *testing.T) {
	tr := newFakeTransport()
	obs := &nullObserver{}
	c, err := NewClient("alice", "general", tr, nullSource{}, nullDial, obs)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	tr.handlers[domain.QueueOffer]([]byte("{not json"))
	tr.handlers[domain.TopicMessages]([]byte("{not json"))

	if len(obs.incoming) != 0 {
		t.Fatalf("malformed payload produced notification %v", obs.incoming)
	}
	if len(c.Chat.History()) != 0 {
		t.Fatal("malformed chat payload reached history")
	}
}

func TestNewClientPropagatesSubscribeFailure(t *testing.T) {
	tr := newFakeTransport()
	tr.failDest = domain.QueueAnswer
	if _, err := NewClient("alice", "general", tr, nullSource{}, nullDial, &nullObserver{}); err == nil {
		t.Fatal("expected subscribe failure to surface")
	}
}
