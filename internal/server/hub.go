package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jmorel/visio/internal/domain"
)

// Hub routes frames between connected users: call signals to the addressed
// peer's private queue, chat messages to everyone on the broadcast topic.
type Hub struct {
	store *MessageStore

	mu      sync.RWMutex
	clients map[string]*wsClient
}

// NewHub creates a hub. store may be nil, in which case chat history is not
// persisted.
func NewHub(store *MessageStore) *Hub {
	return &Hub{
		store:   store,
		clients: make(map[string]*wsClient),
	}
}

func (h *Hub) register(username string, c *wsClient) {
	h.mu.Lock()
	prev := h.clients[username]
	h.clients[username] = c
	h.mu.Unlock()
	if prev != nil {
		// One connection per user; a reconnect evicts the stale one.
		prev.Close()
	}
	log.Info().Str("module", "server.hub").Str("username", username).Msg("user connected")
	h.notifyPresence(username, "ONLINE")
}

func (h *Hub) unregister(username string, c *wsClient) {
	h.mu.Lock()
	if h.clients[username] == c {
		delete(h.clients, username)
	} else {
		// Evicted by a reconnect; presence already belongs to the new conn.
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	log.Info().Str("module", "server.hub").Str("username", username).Msg("user disconnected")
	h.notifyPresence(username, "OFFLINE")
}

// Online lists the usernames of currently connected users.
func (h *Hub) Online() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.clients))
	for username := range h.clients {
		out = append(out, username)
	}
	return out
}

func (h *Hub) handleFrame(username string, c *wsClient, data []byte) {
	var f domain.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Error().Err(err).Str("module", "server.hub").Str("username", username).Msg("bad frame")
		return
	}

	switch f.Command {
	case domain.FrameSubscribe:
		c.subscribe(f.Destination)
	case domain.FrameSend:
		h.route(username, f)
	default:
		log.Warn().Str("module", "server.hub").Str("command", string(f.Command)).Msg("unknown frame command")
	}
}

func (h *Hub) route(username string, f domain.Frame) {
	switch f.Destination {
	case domain.DestChatSend:
		h.routeChat(username, f.Body)
	case domain.DestCallRequest:
		h.routeSignal(username, domain.KindCallRequest, f.Body)
	case domain.DestOffer:
		h.routeSignal(username, domain.KindOffer, f.Body)
	case domain.DestAnswer:
		h.routeSignal(username, domain.KindAnswer, f.Body)
	case domain.DestCandidate:
		h.routeSignal(username, domain.KindCandidate, f.Body)
	default:
		log.Warn().Str("module", "server.hub").Str("destination", f.Destination).Msg("send to unknown destination")
	}
}

func (h *Hub) routeChat(username string, body []byte) {
	var msg domain.ChatMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		log.Error().Err(err).Str("module", "server.hub").Msg("bad chat payload")
		return
	}
	// The sender field comes from the authenticated principal, never the
	// client payload.
	msg.Sender = username
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if len(msg.Content) > domain.MaxMessageLen {
		msg.Content = msg.Content[:domain.MaxMessageLen]
	}

	if h.store != nil {
		if err := h.store.Save(msg); err != nil {
			log.Error().Err(err).Str("module", "server.hub").Msg("persist message")
		}
	}
	h.broadcast(domain.TopicMessages, msg)
}

func (h *Hub) routeSignal(username string, kind domain.SignalKind, body []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		log.Error().Err(err).Str("module", "server.hub").Str("kind", string(kind)).Msg("bad signal payload")
		return
	}
	env.Type = kind
	env.From = username

	h.mu.RLock()
	target := h.clients[env.To]
	h.mu.RUnlock()
	if target == nil {
		log.Warn().Str("module", "server.hub").
			Str("kind", string(kind)).Str("from", username).Str("to", env.To).
			Msg("signal for offline user dropped")
		return
	}
	h.deliver(target, domain.QueueFor(kind), env)
}

func (h *Hub) broadcast(destination string, v any) {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.deliver(c, destination, v)
	}
}

func (h *Hub) notifyPresence(username, status string) {
	h.broadcast(domain.TopicNotifications, map[string]string{
		"username": username,
		"status":   status,
	})
}

func (h *Hub) deliver(c *wsClient, destination string, v any) {
	if !c.subscribed(destination) {
		return
	}
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "server.hub").Msg("encode delivery")
		return
	}
	frame, err := json.Marshal(domain.Frame{Command: domain.FrameMessage, Destination: destination, Body: body})
	if err != nil {
		log.Error().Err(err).Str("module", "server.hub").Msg("encode frame")
		return
	}
	if err := c.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "server.hub").Str("destination", destination).Msg("delivery dropped")
	}
}
