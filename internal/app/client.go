// Package app wires the call engine and the chat layer to the transport.
package app

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/jmorel/visio/internal/core"
	"github.com/jmorel/visio/internal/domain"
)

// Transport is what the client needs from the messaging channel: outbound
// publish plus per-destination inbound subscriptions.
type Transport interface {
	core.SignalPublisher
	Subscribe(destination string, fn func(body []byte)) error
}

// Client composes the call core and the chat layer over one transport
// connection.
type Client struct {
	Calls *core.CallEngine
	Chat  *ChatService
}

func NewClient(
	localID string,
	roomID domain.RoomID,
	tr Transport,
	source core.MediaSource,
	dial core.ConnectionFactory,
	obs core.Observer,
) (*Client, error) {
	c := &Client{
		Calls: core.NewCallEngine(localID, source, dial, tr, obs),
		Chat:  NewChatService(localID, roomID, tr),
	}

	// One inbound topic per signal kind, each a per-user private queue.
	signalQueues := []struct {
		destination string
		kind        domain.SignalKind
	}{
		{domain.QueueCallRequest, domain.KindCallRequest},
		{domain.QueueOffer, domain.KindOffer},
		{domain.QueueAnswer, domain.KindAnswer},
		{domain.QueueCandidate, domain.KindCandidate},
	}
	for _, q := range signalQueues {
		kind := q.kind
		if err := tr.Subscribe(q.destination, func(body []byte) {
			var env domain.Envelope
			if err := json.Unmarshal(body, &env); err != nil {
				log.Error().Err(err).Str("module", "app").Str("queue", domain.QueueFor(kind)).Msg("bad signal payload")
				return
			}
			c.Calls.HandleSignal(kind, env)
		}); err != nil {
			return nil, err
		}
	}

	if err := tr.Subscribe(domain.TopicMessages, func(body []byte) {
		var msg domain.ChatMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			log.Error().Err(err).Str("module", "app").Msg("bad chat payload")
			return
		}
		c.Chat.Accept(msg)
	}); err != nil {
		return nil, err
	}

	if err := tr.Subscribe(domain.TopicNotifications, func(body []byte) {
		log.Info().Str("module", "app").Str("notification", string(body)).Msg("notification")
	}); err != nil {
		return nil, err
	}

	return c, nil
}
