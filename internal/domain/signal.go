package domain

import "encoding/json"

// SignalKind discriminates call-signaling envelopes.
type SignalKind string

const (
	KindCallRequest SignalKind = "CALL_REQUEST"
	KindOffer       SignalKind = "OFFER"
	KindAnswer      SignalKind = "ANSWER"
	KindCandidate   SignalKind = "ICE_CANDIDATE"
)

// Envelope is the wire shape of every call signal routed between peers.
// Signal carries an SDP description for OFFER/ANSWER and an ICE candidate
// for ICE_CANDIDATE; it is empty for CALL_REQUEST.
// From is stamped by the server from the authenticated principal and must
// not be trusted when set by a client.
type Envelope struct {
	Type   SignalKind      `json:"type"`
	From   string          `json:"from,omitempty"`
	To     string          `json:"to"`
	RoomID string          `json:"roomId,omitempty"`
	Signal json.RawMessage `json:"signal,omitempty"`
}

// Application destinations (client -> server).
const (
	DestChatSend    = "/app/chat.send"
	DestCallRequest = "/app/video.call"
	DestOffer       = "/app/video.offer"
	DestAnswer      = "/app/video.answer"
	DestCandidate   = "/app/video.ice"
)

// Delivery destinations (server -> client). Queue* are per-user private
// queues, Topic* are broadcast.
const (
	QueueCallRequest   = "/user/queue/video.call"
	QueueOffer         = "/user/queue/video.offer"
	QueueAnswer        = "/user/queue/video.answer"
	QueueCandidate     = "/user/queue/video.ice"
	TopicMessages      = "/topic/messages"
	TopicNotifications = "/topic/notifications"
)

// QueueFor maps a signal kind to the private queue it is delivered on.
func QueueFor(kind SignalKind) string {
	switch kind {
	case KindCallRequest:
		return QueueCallRequest
	case KindOffer:
		return QueueOffer
	case KindAnswer:
		return QueueAnswer
	case KindCandidate:
		return QueueCandidate
	}
	return ""
}

// DestFor maps a signal kind to the application destination clients publish on.
func DestFor(kind SignalKind) string {
	switch kind {
	case KindCallRequest:
		return DestCallRequest
	case KindOffer:
		return DestOffer
	case KindAnswer:
		return DestAnswer
	case KindCandidate:
		return DestCandidate
	}
	return ""
}
