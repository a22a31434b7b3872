package core

// SignalPublisher abstracts the outbound half of the messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalPublisher interface {
	// Publish delivers a JSON-encoded payload to a server destination.
	// Fire-and-forget: it must not block on the network.
	Publish(destination string, v any) error
}

// Observer receives the only two notifications the surrounding UI shell
// needs to subscribe to.
type Observer interface {
	IncomingCall(from string)
	RemoteStreamUpdated(stream *RemoteStream)
}
