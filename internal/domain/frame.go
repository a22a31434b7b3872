package domain

import "encoding/json"

// FrameCommand is the verb of one transport frame.
type FrameCommand string

const (
	// FrameSend publishes a body to an application destination.
	FrameSend FrameCommand = "SEND"
	// FrameSubscribe registers interest in a delivery destination.
	FrameSubscribe FrameCommand = "SUBSCRIBE"
	// FrameMessage delivers a body on a subscribed destination.
	FrameMessage FrameCommand = "MESSAGE"
)

// Frame is the JSON envelope carried on the persistent connection between
// client and server, a destination-routed publish/subscribe frame.
type Frame struct {
	Command     FrameCommand    `json:"command"`
	Destination string          `json:"destination"`
	Body        json.RawMessage `json:"body,omitempty"`
}
