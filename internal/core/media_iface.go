package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// RemoteTrack is the read-only view of an inbound media track.
// *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// LocalMedia is an owned handle to local camera/microphone capture.
// Exclusively owned by the call session; Close releases the devices.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
	Close()
}

// MediaSource acquires local capture. Blocks until the platform grants or
// refuses the devices; failures come back classified (ErrMedia*).
type MediaSource interface {
	Acquire(ctx context.Context) (LocalMedia, error)
}

// Surface is where the UI shell renders media. Local capture is attached
// muted to avoid echo.
type Surface interface {
	AttachLocal(m LocalMedia, muted bool)
	AttachRemote(s *RemoteStream)
}

// MediaConnection wraps one peer connection scoped to a single remote
// identity. Obtained fresh per call and discarded on teardown.
type MediaConnection interface {
	// AttachLocal adds every local capture track to the connection.
	AttachLocal(media LocalMedia) error
	// CreateAndSetOffer builds the local offer description.
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	// ApplyOfferAndCreateAnswer runs the callee sequence: remote description,
	// answer synthesis, local description. Strictly sequential.
	ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// ApplyAnswer applies the remote answer on the caller side.
	ApplyAnswer(answer webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate. Must tolerate candidates
	// arriving before the remote description is set.
	AddICECandidate(webrtc.ICECandidateInit) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(RemoteTrack))
	// SetTrackEnabled pauses or resumes outbound tracks of one kind in place,
	// without renegotiation.
	SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool)
	Close()
}

// ConnectionFactory opens a fresh MediaConnection for a remote identity.
type ConnectionFactory func(remote string) (MediaConnection, error)
