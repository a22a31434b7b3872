package rtc

import (
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/jmorel/visio/internal/core"
)

type staticMedia struct {
	tracks []webrtc.TrackLocal
}

func (m *staticMedia) Tracks() []webrtc.TrackLocal { return m.tracks }
func (m *staticMedia) Close()                      {}

func newVideoMedia(t *testing.T, id string) core.LocalMedia {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, id, "test-stream",
	)
	if err != nil {
		t.Fatalf("create local track: %v", err)
	}
	return &staticMedia{tracks: []webrtc.TrackLocal{track}}
}

const hostCandidate = "candidate:3233717967 1 udp 2122260223 192.168.1.7 51000 typ host"

func TestOfferAnswerSequence(t *testing.T) {
	caller, err := NewWebRTCConnection(webrtc.Configuration{}, "bob")
	if err != nil {
		t.Fatalf("caller connection: %v", err)
	}
	defer caller.Close()
	if err := caller.AttachLocal(newVideoMedia(t, "caller-video")); err != nil {
		t.Fatalf("attach caller media: %v", err)
	}

	offer, err := caller.CreateAndSetOffer()
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if offer == nil || offer.Type != webrtc.SDPTypeOffer {
		t.Fatalf("offer = %v, want a set offer description", offer)
	}

	answerer, err := NewWebRTCConnection(webrtc.Configuration{}, "alice")
	if err != nil {
		t.Fatalf("answerer connection: %v", err)
	}
	defer answerer.Close()
	if err := answerer.AttachLocal(newVideoMedia(t, "answerer-video")); err != nil {
		t.Fatalf("attach answerer media: %v", err)
	}

	// A candidate ahead of the offer must be tolerated, not rejected.
	mid := "0"
	idx := uint16(0)
	early := webrtc.ICECandidateInit{Candidate: hostCandidate, SDPMid: &mid, SDPMLineIndex: &idx}
	if err := answerer.AddICECandidate(early); err != nil {
		t.Fatalf("early candidate rejected: %v", err)
	}

	answer, err := answerer.ApplyOfferAndCreateAnswer(*offer)
	if err != nil {
		t.Fatalf("apply offer: %v", err)
	}
	if answer == nil || answer.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("answer = %v, want a set answer description", answer)
	}
	answerer.mu.Lock()
	held := len(answerer.pendingRemote)
	answerer.mu.Unlock()
	if held != 0 {
		t.Fatalf("held candidates after remote description = %d, want 0", held)
	}

	if err := caller.ApplyAnswer(*answer); err != nil {
		t.Fatalf("apply answer: %v", err)
	}

	// Late candidate goes straight to the connection.
	if err := caller.AddICECandidate(early); err != nil {
		t.Fatalf("late candidate rejected: %v", err)
	}
}

func TestSetTrackEnabledInPlace(t *testing.T) {
	conn, err := NewWebRTCConnection(webrtc.Configuration{}, "bob")
	if err != nil {
		t.Fatalf("connection: %v", err)
	}
	defer conn.Close()
	if err := conn.AttachLocal(newVideoMedia(t, "video")); err != nil {
		t.Fatalf("attach media: %v", err)
	}

	conn.SetTrackEnabled(webrtc.RTPCodecTypeVideo, false)
	conn.mu.Lock()
	bound := conn.senders[webrtc.RTPCodecTypeVideo]
	conn.mu.Unlock()
	if len(bound) != 1 {
		t.Fatalf("bound video senders = %d, want 1", len(bound))
	}
	if bound[0].sender.Track() != nil {
		t.Fatal("sender still carries a track while disabled")
	}

	conn.SetTrackEnabled(webrtc.RTPCodecTypeVideo, true)
	if bound[0].sender.Track() == nil {
		t.Fatal("sender track not restored after enable")
	}
}

func TestConfigFromServers(t *testing.T) {
	cfg := ConfigFromServers(nil)
	if len(cfg.ICEServers) == 0 {
		t.Fatal("empty server list must fall back to defaults")
	}
	cfg = ConfigFromServers([]string{"stun:stun.example.org:3478"})
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0].URLs[0] != "stun:stun.example.org:3478" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
