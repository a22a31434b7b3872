// Package rtc wraps one pion PeerConnection scoped to a single remote peer.
package rtc

import (
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/jmorel/visio/internal/core"
)

type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	remote string

	mu sync.Mutex
	// Remote candidates received before the remote description is applied;
	// pion rejects them until then, so they are held and flushed afterwards.
	pendingRemote []webrtc.ICECandidateInit
	senders       map[webrtc.RTPCodecType][]*boundSender

	onICE   func(webrtc.ICECandidateInit)
	onTrack func(core.RemoteTrack)
}

// boundSender keeps the original track so an in-place mute can be undone.
type boundSender struct {
	sender *webrtc.RTPSender
	track  webrtc.TrackLocal
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"},
			},
		},
	}
}

// ConfigFromServers builds a configuration from the configured STUN URLs,
// falling back to the default public set when empty.
func ConfigFromServers(urls []string) webrtc.Configuration {
	if len(urls) == 0 {
		return DefaultWebRTCConfig()
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: urls}},
	}
}

// newAPI assembles a webrtc API with the default codec set and RTCP
// interceptors, so captured VP8/Opus tracks negotiate cleanly.
func newAPI() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}

func NewWebRTCConnection(cfg webrtc.Configuration, remote string) (*WebRTCConnection, error) {
	api, err := newAPI()
	if err != nil {
		return nil, err
	}
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	c := &WebRTCConnection{
		pc:      pc,
		remote:  remote,
		senders: make(map[webrtc.RTPCodecType][]*boundSender),
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("remote", c.remote).Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("remote", c.remote).Str("peer_connection_state", s.String()).Msg("Peer state")
	})
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("remote", c.remote).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(track)
		}
	})

	return c, nil
}

// Factory returns a core.ConnectionFactory over the given STUN server list.
func Factory(servers []string) core.ConnectionFactory {
	cfg := ConfigFromServers(servers)
	return func(remote string) (core.MediaConnection, error) {
		return NewWebRTCConnection(cfg, remote)
	}
}

// AttachLocal adds every local capture track to the PeerConnection.
func (c *WebRTCConnection) AttachLocal(media core.LocalMedia) error {
	for _, track := range media.Tracks() {
		sender, err := c.pc.AddTrack(track)
		if err != nil {
			return err
		}
		c.mu.Lock()
		kind := track.Kind()
		c.senders[kind] = append(c.senders[kind], &boundSender{sender: sender, track: track})
		c.mu.Unlock()
	}
	return nil
}

// CreateAndSetOffer builds the local offer. Candidates trickle out through
// OnICECandidate as they are gathered; there is no wait for completion.
func (c *WebRTCConnection) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	c.flushPendingRemote()
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return err
	}
	c.flushPendingRemote()
	return nil
}

// AddICECandidate applies a remote ICE candidate, holding it back until the
// remote description exists.
func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	if c.pc.RemoteDescription() == nil {
		c.pendingRemote = append(c.pendingRemote, ci)
		c.mu.Unlock()
		log.Info().Str("module", "rtc").Str("remote", c.remote).Msg("candidate held until remote description")
		return nil
	}
	c.mu.Unlock()
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) flushPendingRemote() {
	c.mu.Lock()
	pending := c.pendingRemote
	c.pendingRemote = nil
	c.mu.Unlock()
	for _, ci := range pending {
		if err := c.pc.AddICECandidate(ci); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("remote", c.remote).Msg("flush held candidate")
		}
	}
}

// OnICECandidate sets a callback for newly gathered local ICE candidates.
func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

// OnTrack sets application-level callback for remote tracks.
func (c *WebRTCConnection) OnTrack(fn func(core.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

// SetTrackEnabled pauses or resumes outbound tracks of one kind by swapping
// the sender track in place, without renegotiation.
func (c *WebRTCConnection) SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool) {
	c.mu.Lock()
	bound := c.senders[kind]
	c.mu.Unlock()
	for _, b := range bound {
		var next webrtc.TrackLocal
		if enabled {
			next = b.track
		}
		if err := b.sender.ReplaceTrack(next); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("kind", kind.String()).Msg("toggle track")
		}
	}
	log.Info().Str("module", "rtc").Str("remote", c.remote).Str("kind", kind.String()).Bool("enabled", enabled).Msg("outbound track toggled")
}

func (c *WebRTCConnection) Close() {
	if c.pc != nil {
		if err := c.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("remote", c.remote).Msg("close error")
		} else {
			log.Info().Str("module", "rtc").Str("remote", c.remote).Msg("closed")
		}
	}
}
