package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/jmorel/visio/internal/domain"
)

// queuedSignal is one early signal held until local media is ready.
// Only offer-kind signals are ever queued; answers and candidates without a
// connection object are dropped instead.
type queuedSignal struct {
	kind domain.SignalKind
	env  domain.Envelope
}

// invite is an incoming CALL_REQUEST awaiting an accept/reject decision.
// Offers racing ahead of the accept are buffered here and handed to the
// session once it exists.
type invite struct {
	from    string
	roomID  string
	pending []queuedSignal
}

// session is the bookkeeping for one ongoing or attempted call.
type session struct {
	gen     uint64
	remote  string
	roomID  string
	state   CallState
	ready   bool
	drained bool
	pending []queuedSignal

	media        LocalMedia
	conn         MediaConnection
	remoteStream *RemoteStream
	surface      Surface

	audioOn bool
	videoOn bool
}

// CallEngine owns the single active call session: it sequences media
// acquisition, offer/answer/candidate exchange and teardown, and buffers
// signals that arrive before local media is ready.
//
// All session state is serialized behind one mutex; transport delivery order
// per remote identity is preserved because signals for the engine arrive on
// a single reader goroutine.
type CallEngine struct {
	localID string
	source  MediaSource
	dial    ConnectionFactory
	pub     SignalPublisher
	obs     Observer

	mu     sync.Mutex
	gen    uint64
	sess   *session
	invite *invite
}

func NewCallEngine(localID string, source MediaSource, dial ConnectionFactory, pub SignalPublisher, obs Observer) *CallEngine {
	return &CallEngine{
		localID: localID,
		source:  source,
		dial:    dial,
		pub:     pub,
		obs:     obs,
	}
}

// State reports the active session state, or StateIdle when no session exists.
func (e *CallEngine) State() CallState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return StateIdle
	}
	return e.sess.state
}

// Remote returns the identity of the current call peer, if any.
func (e *CallEngine) Remote() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return ""
	}
	return e.sess.remote
}

// RemoteStream returns the accumulated remote stream of the active session.
func (e *CallEngine) RemoteStream() *RemoteStream {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return nil
	}
	return e.sess.remoteStream
}

// StartCall acquires local media, announces the call to the remote identity
// and sends the session offer. Blocks until the offer is on the wire or the
// attempt failed; media failures come back classified and leave the engine
// idle with the capture released.
func (e *CallEngine) StartCall(ctx context.Context, remote string, roomID domain.RoomID, surface Surface) error {
	if remote == e.localID {
		return ErrSelfCall
	}
	e.mu.Lock()
	if e.sess != nil {
		e.mu.Unlock()
		return ErrCallInProgress
	}
	s := e.newSessionLocked(remote, string(roomID), surface)
	e.mu.Unlock()

	media, err := e.source.Acquire(ctx)
	if err != nil {
		e.abortSession(s.gen)
		return fmt.Errorf("start call to %s: %w", remote, err)
	}

	e.mu.Lock()
	if !e.liveLocked(s.gen) {
		e.mu.Unlock()
		// Superseded while acquiring; the devices must not stay locked.
		media.Close()
		return ErrCallEnded
	}
	e.bindMediaLocked(s, media)
	e.drainPendingLocked(s)

	if s.conn == nil {
		if err := e.announceAndOfferLocked(s); err != nil {
			e.endLocked("offer failed")
			e.mu.Unlock()
			return err
		}
	}
	s.state = StateNegotiating
	e.mu.Unlock()

	log.Info().Str("module", "core.call").Str("remote", remote).Msg("call started")
	return nil
}

// AcceptCall answers the pending incoming call: acquires local media, then
// drains any offer that was buffered while the devices were being granted.
func (e *CallEngine) AcceptCall(ctx context.Context, surface Surface) error {
	e.mu.Lock()
	inv := e.invite
	if inv == nil {
		e.mu.Unlock()
		return ErrNoIncomingCall
	}
	if e.sess != nil {
		e.mu.Unlock()
		return ErrCallInProgress
	}
	e.invite = nil
	s := e.newSessionLocked(inv.from, inv.roomID, surface)
	s.pending = inv.pending
	e.mu.Unlock()

	media, err := e.source.Acquire(ctx)
	if err != nil {
		e.abortSession(s.gen)
		return fmt.Errorf("accept call from %s: %w", inv.from, err)
	}

	e.mu.Lock()
	if !e.liveLocked(s.gen) {
		e.mu.Unlock()
		media.Close()
		return ErrCallEnded
	}
	e.bindMediaLocked(s, media)
	e.drainPendingLocked(s)
	if s.conn != nil {
		s.state = StateNegotiating
	}
	e.mu.Unlock()

	log.Info().Str("module", "core.call").Str("remote", inv.from).Msg("call accepted")
	return nil
}

// RejectCall discards the pending incoming call, if any.
func (e *CallEngine) RejectCall() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.invite != nil {
		log.Info().Str("module", "core.call").Str("from", e.invite.from).Msg("incoming call rejected")
		e.invite = nil
	}
}

// IncomingFrom reports the identity behind the pending incoming call, if any.
func (e *CallEngine) IncomingFrom() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.invite == nil {
		return "", false
	}
	return e.invite.from, true
}

// EndCall tears the active session down: stops local capture, closes the
// connection object and clears all session state. Safe to call when no call
// is active, and safe to call twice.
func (e *CallEngine) EndCall() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.endLocked("hangup")
}

// SetAudioEnabled pauses or resumes the outbound audio tracks in place.
// No-op when no local media is held; never touches the session state.
func (e *CallEngine) SetAudioEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sess
	if s == nil || s.media == nil {
		return
	}
	s.audioOn = enabled
	if s.conn != nil {
		s.conn.SetTrackEnabled(webrtc.RTPCodecTypeAudio, enabled)
	}
}

// SetVideoEnabled pauses or resumes the outbound video tracks in place.
func (e *CallEngine) SetVideoEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sess
	if s == nil || s.media == nil {
		return
	}
	s.videoOn = enabled
	if s.conn != nil {
		s.conn.SetTrackEnabled(webrtc.RTPCodecTypeVideo, enabled)
	}
}

// HandleSignal dispatches one inbound signal from the transport. Offers that
// arrive before local media is ready are buffered; answers and candidates
// with no connection object yet are dropped and logged as a non-fatal
// ordering anomaly.
func (e *CallEngine) HandleSignal(kind domain.SignalKind, env domain.Envelope) {
	var notify func()

	e.mu.Lock()
	switch kind {
	case domain.KindCallRequest:
		notify = e.handleCallRequestLocked(env)
	case domain.KindOffer:
		e.handleOfferLocked(env)
	case domain.KindAnswer:
		e.handleAnswerLocked(env)
	case domain.KindCandidate:
		e.handleCandidateLocked(env)
	default:
		log.Warn().Str("module", "core.call").Str("type", string(kind)).Msg("unknown signal")
	}
	e.mu.Unlock()

	if notify != nil {
		notify()
	}
}

func (e *CallEngine) newSessionLocked(remote, roomID string, surface Surface) *session {
	e.gen++
	s := &session{
		gen:          e.gen,
		remote:       remote,
		roomID:       roomID,
		state:        StateAwaitingLocalMedia,
		remoteStream: &RemoteStream{},
		surface:      surface,
		audioOn:      true,
		videoOn:      true,
	}
	e.sess = s
	return s
}

func (e *CallEngine) liveLocked(gen uint64) bool {
	return e.sess != nil && e.sess.gen == gen
}

// bindMediaLocked attaches acquired capture to the session and flips the
// ready flag that gates signal buffering.
func (e *CallEngine) bindMediaLocked(s *session, media LocalMedia) {
	s.media = media
	if s.surface != nil {
		s.surface.AttachLocal(media, true)
	}
	s.ready = true
}

// abortSession rolls a failed attempt back to idle if it is still current.
func (e *CallEngine) abortSession(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.liveLocked(gen) {
		e.endLocked("aborted")
	}
}

func (e *CallEngine) handleCallRequestLocked(env domain.Envelope) func() {
	if e.sess != nil {
		log.Warn().Str("module", "core.call").Str("from", env.From).Msg("call request while busy, dropped")
		return nil
	}
	if e.invite != nil && e.invite.from != env.From {
		log.Warn().Str("module", "core.call").Str("from", e.invite.from).Msg("pending invite superseded")
	}
	e.invite = &invite{from: env.From, roomID: env.RoomID}
	from := env.From
	log.Info().Str("module", "core.call").Str("from", from).Msg("incoming call")
	return func() { e.obs.IncomingCall(from) }
}

func (e *CallEngine) handleOfferLocked(env domain.Envelope) {
	s := e.sess
	if s != nil {
		// The session only ever negotiates with its own peer; buffered or
		// not, an offer from anyone else is noise.
		if env.From != s.remote {
			log.Warn().Str("module", "core.call").Str("from", env.From).Str("remote", s.remote).Msg("offer from unexpected peer, dropped")
			return
		}
		if !s.ready {
			s.pending = append(s.pending, queuedSignal{kind: domain.KindOffer, env: env})
			log.Info().Str("module", "core.call").Str("from", env.From).Int("queued", len(s.pending)).Msg("offer buffered until media ready")
			return
		}
		e.answerOfferLocked(s, env)
		return
	}
	if e.invite != nil && e.invite.from == env.From {
		e.invite.pending = append(e.invite.pending, queuedSignal{kind: domain.KindOffer, env: env})
		log.Info().Str("module", "core.call").Str("from", env.From).Msg("offer buffered until call accepted")
		return
	}
	log.Warn().Str("module", "core.call").Str("from", env.From).Msg("stray offer, dropped")
}

func (e *CallEngine) handleAnswerLocked(env domain.Envelope) {
	s := e.sess
	if s == nil || s.conn == nil {
		log.Warn().Str("module", "core.call").Str("from", env.From).Err(ErrNegotiationOutOfOrder).Msg("answer with no connection, dropped")
		return
	}
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(env.Signal, &answer); err != nil {
		log.Error().Str("module", "core.call").Err(err).Msg("bad answer payload")
		return
	}
	if err := s.conn.ApplyAnswer(answer); err != nil {
		log.Error().Str("module", "core.call").Err(err).Msg("apply answer")
		e.endLocked("answer failed")
	}
}

func (e *CallEngine) handleCandidateLocked(env domain.Envelope) {
	s := e.sess
	if s == nil || s.conn == nil {
		log.Warn().Str("module", "core.call").Str("from", env.From).Err(ErrNegotiationOutOfOrder).Msg("candidate with no connection, dropped")
		return
	}
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(env.Signal, &cand); err != nil {
		log.Error().Str("module", "core.call").Err(err).Msg("bad candidate payload")
		return
	}
	if err := s.conn.AddICECandidate(cand); err != nil {
		// Non-fatal: a single bad candidate does not tear the call down.
		log.Error().Str("module", "core.call").Err(err).Msg("add ice candidate")
	}
}

// drainPendingLocked processes every buffered offer in receipt order, exactly
// once per session. Later calls are no-ops.
func (e *CallEngine) drainPendingLocked(s *session) {
	if s.drained {
		return
	}
	s.drained = true
	if len(s.pending) == 0 {
		return
	}
	pending := s.pending
	s.pending = nil
	log.Info().Str("module", "core.call").Int("count", len(pending)).Msg("draining buffered signals")
	for _, q := range pending {
		if e.sess != s {
			return // torn down by a failed entry
		}
		if q.kind == domain.KindOffer {
			e.answerOfferLocked(s, q.env)
		}
	}
}

// answerOfferLocked runs the callee sequence for one offer: fresh connection
// scoped to the caller, local tracks attached, remote description applied,
// answer synthesized and sent back. Each step completes before the next.
func (e *CallEngine) answerOfferLocked(s *session, env domain.Envelope) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(env.Signal, &offer); err != nil {
		log.Error().Str("module", "core.call").Err(err).Msg("bad offer payload")
		return
	}

	if s.conn != nil {
		// A newer offer supersedes the previous connection object.
		log.Warn().Str("module", "core.call").Str("from", env.From).Msg("replacing connection for renewed offer")
		s.conn.Close()
		s.conn = nil
	}

	conn, err := e.dial(env.From)
	if err != nil {
		log.Error().Str("module", "core.call").Err(err).Msg("open connection")
		e.endLocked("connection failed")
		return
	}
	e.bindConnLocked(s, conn, env.From)

	answer, err := conn.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		log.Error().Str("module", "core.call").Err(err).Msg("apply offer")
		e.endLocked("negotiation failed")
		return
	}
	if err := e.publishSignal(domain.KindAnswer, env.From, s.roomID, answer); err != nil {
		log.Error().Str("module", "core.call").Err(err).Msg("send answer")
		e.endLocked("transport failed")
		return
	}
	s.state = StateNegotiating
}

// announceAndOfferLocked runs the caller sequence: CALL_REQUEST first so the
// callee can surface the incoming-call dialog, then the session offer.
func (e *CallEngine) announceAndOfferLocked(s *session) error {
	req := domain.Envelope{Type: domain.KindCallRequest, To: s.remote, RoomID: s.roomID}
	if err := e.pub.Publish(domain.DestCallRequest, req); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}

	conn, err := e.dial(s.remote)
	if err != nil {
		return fmt.Errorf("open connection: %w", err)
	}
	e.bindConnLocked(s, conn, s.remote)

	offer, err := conn.CreateAndSetOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := e.publishSignal(domain.KindOffer, s.remote, s.roomID, offer); err != nil {
		return err
	}
	return nil
}

// bindConnLocked attaches local media and routes connection callbacks back
// into the engine. Callbacks carry the session generation so continuations
// that outlive a teardown cannot resurrect it.
func (e *CallEngine) bindConnLocked(s *session, conn MediaConnection, remote string) {
	s.conn = conn
	gen := s.gen

	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		e.sendCandidate(gen, remote, ci)
	})
	conn.OnTrack(func(t RemoteTrack) {
		e.acceptRemoteTrack(gen, t)
	})

	if s.media != nil {
		if err := conn.AttachLocal(s.media); err != nil {
			log.Error().Str("module", "core.call").Err(err).Msg("attach local tracks")
		}
	}
	if !s.audioOn {
		conn.SetTrackEnabled(webrtc.RTPCodecTypeAudio, false)
	}
	if !s.videoOn {
		conn.SetTrackEnabled(webrtc.RTPCodecTypeVideo, false)
	}
}

// sendCandidate relays one locally gathered candidate to the remote peer.
// Runs on the connection's gathering goroutine for the life of the
// negotiation.
func (e *CallEngine) sendCandidate(gen uint64, remote string, ci webrtc.ICECandidateInit) {
	e.mu.Lock()
	live := e.liveLocked(gen)
	roomID := ""
	if live {
		roomID = e.sess.roomID
	}
	e.mu.Unlock()
	if !live {
		return
	}
	if err := e.publishSignal(domain.KindCandidate, remote, roomID, ci); err != nil {
		log.Error().Str("module", "core.call").Err(err).Msg("send candidate")
	}
}

// acceptRemoteTrack folds one inbound track into the accumulated remote
// stream and notifies the UI with the full stream, not a delta. The first
// track marks connectivity as established.
func (e *CallEngine) acceptRemoteTrack(gen uint64, t RemoteTrack) {
	e.mu.Lock()
	if !e.liveLocked(gen) {
		e.mu.Unlock()
		return
	}
	s := e.sess
	s.remoteStream.add(t)
	if s.state == StateNegotiating {
		s.state = StateActive
	}
	stream := s.remoteStream
	surface := s.surface
	e.mu.Unlock()

	log.Info().Str("module", "core.call").Str("track", t.ID()).Str("kind", t.Kind().String()).Msg("remote track")
	if surface != nil {
		surface.AttachRemote(stream)
	}
	e.obs.RemoteStreamUpdated(stream)
}

func (e *CallEngine) publishSignal(kind domain.SignalKind, to, roomID string, signal any) error {
	b, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	env := domain.Envelope{Type: kind, To: to, RoomID: roomID, Signal: b}
	if err := e.pub.Publish(domain.DestFor(kind), env); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	return nil
}

// endLocked releases capture, closes the connection and clears every piece
// of session state, unconditionally. Bumping the generation invalidates any
// continuation still in flight.
func (e *CallEngine) endLocked(reason string) {
	s := e.sess
	if s == nil {
		return
	}
	if s.media != nil {
		s.media.Close()
		s.media = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.pending = nil
	s.ready = false
	s.remoteStream.clear()
	s.state = StateEnded
	e.sess = nil
	e.gen++
	log.Info().Str("module", "core.call").Str("remote", s.remote).Str("reason", reason).Msg("call ended")
}
