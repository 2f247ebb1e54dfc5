// Package conference implements the voice room flow: a per-room signaling
// socket and peer connection carrying local audio, renegotiated whenever
// the room's membership changes. Unlike the chat connection there is no
// reconnection policy or connect timeout; failures surface an error string
// and leave the user to retry by joining again.
package conference

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"taskbridge/internal/config"
	"taskbridge/internal/conn"
	"taskbridge/internal/log"
	"taskbridge/internal/tracing"
)

// CallStatus is the conference call lifecycle state.
type CallStatus int

const (
	CallDisconnected CallStatus = iota
	CallConnecting
	CallConnected
	CallFailed
)

func (s CallStatus) String() string {
	switch s {
	case CallDisconnected:
		return "disconnected"
	case CallConnecting:
		return "connecting"
	case CallConnected:
		return "connected"
	case CallFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config holds the conference endpoints and timing.
type Config struct {
	// SignalURL is the room signaling base; the room and user ids are
	// appended as path segments on join.
	SignalURL  string
	ICEServers []config.ICEServer

	// RejoinDelay is the pause between teardown and rejoin after a
	// peer-left notification forces a clean renegotiation.
	RejoinDelay time.Duration
}

// Session manages membership in at most one conference room at a time.
type Session struct {
	cfg    Config
	dialer conn.SignalDialer
	peers  conn.PeerFactory
	tracer trace.Tracer

	mu           sync.Mutex
	status       CallStatus
	lastErr      string
	participants []string
	active       *call
	roomID       string
	userID       string
	rejoinTimer  *time.Timer

	subs struct {
		mu  sync.Mutex
		fns []*statusFn
	}
}

type statusFn struct{ fn func(CallStatus) }

// call owns one room membership's resources.
type call struct {
	sig  conn.SignalConn
	peer conn.Peer

	span      trace.Span
	spanOnce  sync.Once
	closeOnce sync.Once
}

func (c *call) close() {
	c.closeOnce.Do(func() {
		if c.peer != nil {
			_ = c.peer.Close()
		}
		if c.sig != nil {
			_ = c.sig.Close()
		}
	})
}

func (c *call) endSpan(code codes.Code, desc string) {
	c.spanOnce.Do(func() {
		if c.span == nil {
			return
		}
		c.span.SetStatus(code, desc)
		c.span.End()
	})
}

// Option customizes a Session.
type Option func(*Session)

// WithSignalDialer replaces the signaling transport.
func WithSignalDialer(d conn.SignalDialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithPeerFactory replaces the peer connection transport.
func WithPeerFactory(f conn.PeerFactory) Option {
	return func(s *Session) { s.peers = f }
}

// WithTracer records join spans on the given tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Session) { s.tracer = t }
}

// NewSession creates a conference session. Without options it uses the
// production WebSocket and WebRTC transports.
func NewSession(cfg Config, opts ...Option) *Session {
	if cfg.RejoinDelay <= 0 {
		cfg.RejoinDelay = 100 * time.Millisecond
	}
	s := &Session{
		cfg:    cfg,
		dialer: conn.WebSocketDialer{},
		peers:  conn.WebRTCFactory{},
		tracer: noop.NewTracerProvider().Tracer("conference"),
		status: CallDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status returns the current call status.
func (s *Session) Status() CallStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastError returns the user-displayable message of the most recent
// failure, cleared on the next Join.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Participants returns the remote participants' stream ids, in arrival
// order with duplicates removed.
func (s *Session) Participants() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.participants))
	copy(out, s.participants)
	return out
}

// SubscribeStatus registers fn to be called on every status transition.
func (s *Session) SubscribeStatus(fn func(CallStatus)) (cancel func()) {
	sub := &statusFn{fn: fn}
	s.subs.mu.Lock()
	s.subs.fns = append(s.subs.fns, sub)
	s.subs.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subs.mu.Lock()
			defer s.subs.mu.Unlock()
			for i, candidate := range s.subs.fns {
				if candidate == sub {
					s.subs.fns = append(s.subs.fns[:i:i], s.subs.fns[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Session) setStatus(status CallStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()

	s.subs.mu.Lock()
	fns := make([]*statusFn, len(s.subs.fns))
	copy(fns, s.subs.fns)
	s.subs.mu.Unlock()
	for _, sub := range fns {
		sub.fn(status)
	}
}

// Join enters a room. A Join while a call is alive is a no-op, as in the
// chat connection's reentrancy guard.
func (s *Session) Join(roomID, userID string) {
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		log.Debug(log.CatConf, "join skipped, call already active")
		return
	}
	s.roomID = roomID
	s.userID = userID
	s.lastErr = ""
	s.participants = nil

	c := &call{}
	_, c.span = s.tracer.Start(context.Background(), tracing.SpanConferenceJoin,
		trace.WithAttributes(
			attribute.String(tracing.AttrRoomID, roomID),
			attribute.String(tracing.AttrUserID, userID),
		))
	s.active = c
	s.mu.Unlock()

	log.Info(log.CatConf, "joining room", "room", roomID, "user", userID)
	s.setStatus(CallConnecting)

	peer, err := s.peers.NewPeer(conn.PeerConfig{ICEServers: s.cfg.ICEServers}, conn.PeerHandlers{
		OnStateChange: func(state conn.PeerState) { s.onPeerState(c, state) },
		OnTrack:       func(streamID string) { s.onTrack(c, streamID) },
	})
	if err != nil {
		s.fail(c, "Could not start call.", err)
		return
	}

	s.mu.Lock()
	if s.active != c {
		s.mu.Unlock()
		_ = peer.Close()
		return
	}
	c.peer = peer
	s.mu.Unlock()

	if err := peer.AddLocalAudio(); err != nil {
		s.fail(c, "Could not access the microphone.", err)
		return
	}

	url := fmt.Sprintf("%s/%s/%s", s.cfg.SignalURL, roomID, userID)
	s.mu.Lock()
	if s.active != c {
		s.mu.Unlock()
		return
	}
	c.sig = s.dialer.Dial(url, conn.SignalHandlers{
		OnOpen:    func() { s.onSignalOpen(c) },
		OnMessage: func(data []byte) { s.onSignalMessage(c, data) },
		OnError:   func(err error) { s.fail(c, "Signaling connection failed.", err) },
		OnClose:   func(graceful bool) { s.onSignalClose(c) },
	})
	s.mu.Unlock()
}

// Leave idempotently tears down the current call.
func (s *Session) Leave() {
	s.mu.Lock()
	if s.rejoinTimer != nil {
		s.rejoinTimer.Stop()
		s.rejoinTimer = nil
	}
	c := s.active
	s.active = nil
	s.participants = nil
	s.roomID = ""
	s.userID = ""
	s.mu.Unlock()

	if c == nil {
		return
	}
	log.Info(log.CatConf, "leaving room")
	c.endSpan(codes.Ok, "left")
	c.close()
	s.setStatus(CallDisconnected)
}

func (s *Session) fail(c *call, display string, err error) {
	s.mu.Lock()
	if s.active != c {
		s.mu.Unlock()
		return
	}
	s.active = nil
	s.participants = nil
	s.lastErr = display
	s.mu.Unlock()

	log.ErrorErr(log.CatConf, "call failed", err, "display", display)
	c.endSpan(codes.Error, display)
	c.close()
	s.setStatus(CallFailed)
}

func (s *Session) onSignalOpen(c *call) {
	s.mu.Lock()
	if s.active != c {
		s.mu.Unlock()
		return
	}
	peer, sig := c.peer, c.sig
	s.mu.Unlock()

	sdp, err := peer.CreateOffer(false)
	if err != nil {
		s.fail(c, "Could not start call.", err)
		return
	}
	if err := sig.Send(conn.SignalMessage{Type: conn.SignalOffer, SDP: sdp}); err != nil {
		s.fail(c, "Signaling connection failed.", err)
		return
	}
}

func (s *Session) onSignalMessage(c *call, data []byte) {
	s.mu.Lock()
	if s.active != c || c.peer == nil {
		s.mu.Unlock()
		return
	}
	peer, sig := c.peer, c.sig
	s.mu.Unlock()

	var msg conn.SignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn(log.CatConf, "malformed signaling message", "error", err)
		return
	}

	switch msg.Type {
	case conn.SignalAnswer:
		if err := peer.SetRemoteAnswer(msg.SDP); err != nil {
			s.fail(c, "Connection failed.", err)
		}

	case conn.SignalNewPeer:
		// A new participant needs a fresh negotiation that includes
		// their media; an ICE restart forces it.
		log.Info(log.CatConf, "new peer joined, renegotiating", "peer", msg.PeerID)
		sdp, err := peer.CreateOffer(true)
		if err != nil {
			s.fail(c, "Connection failed.", err)
			return
		}
		if err := sig.Send(conn.SignalMessage{Type: conn.SignalOffer, SDP: sdp}); err != nil {
			s.fail(c, "Signaling connection failed.", err)
		}

	case conn.SignalPeerLeft:
		log.Info(log.CatConf, "peer left, refreshing connection", "peer", msg.PeerID)
		s.rejoinAfterPeerLeft(c)
	}
}

// rejoinAfterPeerLeft tears the call down and rejoins the same room after a
// short delay, forcing a clean renegotiation for the remaining members.
func (s *Session) rejoinAfterPeerLeft(c *call) {
	s.mu.Lock()
	if s.active != c {
		s.mu.Unlock()
		return
	}
	roomID, userID := s.roomID, s.userID
	s.active = nil
	s.participants = nil
	s.mu.Unlock()

	c.endSpan(codes.Ok, "peer left")
	c.close()
	s.setStatus(CallDisconnected)

	s.mu.Lock()
	s.rejoinTimer = time.AfterFunc(s.cfg.RejoinDelay, func() {
		s.Join(roomID, userID)
	})
	s.mu.Unlock()
}

// onSignalClose handles a non-error socket close. Once the call is up the
// peer connection carries itself, so the close is ignored; before that it
// is a quiet teardown. Genuine failures arrive via the error handler.
func (s *Session) onSignalClose(c *call) {
	s.mu.Lock()
	if s.active != c || s.status == CallConnected {
		s.mu.Unlock()
		return
	}
	s.active = nil
	s.participants = nil
	s.mu.Unlock()

	log.Info(log.CatConf, "signaling closed before call established")
	c.endSpan(codes.Ok, "signaling closed")
	c.close()
	s.setStatus(CallDisconnected)
}

func (s *Session) onPeerState(c *call, state conn.PeerState) {
	switch state {
	case conn.PeerStateConnected:
		s.mu.Lock()
		stale := s.active != c
		s.mu.Unlock()
		if stale {
			return
		}
		log.Info(log.CatConf, "call connected")
		c.endSpan(codes.Ok, "connected")
		s.setStatus(CallConnected)

	case conn.PeerStateFailed:
		s.fail(c, "Connection failed.", nil)

	case conn.PeerStateDisconnected, conn.PeerStateClosed:
		s.mu.Lock()
		if s.active != c {
			s.mu.Unlock()
			return
		}
		s.active = nil
		s.participants = nil
		s.mu.Unlock()
		c.endSpan(codes.Ok, "closed")
		c.close()
		s.setStatus(CallDisconnected)
	}
}

// onTrack records a remote participant, deduplicated by stream id.
func (s *Session) onTrack(c *call, streamID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != c {
		return
	}
	for _, id := range s.participants {
		if id == streamID {
			return
		}
	}
	s.participants = append(s.participants, streamID)
	log.Debug(log.CatConf, "remote participant added", "stream", streamID)
}
