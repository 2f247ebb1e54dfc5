package conn

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"taskbridge/internal/config"
	"taskbridge/internal/log"
	"taskbridge/internal/pubsub"
	"taskbridge/internal/tracing"
)

// chatChannelLabel names the data channel carrying chat/state traffic.
const chatChannelLabel = "chat"

// Config holds the Manager's endpoints and timing budget.
type Config struct {
	SignalURL  string
	ICEServers []config.ICEServer

	// ConnectTimeout bounds the connecting phase; expiry is fatal.
	ConnectTimeout time.Duration

	// ReconnectDelay is the pause between teardown and the next attempt
	// in Reconnect, letting native resources release.
	ReconnectDelay time.Duration
}

// Manager owns one signaling socket and one peer connection with an
// embedded data channel. At most one negotiation is in flight at a time;
// Connect while connecting or connected is a no-op. All failures resolve to
// a status notification, never an error return or panic.
type Manager struct {
	cfg    Config
	bus    *pubsub.Bus
	dialer SignalDialer
	peers  PeerFactory
	tracer trace.Tracer

	mu             sync.Mutex
	status         Status
	connecting     bool
	active         *session
	connectTimer   *time.Timer
	reconnectTimer *time.Timer

	registry statusRegistry
}

// session is the owned handle over one negotiation attempt's resources:
// the signaling socket, the peer connection, and its data channel. It is
// constructed as one unit and destroyed as one unit; callbacks from a
// detached session are ignored, so a half-open attempt can never leak a
// status transition.
type session struct {
	id      string
	sig     SignalConn
	peer    Peer
	channel DataChannel

	span      trace.Span
	spanOnce  sync.Once
	closeOnce sync.Once
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		if s.peer != nil {
			_ = s.peer.Close()
		}
		if s.sig != nil {
			_ = s.sig.Close()
		}
	})
}

func (s *session) endSpan(code codes.Code, desc string, err error) {
	s.spanOnce.Do(func() {
		if s.span == nil {
			return
		}
		if err != nil {
			s.span.SetAttributes(attribute.String(tracing.AttrErrorMessage, err.Error()))
		}
		s.span.SetStatus(code, desc)
		s.span.End()
	})
}

// Option customizes a Manager.
type Option func(*Manager)

// WithSignalDialer replaces the signaling transport.
func WithSignalDialer(d SignalDialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithPeerFactory replaces the peer connection transport.
func WithPeerFactory(f PeerFactory) Option {
	return func(m *Manager) { m.peers = f }
}

// WithTracer records negotiation spans on the given tracer.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// NewManager creates a Manager publishing inbound traffic on bus. Without
// options it uses the production WebSocket and WebRTC transports.
func NewManager(cfg Config, bus *pubsub.Bus, opts ...Option) *Manager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 20 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}

	m := &Manager{
		cfg:    cfg,
		bus:    bus,
		dialer: WebSocketDialer{},
		peers:  WebRTCFactory{},
		tracer: noop.NewTracerProvider().Tracer("conn"),
		status: StatusDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// SubscribeStatus registers fn to be called on every status transition.
// The returned cancel removes exactly this registration.
func (m *Manager) SubscribeStatus(fn func(Status)) (cancel func()) {
	return m.registry.subscribe(fn)
}

// Connect starts a negotiation attempt. It returns immediately; progress is
// reported through the status registry. Calling Connect while an attempt is
// in flight or a session is still alive is a no-op.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.connecting || m.active != nil {
		m.mu.Unlock()
		log.Debug(log.CatConn, "connect skipped, session already in flight")
		return
	}
	m.connecting = true

	s := &session{id: uuid.NewString()}
	_, s.span = m.tracer.Start(context.Background(), tracing.SpanConnect,
		trace.WithAttributes(
			attribute.String(tracing.AttrSignalURL, m.cfg.SignalURL),
			attribute.String(tracing.AttrAttemptID, s.id),
		))
	m.active = s
	m.connectTimer = time.AfterFunc(m.cfg.ConnectTimeout, func() { m.onTimeout(s) })
	m.mu.Unlock()

	log.Info(log.CatConn, "connecting", "url", m.cfg.SignalURL, "attempt", s.id)
	m.setStatus(StatusConnecting)

	m.mu.Lock()
	if m.active != s {
		// Torn down from a status callback before the dial even started.
		m.mu.Unlock()
		return
	}
	s.sig = m.dialer.Dial(m.cfg.SignalURL, SignalHandlers{
		OnOpen:    func() { m.onSignalOpen(s) },
		OnMessage: func(data []byte) { m.onSignalMessage(s, data) },
		OnError:   func(err error) { m.fail(s, "signaling socket error", err) },
		OnClose:   func(graceful bool) { m.onSignalClose(s, graceful) },
	})
	m.mu.Unlock()
}

// SendMessage transmits text over the data channel iff it is open. It never
// returns an error to the caller; an unopened channel is reported as false.
func (m *Manager) SendMessage(text string) bool {
	m.mu.Lock()
	var ch DataChannel
	if m.active != nil {
		ch = m.active.channel
	}
	m.mu.Unlock()

	if ch == nil || !ch.Open() {
		log.Warn(log.CatConn, "cannot send, data channel not open")
		return false
	}
	if err := ch.Send([]byte(text)); err != nil {
		log.ErrorErr(log.CatConn, "data channel send failed", err)
		return false
	}
	return true
}

// Disconnect idempotently tears down timers, the peer connection, and the
// signaling socket. It does not emit a status itself.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	s := m.active
	m.detachLocked()
	m.mu.Unlock()

	if s != nil {
		log.Info(log.CatConn, "disconnecting", "attempt", s.id)
		s.endSpan(codes.Ok, "disconnected", nil)
		s.close()
	}
}

// Reconnect tears the current session down and schedules a fresh Connect
// after a short delay.
func (m *Manager) Reconnect() {
	m.Disconnect()

	m.mu.Lock()
	m.reconnectTimer = time.AfterFunc(m.cfg.ReconnectDelay, m.Connect)
	m.mu.Unlock()
}

// detachLocked clears the active session and connecting-phase state.
// Callers must hold m.mu and close the detached session themselves.
func (m *Manager) detachLocked() {
	m.active = nil
	m.connecting = false
	if m.connectTimer != nil {
		m.connectTimer.Stop()
		m.connectTimer = nil
	}
}

func (m *Manager) setStatus(status Status) {
	m.mu.Lock()
	m.status = status
	m.mu.Unlock()

	log.Debug(log.CatConn, "status change", "status", status)
	m.registry.notify(status)
}

// fail handles any fatal condition: detach, release resources, emit error.
// Stale sessions are ignored, so each attempt fails at most once.
func (m *Manager) fail(s *session, stage string, err error) {
	m.mu.Lock()
	if m.active != s {
		m.mu.Unlock()
		return
	}
	m.detachLocked()
	m.mu.Unlock()

	log.ErrorErr(log.CatConn, stage, err, "attempt", s.id)
	s.endSpan(codes.Error, stage, err)
	s.close()
	m.setStatus(StatusError)
}

// dropped handles a graceful end of an established session.
func (m *Manager) dropped(s *session, reason string) {
	m.mu.Lock()
	if m.active != s {
		m.mu.Unlock()
		return
	}
	m.detachLocked()
	m.mu.Unlock()

	log.Info(log.CatConn, "connection closed", "reason", reason, "attempt", s.id)
	s.endSpan(codes.Ok, reason, nil)
	s.close()
	m.setStatus(StatusDisconnected)
}

func (m *Manager) onTimeout(s *session) {
	m.mu.Lock()
	if m.active != s || !m.connecting {
		m.mu.Unlock()
		return
	}
	m.detachLocked()
	m.mu.Unlock()

	log.Error(log.CatConn, "connect timed out", "attempt", s.id, "timeout", m.cfg.ConnectTimeout)
	s.endSpan(codes.Error, "connect timeout", nil)
	s.close()
	m.setStatus(StatusError)
}

// onSignalOpen runs the negotiation chain: peer connection, data channel,
// local offer, and the offer send. Any failure along the chain is fatal.
func (m *Manager) onSignalOpen(s *session) {
	m.mu.Lock()
	if m.active != s {
		m.mu.Unlock()
		return
	}
	sig := s.sig
	m.mu.Unlock()

	peer, err := m.peers.NewPeer(PeerConfig{ICEServers: m.cfg.ICEServers}, PeerHandlers{
		OnStateChange:    func(state PeerState) { m.onPeerState(s, state) },
		OnICEStateChange: func(state ICEState) { m.onICEState(s, state) },
	})
	if err != nil {
		m.fail(s, "peer connection setup failed", err)
		return
	}

	m.mu.Lock()
	if m.active != s {
		m.mu.Unlock()
		_ = peer.Close()
		return
	}
	s.peer = peer
	m.mu.Unlock()

	channel, err := peer.CreateDataChannel(chatChannelLabel, ChannelHandlers{
		OnOpen:    func() { m.onChannelOpen(s) },
		OnClose:   func() { m.dropped(s, "data channel closed") },
		OnError:   func(err error) { m.fail(s, "data channel error", err) },
		OnMessage: func(data []byte) { m.onChannelMessage(s, data) },
	})
	if err != nil {
		m.fail(s, "data channel setup failed", err)
		return
	}

	m.mu.Lock()
	if m.active != s {
		m.mu.Unlock()
		return
	}
	s.channel = channel
	m.mu.Unlock()

	sdp, err := peer.CreateOffer(false)
	if err != nil {
		m.fail(s, "offer creation failed", err)
		return
	}
	if err := sig.Send(SignalMessage{Type: SignalOffer, SDP: sdp}); err != nil {
		m.fail(s, "sending offer failed", err)
		return
	}
	log.Debug(log.CatConn, "offer sent", "attempt", s.id)
}

// onSignalMessage applies answer descriptions. Anything else arriving on
// the signaling socket during normal operation is ignored at this layer.
func (m *Manager) onSignalMessage(s *session, data []byte) {
	var msg SignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		m.fail(s, "signaling message malformed", err)
		return
	}
	if msg.Type != SignalAnswer {
		return
	}

	m.mu.Lock()
	if m.active != s || s.peer == nil {
		m.mu.Unlock()
		return
	}
	peer := s.peer
	m.mu.Unlock()

	if err := peer.SetRemoteAnswer(msg.SDP); err != nil {
		m.fail(s, "applying answer failed", err)
		return
	}
	log.Debug(log.CatConn, "answer applied", "attempt", s.id)
}

func (m *Manager) onSignalClose(s *session, graceful bool) {
	if graceful {
		m.dropped(s, "signaling socket closed")
		return
	}
	m.fail(s, "signaling socket closed abnormally", nil)
}

func (m *Manager) onChannelOpen(s *session) {
	m.mu.Lock()
	if m.active != s || !m.connecting {
		m.mu.Unlock()
		return
	}
	m.connecting = false
	if m.connectTimer != nil {
		m.connectTimer.Stop()
		m.connectTimer = nil
	}
	m.mu.Unlock()

	log.Info(log.CatConn, "connected", "attempt", s.id)
	s.endSpan(codes.Ok, "connected", nil)
	m.setStatus(StatusConnected)
}

func (m *Manager) onPeerState(s *session, state PeerState) {
	switch state {
	case PeerStateFailed:
		m.fail(s, "peer connection failed", nil)
	case PeerStateDisconnected, PeerStateClosed:
		m.dropped(s, "peer connection closed")
	}
}

func (m *Manager) onICEState(s *session, state ICEState) {
	switch state {
	case ICEStateFailed, ICEStateDisconnected:
		m.fail(s, "ice connectivity lost", nil)
	}
}

// onChannelMessage fans one inbound frame out to the event bus.
func (m *Manager) onChannelMessage(s *session, data []byte) {
	m.mu.Lock()
	stale := m.active != s
	m.mu.Unlock()
	if stale {
		return
	}

	frame := DecodeFrame(data)
	switch frame.Kind {
	case FrameStateChange, FrameForceStateChange:
		m.bus.Emit(pubsub.TopicStateChange, pubsub.StateChange{
			Resource:  frame.Resource,
			Action:    frame.Action,
			Timestamp: frame.Timestamp,
		})
	case FrameChat:
		m.bus.Emit(pubsub.TopicChatMessage, frame.Content)
	case FrameUnknown:
		// Unrecognized structured frames have historically meant
		// "something changed server-side"; refresh todos rather than
		// dropping the frame on the floor.
		log.Warn(log.CatConn, "unrecognized channel frame", "frame", frame.Content)
		m.bus.Emit(pubsub.TopicStateChange, pubsub.StateChange{Resource: pubsub.ResourceTodos})
	case FrameRaw:
		m.bus.Emit(pubsub.TopicChatMessage, frame.Content)
	}
}
