// Package conn owns the lifecycle of the dual-channel connection to the
// assistant backend: a WebSocket used purely for signaling and a WebRTC
// peer connection carrying the actual chat/state traffic over a data
// channel. The Manager translates inbound channel frames into event bus
// emissions and propagates its status to any number of subscribers.
package conn

import "taskbridge/internal/config"

// PeerState is the peer connection's transport state, normalized across
// implementations.
type PeerState int

const (
	PeerStateNew PeerState = iota
	PeerStateConnecting
	PeerStateConnected
	PeerStateDisconnected
	PeerStateFailed
	PeerStateClosed
)

// ICEState is the ICE layer's connectivity state. Only the states the
// manager acts on are distinguished; everything else is ICEStateOther.
type ICEState int

const (
	ICEStateOther ICEState = iota
	ICEStateDisconnected
	ICEStateFailed
)

// SignalHandlers receives signaling socket events. Handlers are invoked
// from the socket's reader goroutine, never concurrently with each other.
type SignalHandlers struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnError   func(err error)
	// OnClose reports whether the socket closed with a normal close code.
	OnClose func(graceful bool)
}

// SignalConn is a signaling socket handle. Send marshals v as JSON; it
// fails when the socket is not open. Close is idempotent.
type SignalConn interface {
	Send(v any) error
	Close() error
}

// SignalDialer opens signaling sockets. Dial returns a handle immediately;
// connection establishment is asynchronous and reported via the handlers.
type SignalDialer interface {
	Dial(url string, h SignalHandlers) SignalConn
}

// ChannelHandlers receives data channel events.
type ChannelHandlers struct {
	OnOpen    func()
	OnClose   func()
	OnError   func(err error)
	OnMessage func(data []byte)
}

// DataChannel is a bidirectional message stream over an established peer
// connection.
type DataChannel interface {
	// Send transmits data. It fails when the channel is not open.
	Send(data []byte) error
	// Open reports whether the channel's ready state is open.
	Open() bool
	Close() error
}

// PeerHandlers receives peer connection events.
type PeerHandlers struct {
	OnStateChange    func(PeerState)
	OnICEStateChange func(ICEState)
	// OnTrack fires when a remote media stream arrives, keyed by its
	// stream identifier. Only the conference flow uses this.
	OnTrack func(streamID string)
}

// Peer is a peer connection handle.
type Peer interface {
	// CreateDataChannel opens a channel with the given label before
	// negotiation starts.
	CreateDataChannel(label string, h ChannelHandlers) (DataChannel, error)

	// CreateOffer builds a local session offer, applies it locally, and
	// returns the description blob to send to the remote side.
	CreateOffer(iceRestart bool) (sdp string, err error)

	// SetRemoteAnswer applies the remote side's answer description.
	SetRemoteAnswer(sdp string) error

	// AddLocalAudio attaches a local audio track for media negotiation.
	AddLocalAudio() error

	Close() error
}

// PeerConfig carries the relay-server credentials a peer connection needs
// for NAT traversal.
type PeerConfig struct {
	ICEServers []config.ICEServer
}

// PeerFactory constructs peer connections.
type PeerFactory interface {
	NewPeer(cfg PeerConfig, h PeerHandlers) (Peer, error)
}
