package conn

// SignalType identifies a signaling message.
type SignalType string

const (
	SignalOffer    SignalType = "offer"
	SignalAnswer   SignalType = "answer"
	SignalNewPeer  SignalType = "new-peer"
	SignalPeerLeft SignalType = "peer-left"
)

// SignalMessage is a frame exchanged over the signaling socket. Offer and
// answer carry a session description; the conference variants carry the
// joining or departing peer's id.
type SignalMessage struct {
	Type   SignalType `json:"type"`
	SDP    string     `json:"sdp,omitempty"`
	PeerID string     `json:"peer_id,omitempty"`
}
