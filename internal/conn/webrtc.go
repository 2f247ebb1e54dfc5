package conn

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// WebRTCFactory constructs peer connections backed by pion/webrtc.
type WebRTCFactory struct{}

func (WebRTCFactory) NewPeer(cfg PeerConfig, h PeerHandlers) (Peer, error) {
	iceServers := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, s := range cfg.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       []string{s.URL},
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if h.OnStateChange != nil {
			h.OnStateChange(mapPeerState(state))
		}
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if h.OnICEStateChange != nil {
			h.OnICEStateChange(mapICEState(state))
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if h.OnTrack != nil {
			h.OnTrack(track.StreamID())
		}
	})

	return &pionPeer{pc: pc}, nil
}

func mapPeerState(state webrtc.PeerConnectionState) PeerState {
	switch state {
	case webrtc.PeerConnectionStateConnecting:
		return PeerStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return PeerStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return PeerStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return PeerStateFailed
	case webrtc.PeerConnectionStateClosed:
		return PeerStateClosed
	default:
		return PeerStateNew
	}
}

func mapICEState(state webrtc.ICEConnectionState) ICEState {
	switch state {
	case webrtc.ICEConnectionStateFailed:
		return ICEStateFailed
	case webrtc.ICEConnectionStateDisconnected:
		return ICEStateDisconnected
	default:
		return ICEStateOther
	}
}

type pionPeer struct {
	pc *webrtc.PeerConnection
}

func (p *pionPeer) CreateDataChannel(label string, h ChannelHandlers) (DataChannel, error) {
	dc, err := p.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, fmt.Errorf("creating data channel %q: %w", label, err)
	}

	if h.OnOpen != nil {
		dc.OnOpen(h.OnOpen)
	}
	if h.OnClose != nil {
		dc.OnClose(h.OnClose)
	}
	if h.OnError != nil {
		dc.OnError(h.OnError)
	}
	if h.OnMessage != nil {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			h.OnMessage(msg.Data)
		})
	}

	return &pionChannel{dc: dc}, nil
}

func (p *pionPeer) CreateOffer(iceRestart bool) (string, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}

	offer, err := p.pc.CreateOffer(opts)
	if err != nil {
		return "", fmt.Errorf("creating offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("applying local description: %w", err)
	}
	return offer.SDP, nil
}

func (p *pionPeer) SetRemoteAnswer(sdp string) error {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("applying remote answer: %w", err)
	}
	return nil
}

func (p *pionPeer) AddLocalAudio() error {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "taskbridge",
	)
	if err != nil {
		return fmt.Errorf("creating audio track: %w", err)
	}
	if _, err := p.pc.AddTrack(track); err != nil {
		return fmt.Errorf("adding audio track: %w", err)
	}
	return nil
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}

type pionChannel struct {
	dc *webrtc.DataChannel
}

func (c *pionChannel) Send(data []byte) error {
	return c.dc.Send(data)
}

func (c *pionChannel) Open() bool {
	return c.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (c *pionChannel) Close() error {
	return c.dc.Close()
}
