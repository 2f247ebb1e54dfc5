package conference

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskbridge/internal/conn"
)

type fakeSignalConn struct {
	mu     sync.Mutex
	sent   []conn.SignalMessage
	closed bool
}

func (c *fakeSignalConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, v.(conn.SignalMessage))
	return nil
}

func (c *fakeSignalConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeSignalConn) sentMessages() []conn.SignalMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]conn.SignalMessage, len(c.sent))
	copy(out, c.sent)
	return out
}

type fakeDialer struct {
	mu       sync.Mutex
	urls     []string
	conns    []*fakeSignalConn
	handlers []conn.SignalHandlers
}

func (d *fakeDialer) Dial(url string, h conn.SignalHandlers) conn.SignalConn {
	c := &fakeSignalConn{}
	d.mu.Lock()
	d.urls = append(d.urls, url)
	d.conns = append(d.conns, c)
	d.handlers = append(d.handlers, h)
	d.mu.Unlock()
	return c
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) socket(i int) (*fakeSignalConn, conn.SignalHandlers, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i], d.handlers[i], d.urls[i]
}

type fakePeer struct {
	mu            sync.Mutex
	handlers      conn.PeerHandlers
	audioAdded    bool
	audioErr      error
	offerRestarts []bool
	answers       []string
	closed        bool
}

func (p *fakePeer) CreateDataChannel(label string, h conn.ChannelHandlers) (conn.DataChannel, error) {
	return nil, errors.New("no data channel in conference calls")
}

func (p *fakePeer) CreateOffer(iceRestart bool) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offerRestarts = append(p.offerRestarts, iceRestart)
	return "conference-offer", nil
}

func (p *fakePeer) SetRemoteAnswer(sdp string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers = append(p.answers, sdp)
	return nil
}

func (p *fakePeer) AddLocalAudio() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audioErr != nil {
		return p.audioErr
	}
	p.audioAdded = true
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) restarts() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]bool, len(p.offerRestarts))
	copy(out, p.offerRestarts)
	return out
}

type fakePeerFactory struct {
	mu       sync.Mutex
	peers    []*fakePeer
	audioErr error
}

func (f *fakePeerFactory) NewPeer(cfg conn.PeerConfig, h conn.PeerHandlers) (conn.Peer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePeer{handlers: h, audioErr: f.audioErr}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakePeerFactory) peer(i int) *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[i]
}

func (f *fakePeerFactory) peerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

func newTestSession(cfg Config) (*Session, *fakeDialer, *fakePeerFactory, *statusLog) {
	if cfg.SignalURL == "" {
		cfg.SignalURL = "ws://test/conference/ws"
	}
	dialer := &fakeDialer{}
	factory := &fakePeerFactory{}
	s := NewSession(cfg, WithSignalDialer(dialer), WithPeerFactory(factory))
	rec := &statusLog{}
	s.SubscribeStatus(rec.record)
	return s, dialer, factory, rec
}

type statusLog struct {
	mu  sync.Mutex
	got []CallStatus
}

func (r *statusLog) record(s CallStatus) {
	r.mu.Lock()
	r.got = append(r.got, s)
	r.mu.Unlock()
}

func (r *statusLog) snapshot() []CallStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallStatus, len(r.got))
	copy(out, r.got)
	return out
}

func joinRoom(t *testing.T, s *Session, d *fakeDialer, f *fakePeerFactory) (*fakeSignalConn, conn.SignalHandlers, *fakePeer) {
	t.Helper()

	s.Join("room-1", "user-7")
	require.Equal(t, 1, d.dialCount())
	c, h, url := d.socket(0)
	require.Equal(t, "ws://test/conference/ws/room-1/user-7", url)

	peer := f.peer(0)
	require.True(t, peer.audioAdded)

	h.OnOpen()
	h.OnMessage(mustSignal(t, conn.SignalMessage{Type: conn.SignalAnswer, SDP: "answer-sdp"}))
	peer.handlers.OnStateChange(conn.PeerStateConnected)
	require.Equal(t, CallConnected, s.Status())
	return c, h, peer
}

func mustSignal(t *testing.T, msg conn.SignalMessage) []byte {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return data
}

func TestJoinEstablishesCall(t *testing.T) {
	s, d, f, rec := newTestSession(Config{})
	c, _, peer := joinRoom(t, s, d, f)

	require.Equal(t, []CallStatus{CallConnecting, CallConnected}, rec.snapshot())
	require.Equal(t, []string{"answer-sdp"}, peer.answers)
	require.Equal(t, []bool{false}, peer.restarts())

	sent := c.sentMessages()
	require.Len(t, sent, 1)
	require.Equal(t, conn.SignalOffer, sent[0].Type)
}

func TestJoinWhileActiveIsNoOp(t *testing.T) {
	s, d, f, _ := newTestSession(Config{})
	joinRoom(t, s, d, f)

	s.Join("room-2", "user-7")
	require.Equal(t, 1, d.dialCount())
}

func TestNewPeerTriggersICERestartRenegotiation(t *testing.T) {
	s, d, f, _ := newTestSession(Config{})
	c, h, peer := joinRoom(t, s, d, f)

	h.OnMessage(mustSignal(t, conn.SignalMessage{Type: conn.SignalNewPeer, PeerID: "peer-9"}))

	require.Equal(t, []bool{false, true}, peer.restarts())
	sent := c.sentMessages()
	require.Len(t, sent, 2)
	require.Equal(t, conn.SignalOffer, sent[1].Type)
	require.Equal(t, CallConnected, s.Status())
}

func TestPeerLeftTearsDownAndRejoins(t *testing.T) {
	s, d, f, rec := newTestSession(Config{RejoinDelay: 20 * time.Millisecond})
	c, h, peer := joinRoom(t, s, d, f)

	h.OnMessage(mustSignal(t, conn.SignalMessage{Type: conn.SignalPeerLeft, PeerID: "peer-9"}))
	require.True(t, peer.isClosed())
	require.True(t, c.closed)
	require.Equal(t, CallDisconnected, s.Status())

	require.Eventually(t, func() bool {
		return d.dialCount() == 2
	}, time.Second, 5*time.Millisecond)

	_, _, url := d.socket(1)
	require.Equal(t, "ws://test/conference/ws/room-1/user-7", url)
	require.Equal(t, []CallStatus{CallConnecting, CallConnected, CallDisconnected, CallConnecting}, rec.snapshot())
}

func TestLeaveCancelsPendingRejoin(t *testing.T) {
	s, d, f, _ := newTestSession(Config{RejoinDelay: 20 * time.Millisecond})
	_, h, _ := joinRoom(t, s, d, f)

	h.OnMessage(mustSignal(t, conn.SignalMessage{Type: conn.SignalPeerLeft, PeerID: "peer-9"}))
	s.Leave()

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, 1, d.dialCount())
	require.Equal(t, CallDisconnected, s.Status())
}

func TestParticipantsDeduplicatedByStreamID(t *testing.T) {
	s, d, f, _ := newTestSession(Config{})
	_, _, peer := joinRoom(t, s, d, f)

	peer.handlers.OnTrack("stream-a")
	peer.handlers.OnTrack("stream-b")
	peer.handlers.OnTrack("stream-a")
	require.Equal(t, []string{"stream-a", "stream-b"}, s.Participants())

	s.Leave()
	require.Empty(t, s.Participants())
}

func TestMicrophoneFailureSurfacesError(t *testing.T) {
	s, d, f, rec := newTestSession(Config{})
	f.audioErr = errors.New("device busy")

	s.Join("room-1", "user-7")
	require.Equal(t, CallFailed, s.Status())
	require.Equal(t, "Could not access the microphone.", s.LastError())
	require.Equal(t, []CallStatus{CallConnecting, CallFailed}, rec.snapshot())
	require.Equal(t, 0, d.dialCount())
	require.True(t, f.peer(0).isClosed())
}

func TestPeerFailureSurfacesError(t *testing.T) {
	s, d, f, _ := newTestSession(Config{})
	_, _, peer := joinRoom(t, s, d, f)

	peer.handlers.OnStateChange(conn.PeerStateFailed)
	require.Equal(t, CallFailed, s.Status())
	require.Equal(t, "Connection failed.", s.LastError())

	// A retry is a plain Join again.
	s.Join("room-1", "user-7")
	require.Equal(t, 2, d.dialCount())
	require.Empty(t, s.LastError())
}

func TestSignalCloseBeforeConnectedTearsDownQuietly(t *testing.T) {
	s, d, f, _ := newTestSession(Config{})
	s.Join("room-1", "user-7")
	require.Equal(t, 1, f.peerCount())

	_, h, _ := d.socket(0)
	h.OnClose(false)
	require.Equal(t, CallDisconnected, s.Status())
	require.Empty(t, s.LastError())

	// The room can be joined again afterwards.
	s.Join("room-1", "user-7")
	require.Equal(t, 2, d.dialCount())
}

func TestSignalCloseAfterConnectedIsIgnored(t *testing.T) {
	s, d, f, _ := newTestSession(Config{})
	_, h, _ := joinRoom(t, s, d, f)

	h.OnClose(true)
	require.Equal(t, CallConnected, s.Status())
}
