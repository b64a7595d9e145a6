package rtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mesh/internal/client"
)

// PionTrack is implemented by local tracks that wrap a pion TrackLocal.
type PionTrack interface {
	RTPTrack() webrtc.TrackLocal
}

var ErrNotPionTrack = errors.New("local track does not wrap a pion track")

func DefaultWebRTCConfig(stunURLs []string) webrtc.Configuration {
	if len(stunURLs) == 0 {
		stunURLs = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stunURLs},
		},
	}
}

// Connection implements client.LinkTransport over a pion PeerConnection.
// Pion fires its callbacks from its own goroutines; the peer set re-enters
// through its lock, which is exactly the asynchrony the LinkTransport
// contract asks for.
type Connection struct {
	pc *webrtc.PeerConnection

	mu             sync.Mutex
	senders        map[client.TrackKind]*webrtc.RTPSender
	onCandidate    func(client.Candidate)
	onRemoteStream func(client.RemoteStream)
	onConnected    func()
	onFailed       func()
}

func NewConnection(cfg webrtc.Configuration) (*Connection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	c := &Connection{
		pc:      pc,
		senders: make(map[client.TrackKind]*webrtc.RTPSender),
	}

	pc.OnICECandidate(func(ic *webrtc.ICECandidate) {
		if ic == nil {
			return
		}
		init := ic.ToJSON()
		if cb := c.candidateCB(); cb != nil {
			cb(client.Candidate{
				Candidate:     init.Candidate,
				SDPMid:        init.SDPMid,
				SDPMLineIndex: init.SDPMLineIndex,
			})
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer_connection_state", s.String()).Msg("peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if cb := c.connectedCB(); cb != nil {
				cb()
			}
		case webrtc.PeerConnectionStateFailed:
			if cb := c.failedCB(); cb != nil {
				cb()
			}
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().Str("module", "rtc").Str("kind", track.Kind().String()).Msg("remote track")
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		stream := newRemoteStream(track)
		if cb := c.remoteStreamCB(); cb != nil {
			cb(stream)
		}
	})

	return c, nil
}

// TransportFactory adapts NewConnection for the peer set.
func TransportFactory(cfg webrtc.Configuration) client.TransportFactory {
	return func() (client.LinkTransport, error) {
		return NewConnection(cfg)
	}
}

func (c *Connection) CreateOffer() (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return c.pc.LocalDescription().SDP, nil
}

func (c *Connection) ApplyOfferCreateAnswer(offer string) (string, error) {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return c.pc.LocalDescription().SDP, nil
}

func (c *Connection) ApplyAnswer(answer string) error {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (c *Connection) AddCandidate(cand client.Candidate) error {
	init := webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	}
	return c.pc.AddICECandidate(init)
}

func (c *Connection) AttachLocal(t client.LocalTrack) error {
	pt, ok := t.(PionTrack)
	if !ok {
		return ErrNotPionTrack
	}
	sender, err := c.pc.AddTrack(pt.RTPTrack())
	if err != nil {
		return fmt.Errorf("add track: %w", err)
	}
	c.mu.Lock()
	c.senders[t.Kind()] = sender
	c.mu.Unlock()
	return nil
}

// ReplaceTrack substitutes the outgoing track on the live RTPSender.
// Pion keeps the negotiated sender parameters, so the remote side sees an
// uninterrupted stream and no renegotiation happens.
func (c *Connection) ReplaceTrack(t client.LocalTrack) error {
	pt, ok := t.(PionTrack)
	if !ok {
		return ErrNotPionTrack
	}
	c.mu.Lock()
	sender := c.senders[t.Kind()]
	c.mu.Unlock()
	if sender == nil {
		return fmt.Errorf("no sender for %s track", t.Kind())
	}
	return sender.ReplaceTrack(pt.RTPTrack())
}

func (c *Connection) OnCandidate(f func(client.Candidate)) {
	c.mu.Lock()
	c.onCandidate = f
	c.mu.Unlock()
}

func (c *Connection) OnRemoteStream(f func(client.RemoteStream)) {
	c.mu.Lock()
	c.onRemoteStream = f
	c.mu.Unlock()
}

func (c *Connection) OnConnected(f func()) {
	c.mu.Lock()
	c.onConnected = f
	c.mu.Unlock()
}

func (c *Connection) OnFailed(f func()) {
	c.mu.Lock()
	c.onFailed = f
	c.mu.Unlock()
}

func (c *Connection) Close() {
	if err := c.pc.Close(); err != nil {
		log.Warn().Err(err).Str("module", "rtc").Msg("close peer connection")
	}
}

func (c *Connection) candidateCB() func(client.Candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onCandidate
}

func (c *Connection) remoteStreamCB() func(client.RemoteStream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onRemoteStream
}

func (c *Connection) connectedCB() func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onConnected
}

func (c *Connection) failedCB() func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onFailed
}
