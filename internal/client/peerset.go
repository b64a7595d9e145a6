package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/protocol"
)

// Sender pushes frames toward the relay. Implemented by SignalClient;
// faked in tests.
type Sender interface {
	Send(kind protocol.Kind, payload any) error
	Close()
}

// PeerLink is the local record of one full-duplex relationship to a single
// remote participant.
type PeerLink struct {
	Remote         core.SessionID
	DisplayName    string
	Engine         *Engine
	Stream         RemoteStream
	RemoteMuted    bool
	RemoteVideoOff bool
	LastSpeakingAt time.Time

	speak         speakState
	speakDeadline time.Time
	joinOrder     int
}

func (l *PeerLink) Role() Role { return l.Engine.Role() }

// Settings are the client-side tuning knobs. The tick rate is a configuration
// constant, not derived from any rendering clock.
type Settings struct {
	TickInterval      time.Duration
	SpeakingThreshold float64
	SpeakingHold      time.Duration
	SilenceThreshold  float64
	SilenceWindow     time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.TickInterval <= 0 {
		s.TickInterval = 200 * time.Millisecond
	}
	if s.SpeakingThreshold <= 0 {
		s.SpeakingThreshold = 0.08
	}
	if s.SpeakingHold <= 0 {
		s.SpeakingHold = 3 * time.Second
	}
	if s.SilenceThreshold <= 0 {
		s.SilenceThreshold = 0.01
	}
	if s.SilenceWindow <= 0 {
		s.SilenceWindow = 10 * time.Second
	}
	return s
}

// PeerSet owns the mesh of per-remote-participant links for the local
// session. All link handlers run under one lock, so no two handlers for the
// same link ever interleave; slow asynchronous work (track acquisition)
// happens off-lock so unrelated links keep making progress.
type PeerSet struct {
	mu    sync.Mutex
	links map[core.SessionID]*PeerLink

	local        LocalMedia
	silenceStart time.Time
	joinSeq      int

	roomID domain.RoomID
	self   core.SessionID

	sender     Sender
	transports TransportFactory
	source     Source
	clock      Clock
	cfg        Settings

	// OnFatal fires for the two user-visible failures: no local media at
	// join, and a failed audio restore. Session-ending severity.
	OnFatal func(error)
	OnChat  func(protocol.Chat)
	OnError func(reason string)
	// OnRestartDone fires after a restart attempt is finalized, success
	// or not. err is nil on success.
	OnRestartDone func(kind RestartKind, err error)
}

func NewPeerSet(self core.SessionID, sender Sender, transports TransportFactory, source Source, clock Clock, cfg Settings) *PeerSet {
	if clock == nil {
		clock = SystemClock
	}
	return &PeerSet{
		links:      make(map[core.SessionID]*PeerLink),
		self:       self,
		sender:     sender,
		transports: transports,
		source:     source,
		clock:      clock,
		cfg:        cfg.withDefaults(),
	}
}

// Join acquires the local capture bundle and asks the relay for a room.
// Media acquisition failure here is fatal: without camera and microphone
// there is nothing to mesh.
func (ps *PeerSet) Join(ctx context.Context, roomID domain.RoomID, displayName string) error {
	audio, err := ps.source.AcquireAudio(ctx)
	if err != nil {
		return fmt.Errorf("%w: audio: %v", ErrMediaAcquisition, err)
	}
	video, err := ps.source.AcquireVideo(ctx)
	if err != nil {
		audio.Stop()
		return fmt.Errorf("%w: video: %v", ErrMediaAcquisition, err)
	}

	ps.mu.Lock()
	ps.roomID = roomID
	ps.local.Audio = audio
	ps.local.Video = video
	ps.mu.Unlock()

	return ps.sender.Send(protocol.KindJoinRoom, protocol.JoinRoom{
		RoomID:      roomID,
		DisplayName: displayName,
	})
}

// Leave tears down every link, stops local tracks and disconnects from the
// relay. Teardown is scoped per link: each engine releases its own transport
// before the entry is dropped.
func (ps *PeerSet) Leave() {
	ps.mu.Lock()
	for sid, link := range ps.links {
		link.Engine.Close()
		delete(ps.links, sid)
	}
	if ps.local.Audio != nil {
		ps.local.Audio.Stop()
		ps.local.Audio = nil
	}
	if ps.local.Video != nil {
		ps.local.Video.Stop()
		ps.local.Video = nil
	}
	ps.mu.Unlock()
	ps.sender.Close()
}

// Run consumes relay events and the periodic tick until ctx ends or the
// incoming channel closes.
func (ps *PeerSet) Run(ctx context.Context, incoming <-chan protocol.Envelope) {
	ticker := time.NewTicker(ps.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			ps.Leave()
			return
		case env, ok := <-incoming:
			if !ok {
				return
			}
			ps.Dispatch(env)
		case <-ticker.C:
			ps.Tick(ps.clock.Now())
		}
	}
}

// Dispatch routes one relay envelope to its handler. Malformed payloads are
// absorbed with a log line; the relay gives no delivery guarantees anyway.
func (ps *PeerSet) Dispatch(env protocol.Envelope) {
	switch env.Type {
	case protocol.KindPeerJoined:
		var p protocol.PeerJoined
		if decodePayload(env.Payload, &p) {
			ps.HandlePeerJoined(core.SessionID(p.SessionID), p.DisplayName)
		}
	case protocol.KindOffer:
		var p protocol.Offer
		if decodePayload(env.Payload, &p) {
			ps.HandleOffer(core.SessionID(p.From), p.SDP, p.DisplayName)
		}
	case protocol.KindAnswer:
		var p protocol.Answer
		if decodePayload(env.Payload, &p) {
			ps.HandleAnswer(core.SessionID(p.From), p.SDP, p.DisplayName)
		}
	case protocol.KindICECandidate:
		var p protocol.ICECandidate
		if decodePayload(env.Payload, &p) {
			ps.HandleCandidate(core.SessionID(p.From), Candidate{
				Candidate:     p.Candidate,
				SDPMid:        p.SDPMid,
				SDPMLineIndex: p.SDPMLineIndex,
			})
		}
	case protocol.KindPeerStateChanged:
		var p protocol.PeerState
		if decodePayload(env.Payload, &p) {
			ps.HandlePeerState(core.SessionID(p.SessionID), p.Muted, p.VideoOff)
		}
	case protocol.KindPeerLeft:
		var p protocol.PeerLeft
		if decodePayload(env.Payload, &p) {
			ps.HandlePeerLeft(core.SessionID(p.SessionID))
		}
	case protocol.KindChatMessage:
		var p protocol.Chat
		if decodePayload(env.Payload, &p) && ps.OnChat != nil {
			ps.OnChat(p)
		}
	case protocol.KindError:
		var p protocol.Error
		if decodePayload(env.Payload, &p) && ps.OnError != nil {
			ps.OnError(p.Reason)
		}
	default:
		log.Warn().Str("module", "client.peerset").Str("kind", string(env.Type)).Msg("unknown envelope kind")
	}
}

// HandlePeerJoined creates the initiator-path link for a newly announced
// peer. Duplicate notifications are idempotent.
func (ps *PeerSet) HandlePeerJoined(remote core.SessionID, displayName string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if _, ok := ps.links[remote]; ok {
		return
	}
	link, err := ps.newLink(remote, displayName, Initiator)
	if err != nil {
		log.Error().Err(err).Str("module", "client.peerset").Str("remote", string(remote)).Msg("create initiator link")
		return
	}
	if err := link.Engine.StartOffer(); err != nil {
		log.Warn().Err(err).Str("module", "client.peerset").Str("remote", string(remote)).Msg("start offer")
	}
}

// HandleOffer feeds an inbound offer. The offer itself is authoritative for
// creation: the link comes up as Responder even if the join notification for
// the same id has not arrived yet.
func (ps *PeerSet) HandleOffer(remote core.SessionID, sdp, displayName string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	link, ok := ps.links[remote]
	if !ok {
		var err error
		link, err = ps.newLink(remote, displayName, Responder)
		if err != nil {
			log.Error().Err(err).Str("module", "client.peerset").Str("remote", string(remote)).Msg("create responder link")
			return
		}
	} else if link.Role() != Responder {
		// Offer glare against an initiator link. The remote's answer to
		// our own offer settles the pair; this one is dropped.
		log.Warn().Str("module", "client.peerset").Str("remote", string(remote)).Msg("offer on initiator link, dropped")
		return
	}
	if err := link.Engine.ApplyOffer(sdp); err != nil {
		log.Warn().Err(err).Str("module", "client.peerset").Str("remote", string(remote)).Msg("apply offer")
	}
}

// HandleAnswer feeds an inbound answer to its initiator link. The display
// name is backfilled only while still the unresolved placeholder.
func (ps *PeerSet) HandleAnswer(remote core.SessionID, sdp, displayName string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	link, ok := ps.links[remote]
	if !ok {
		log.Warn().Str("module", "client.peerset").Str("remote", string(remote)).Msg("answer for unknown link, dropped")
		return
	}
	if link.Role() != Initiator {
		log.Warn().Str("module", "client.peerset").Str("remote", string(remote)).Msg("answer on responder link, dropped")
		return
	}
	if link.DisplayName == domain.PlaceholderName && displayName != "" {
		link.DisplayName = displayName
	}
	if err := link.Engine.ApplyAnswer(sdp); err != nil {
		log.Warn().Err(err).Str("module", "client.peerset").Str("remote", string(remote)).Msg("apply answer")
	}
}

// HandleCandidate feeds one trickled candidate. A candidate for an unknown
// link is not an error: under trickling they race ahead of and behind the
// offer/answer and are dropped silently.
func (ps *PeerSet) HandleCandidate(remote core.SessionID, c Candidate) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	link, ok := ps.links[remote]
	if !ok {
		log.Debug().Str("module", "client.peerset").Str("remote", string(remote)).Msg("candidate for unknown link, dropped")
		return
	}
	if err := link.Engine.AddCandidate(c); err != nil {
		log.Debug().Err(err).Str("module", "client.peerset").Str("remote", string(remote)).Msg("add candidate")
	}
}

// HandlePeerState updates exactly one link's presentation flags.
func (ps *PeerSet) HandlePeerState(remote core.SessionID, muted, videoOff bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	link, ok := ps.links[remote]
	if !ok {
		return
	}
	link.RemoteMuted = muted
	link.RemoteVideoOff = videoOff
}

// HandlePeerLeft tears the link down and forgets it.
func (ps *PeerSet) HandlePeerLeft(remote core.SessionID) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	link, ok := ps.links[remote]
	if !ok {
		return
	}
	link.Engine.Close()
	delete(ps.links, remote)
	log.Info().Str("module", "client.peerset").Str("remote", string(remote)).Msg("link removed")
}

// SetMuted flips the local mute flag and announces it to the room.
func (ps *PeerSet) SetMuted(muted bool) {
	ps.mu.Lock()
	ps.local.Muted = muted
	state := ps.localStateLocked()
	ps.mu.Unlock()
	ps.publishState(state)
}

// SetVideoOff flips the local video flag and announces it to the room.
func (ps *PeerSet) SetVideoOff(off bool) {
	ps.mu.Lock()
	ps.local.VideoOff = off
	state := ps.localStateLocked()
	ps.mu.Unlock()
	ps.publishState(state)
}

func (ps *PeerSet) localStateLocked() protocol.PeerState {
	return protocol.PeerState{
		RoomID:    ps.roomID,
		SessionID: string(ps.self),
		Muted:     ps.local.Muted,
		VideoOff:  ps.local.VideoOff,
	}
}

func (ps *PeerSet) publishState(state protocol.PeerState) {
	if err := ps.sender.Send(protocol.KindPeerStateChanged, state); err != nil {
		log.Warn().Err(err).Str("module", "client.peerset").Msg("publish state")
	}
}

// SendChat asks the relay to broadcast a chat line; the timestamp is the
// server's to assign.
func (ps *PeerSet) SendChat(text, displayName string) {
	ps.mu.Lock()
	roomID := ps.roomID
	ps.mu.Unlock()
	msg := protocol.Chat{RoomID: roomID, Text: text, DisplayName: displayName}
	if err := ps.sender.Send(protocol.KindChatMessage, msg); err != nil {
		log.Warn().Err(err).Str("module", "client.peerset").Msg("send chat")
	}
}

// Tick drives the media health monitor and the speaker tracker from the one
// shared periodic clock.
func (ps *PeerSet) Tick(now time.Time) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.healthTickLocked(now)
	ps.speakerTickLocked(now)
}

// LinkInfo is a read-only snapshot of one link for presentation.
type LinkInfo struct {
	Remote         core.SessionID
	DisplayName    string
	Role           Role
	State          NegotiationState
	RemoteMuted    bool
	RemoteVideoOff bool
	LastSpeakingAt time.Time
	HasStream      bool
}

func (ps *PeerSet) LinkCount() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.links)
}

func (ps *PeerSet) Link(remote core.SessionID) (LinkInfo, bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	l, ok := ps.links[remote]
	if !ok {
		return LinkInfo{}, false
	}
	return snapshotLink(l), true
}

func snapshotLink(l *PeerLink) LinkInfo {
	return LinkInfo{
		Remote:         l.Remote,
		DisplayName:    l.DisplayName,
		Role:           l.Role(),
		State:          l.Engine.State(),
		RemoteMuted:    l.RemoteMuted,
		RemoteVideoOff: l.RemoteVideoOff,
		LastSpeakingAt: l.LastSpeakingAt,
		HasStream:      l.Stream != nil,
	}
}

// newLink builds the transport, engine and bookkeeping for one remote id.
// Caller holds ps.mu and has already checked for an existing link.
func (ps *PeerSet) newLink(remote core.SessionID, displayName string, role Role) (*PeerLink, error) {
	if displayName == "" {
		displayName = domain.PlaceholderName
	}
	transport, err := ps.transports()
	if err != nil {
		return nil, fmt.Errorf("link transport: %w", err)
	}

	engine := NewEngine(role, transport, func(o Outbound) {
		ps.relayOut(remote, o)
	})
	link := &PeerLink{
		Remote:      remote,
		DisplayName: displayName,
		Engine:      engine,
		joinOrder:   ps.joinSeq,
	}
	ps.joinSeq++

	// Transport callbacks fire from transport goroutines and re-enter
	// through the lock; transports must not invoke them synchronously
	// from inside the calls above.
	transport.OnRemoteStream(func(s RemoteStream) {
		ps.attachStream(remote, s)
	})
	transport.OnConnected(func() {
		ps.withLink(remote, func(l *PeerLink) { l.Engine.MarkConnected() })
	})
	transport.OnFailed(func() {
		ps.withLink(remote, func(l *PeerLink) { l.Engine.MarkFailed() })
	})

	if ps.local.Audio != nil {
		if err := engine.AttachLocal(ps.local.Audio); err != nil {
			log.Warn().Err(err).Str("module", "client.peerset").Str("remote", string(remote)).Msg("attach audio")
		}
	}
	if ps.local.Video != nil {
		if err := engine.AttachLocal(ps.local.Video); err != nil {
			log.Warn().Err(err).Str("module", "client.peerset").Str("remote", string(remote)).Msg("attach video")
		}
	}

	ps.links[remote] = link
	log.Info().Str("module", "client.peerset").Str("remote", string(remote)).Str("role", role.String()).Msg("link created")
	return link, nil
}

// attachStream records remote media as soon as the transport delivers it,
// which can precede Connected under trickled exchange.
func (ps *PeerSet) attachStream(remote core.SessionID, s RemoteStream) {
	ps.withLink(remote, func(l *PeerLink) { l.Stream = s })
}

func (ps *PeerSet) withLink(remote core.SessionID, f func(*PeerLink)) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if l, ok := ps.links[remote]; ok {
		f(l)
	}
}

// relayOut serializes one engine emission into its catalog variant, decided
// here by the engine's intent.
func (ps *PeerSet) relayOut(remote core.SessionID, o Outbound) {
	var err error
	switch o.Kind {
	case SignalOffer:
		err = ps.sender.Send(protocol.KindOffer, protocol.Offer{SDP: o.SDP, To: string(remote)})
	case SignalAnswer:
		err = ps.sender.Send(protocol.KindAnswer, protocol.Answer{SDP: o.SDP, To: string(remote)})
	case SignalCandidate:
		err = ps.sender.Send(protocol.KindICECandidate, protocol.ICECandidate{
			Candidate:     o.Candidate.Candidate,
			SDPMid:        o.Candidate.SDPMid,
			SDPMLineIndex: o.Candidate.SDPMLineIndex,
			To:            string(remote),
		})
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "client.peerset").Str("remote", string(remote)).Msg("relay out")
	}
}

func decodePayload[T any](raw json.RawMessage, out *T) bool {
	if err := json.Unmarshal(raw, out); err != nil {
		log.Error().Err(err).Str("module", "client.peerset").Msg("bad payload")
		return false
	}
	return true
}
