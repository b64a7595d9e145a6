package client

import (
	"context"
	"sync"

	"github.com/dkeye/Mesh/internal/protocol"
)

// fakeTransport records everything the engine does and lets tests fire the
// asynchronous transport callbacks by hand.
type fakeTransport struct {
	mu sync.Mutex

	offerSDP  string
	answerSDP string

	appliedOffer  string
	appliedAnswer string
	candidates    []Candidate
	attached      []LocalTrack
	replaced      []LocalTrack
	closed        bool

	failCreate  error
	failApply   error
	failReplace error

	onCandidate    func(Candidate)
	onRemoteStream func(RemoteStream)
	onConnected    func()
	onFailed       func()
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{offerSDP: "sdp-offer", answerSDP: "sdp-answer"}
}

func (f *fakeTransport) CreateOffer() (string, error) {
	if f.failCreate != nil {
		return "", f.failCreate
	}
	return f.offerSDP, nil
}

func (f *fakeTransport) ApplyOfferCreateAnswer(offer string) (string, error) {
	if f.failApply != nil {
		return "", f.failApply
	}
	f.mu.Lock()
	f.appliedOffer = offer
	f.mu.Unlock()
	return f.answerSDP, nil
}

func (f *fakeTransport) ApplyAnswer(answer string) error {
	if f.failApply != nil {
		return f.failApply
	}
	f.mu.Lock()
	f.appliedAnswer = answer
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) AddCandidate(c Candidate) error {
	f.mu.Lock()
	f.candidates = append(f.candidates, c)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) AttachLocal(t LocalTrack) error {
	f.mu.Lock()
	f.attached = append(f.attached, t)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) ReplaceTrack(t LocalTrack) error {
	if f.failReplace != nil {
		return f.failReplace
	}
	f.mu.Lock()
	f.replaced = append(f.replaced, t)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) OnCandidate(fn func(Candidate))       { f.onCandidate = fn }
func (f *fakeTransport) OnRemoteStream(fn func(RemoteStream)) { f.onRemoteStream = fn }
func (f *fakeTransport) OnConnected(fn func())                { f.onConnected = fn }
func (f *fakeTransport) OnFailed(fn func())                   { f.onFailed = fn }

func (f *fakeTransport) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) fireConnected() {
	if f.onConnected != nil {
		f.onConnected()
	}
}

func (f *fakeTransport) fireFailed() {
	if f.onFailed != nil {
		f.onFailed()
	}
}

func (f *fakeTransport) fireRemoteStream(s RemoteStream) {
	if f.onRemoteStream != nil {
		f.onRemoteStream(s)
	}
}

// transportMaker hands out fakes in creation order.
type transportMaker struct {
	mu   sync.Mutex
	made []*fakeTransport
}

func (m *transportMaker) factory() (LinkTransport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := newFakeTransport()
	m.made = append(m.made, t)
	return t, nil
}

func (m *transportMaker) at(i int) *fakeTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.made[i]
}

func (m *transportMaker) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.made)
}

type sentMsg struct {
	kind    protocol.Kind
	payload any
}

// fakeSender records outbound frames without serialization.
type fakeSender struct {
	mu     sync.Mutex
	sent   []sentMsg
	closed bool
}

func (s *fakeSender) Send(kind protocol.Kind, payload any) error {
	s.mu.Lock()
	s.sent = append(s.sent, sentMsg{kind: kind, payload: payload})
	s.mu.Unlock()
	return nil
}

func (s *fakeSender) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeSender) byKind(kind protocol.Kind) []sentMsg {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sentMsg
	for _, m := range s.sent {
		if m.kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// fakeTrack is a controllable local track.
type fakeTrack struct {
	mu      sync.Mutex
	kind    TrackKind
	energy  float64
	live    bool
	stopped bool
}

func newFakeTrack(kind TrackKind) *fakeTrack {
	return &fakeTrack{kind: kind, live: true}
}

func (t *fakeTrack) Kind() TrackKind { return t.kind }

func (t *fakeTrack) Energy() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.energy
}

func (t *fakeTrack) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.live = false
	t.mu.Unlock()
}

func (t *fakeTrack) setEnergy(e float64) {
	t.mu.Lock()
	t.energy = e
	t.mu.Unlock()
}

func (t *fakeTrack) setLive(live bool) {
	t.mu.Lock()
	t.live = live
	t.mu.Unlock()
}

// fakeSource serves queued tracks and can be made to fail or block.
type fakeSource struct {
	mu         sync.Mutex
	audioQueue []*fakeTrack
	videoQueue []*fakeTrack
	audioErr   error
	videoErr   error
	block      chan struct{}

	audioAcquired int
	videoAcquired int
}

func (s *fakeSource) AcquireAudio(ctx context.Context) (LocalTrack, error) {
	if s.blockCh() != nil {
		<-s.blockCh()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioAcquired++
	if s.audioErr != nil {
		return nil, s.audioErr
	}
	if len(s.audioQueue) == 0 {
		return newFakeTrack(TrackAudio), nil
	}
	t := s.audioQueue[0]
	s.audioQueue = s.audioQueue[1:]
	return t, nil
}

func (s *fakeSource) AcquireVideo(ctx context.Context) (LocalTrack, error) {
	if s.blockCh() != nil {
		<-s.blockCh()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoAcquired++
	if s.videoErr != nil {
		return nil, s.videoErr
	}
	if len(s.videoQueue) == 0 {
		return newFakeTrack(TrackVideo), nil
	}
	t := s.videoQueue[0]
	s.videoQueue = s.videoQueue[1:]
	return t, nil
}

func (s *fakeSource) blockCh() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.block
}

// fakeStream is a controllable remote stream for the speaker tracker.
type fakeStream struct {
	mu     sync.Mutex
	energy float64
}

func (s *fakeStream) Energy() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.energy
}

func (s *fakeStream) setEnergy(e float64) {
	s.mu.Lock()
	s.energy = e
	s.mu.Unlock()
}

func newTestPeerSet(sender Sender, maker *transportMaker, source Source, clock Clock) *PeerSet {
	if sender == nil {
		sender = &fakeSender{}
	}
	if source == nil {
		source = &fakeSource{}
	}
	if clock == nil {
		clock = SystemClock
	}
	return NewPeerSet("self", sender, maker.factory, source, clock, Settings{})
}
