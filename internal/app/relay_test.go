package app

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/metrics"
	"github.com/dkeye/Mesh/internal/protocol"
)

// fakeConn records every frame pushed at it.
type fakeConn struct {
	frames []core.Frame
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() { c.closed = true }

func (c *fakeConn) byKind(t *testing.T, kind protocol.Kind) []protocol.Envelope {
	t.Helper()
	var out []protocol.Envelope
	for _, f := range c.frames {
		env, err := protocol.Decode(f)
		if err != nil {
			t.Fatalf("recorded frame does not decode: %v", err)
		}
		if env.Type == kind {
			out = append(out, env)
		}
	}
	return out
}

func payloadAs[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		t.Fatalf("payload does not decode: %v", err)
	}
	return out
}

func newTestRelay() *Relay {
	return NewRelay(NewRegistry(), NewRoomManager(), AllowAll{}, nil)
}

func join(t *testing.T, rl *Relay, sid core.SessionID, name string) *fakeConn {
	t.Helper()
	conn := &fakeConn{}
	if err := rl.Join(sid, "main", name, conn, nil); err != nil {
		t.Fatalf("join %s: %v", sid, err)
	}
	return conn
}

func TestRelayJoinAnnouncesToOthersOnly(t *testing.T) {
	rl := newTestRelay()
	alice := join(t, rl, "a", "alice")
	bob := join(t, rl, "b", "bob")

	// Alice hears about bob; bob hears about nobody (he was last in).
	joined := alice.byKind(t, protocol.KindPeerJoined)
	if len(joined) != 1 {
		t.Fatalf("alice peer-joined frames = %d, want 1", len(joined))
	}
	p := payloadAs[protocol.PeerJoined](t, joined[0])
	if p.SessionID != "b" || p.DisplayName != "bob" {
		t.Fatalf("peer-joined payload = %+v", p)
	}
	if got := len(bob.byKind(t, protocol.KindPeerJoined)); got != 0 {
		t.Fatalf("bob peer-joined frames = %d, want 0", got)
	}

	if rl.Registry.Count() != 2 {
		t.Fatalf("registry count = %d, want 2", rl.Registry.Count())
	}
	if got := rl.Rooms.GetOrCreate("main").MemberCount(); got != 2 {
		t.Fatalf("room members = %d, want 2", got)
	}
}

func TestRelayJoinRejectionIsPrivate(t *testing.T) {
	rl := NewRelay(NewRegistry(), NewRoomManager(), NewDenylist("mallory"), nil)
	alice := join(t, rl, "a", "alice")

	conn := &fakeConn{}
	err := rl.Join("m", "main", "mallory", conn, nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}

	// Rejection reaches the caller alone; the room never learns a join was
	// attempted and the directory stays untouched.
	errs := conn.byKind(t, protocol.KindError)
	if len(errs) != 1 {
		t.Fatalf("error frames = %d, want 1", len(errs))
	}
	if p := payloadAs[protocol.Error](t, errs[0]); p.Reason == "" {
		t.Fatal("error frame has no reason")
	}
	if got := len(alice.frames); got != 0 {
		t.Fatalf("alice received %d frames during rejected join", got)
	}
	if rl.Registry.Contains("m") {
		t.Fatal("rejected session bound in registry")
	}
	if got := rl.Rooms.GetOrCreate("main").MemberCount(); got != 1 {
		t.Fatalf("room members = %d, want 1", got)
	}
}

func TestRelayRejoinMovesSessionBetweenRooms(t *testing.T) {
	rl := newTestRelay()
	aConn := join(t, rl, "a", "alice")
	bob := join(t, rl, "b", "bob")

	// Same session joins another room: the first room sees a departure and
	// drops the membership entirely.
	conn2 := &fakeConn{}
	if err := rl.Join("a", "room2", "alice", conn2, nil); err != nil {
		t.Fatalf("re-join: %v", err)
	}
	if got := rl.Rooms.GetOrCreate("main").MemberCount(); got != 1 {
		t.Fatalf("room main members after re-join = %d, want 1", got)
	}
	if got := rl.Rooms.GetOrCreate("room2").MemberCount(); got != 1 {
		t.Fatalf("room2 members = %d, want 1", got)
	}
	left := bob.byKind(t, protocol.KindPeerLeft)
	if len(left) != 1 {
		t.Fatalf("bob peer-left frames = %d, want 1", len(left))
	}
	if p := payloadAs[protocol.PeerLeft](t, left[0]); p.SessionID != "a" {
		t.Fatalf("peer-left payload = %+v", p)
	}

	// Broadcasts in the old room must reach neither the moved session's new
	// connection nor its abandoned one.
	before, oldBefore := len(conn2.frames), len(aConn.frames)
	rl.BroadcastState("b", protocol.PeerState{RoomID: "main", SessionID: "b", Muted: true})
	if got := len(conn2.frames); got != before {
		t.Fatalf("moved session received %d old-room frames", got-before)
	}
	if got := len(aConn.frames); got != oldBefore {
		t.Fatalf("abandoned connection received %d old-room frames", got-oldBefore)
	}
	if roomID, _ := rl.Registry.RoomOf("a"); roomID != "room2" {
		t.Fatalf("registry room = %q, want room2", roomID)
	}

	// Disconnect cleans the current room only; nothing stale remains.
	rl.Disconnect("a")
	rl.Disconnect("b")
	if got := len(rl.Rooms.List()); got != 0 {
		t.Fatalf("rooms after departures = %d, want 0", got)
	}
}

func TestRelayJoinValidatesDisplayName(t *testing.T) {
	rl := newTestRelay()
	for _, name := range []string{"", string(make([]byte, 64))} {
		conn := &fakeConn{}
		if err := rl.Join("x", "main", name, conn, nil); err == nil {
			t.Fatalf("join with name %q accepted", name)
		}
		if len(conn.byKind(t, protocol.KindError)) != 1 {
			t.Fatalf("no error frame for name %q", name)
		}
	}
}

func TestRelayForwardOfferStampsSender(t *testing.T) {
	rl := newTestRelay()
	join(t, rl, "a", "alice")
	bob := join(t, rl, "b", "bob")

	rl.ForwardOffer("a", protocol.Offer{SDP: "offer-sdp", To: "b", DisplayName: "spoofed"})

	offers := bob.byKind(t, protocol.KindOffer)
	if len(offers) != 1 {
		t.Fatalf("offers delivered = %d, want 1", len(offers))
	}
	p := payloadAs[protocol.Offer](t, offers[0])
	if p.From != "a" || p.DisplayName != "alice" || p.To != "" || p.SDP != "offer-sdp" {
		t.Fatalf("forwarded offer = %+v", p)
	}
}

func TestRelayForwardAnswerStampsSender(t *testing.T) {
	rl := newTestRelay()
	alice := join(t, rl, "a", "alice")
	join(t, rl, "b", "bob")

	rl.ForwardAnswer("b", protocol.Answer{SDP: "answer-sdp", To: "a"})

	answers := alice.byKind(t, protocol.KindAnswer)
	if len(answers) != 1 {
		t.Fatalf("answers delivered = %d, want 1", len(answers))
	}
	p := payloadAs[protocol.Answer](t, answers[0])
	if p.From != "b" || p.DisplayName != "bob" || p.To != "" {
		t.Fatalf("forwarded answer = %+v", p)
	}
}

func TestRelayForwardCandidateStampsFromOnly(t *testing.T) {
	rl := newTestRelay()
	join(t, rl, "a", "alice")
	bob := join(t, rl, "b", "bob")

	mid := "0"
	rl.ForwardCandidate("a", protocol.ICECandidate{Candidate: "cand", SDPMid: &mid, To: "b"})

	cands := bob.byKind(t, protocol.KindICECandidate)
	if len(cands) != 1 {
		t.Fatalf("candidates delivered = %d, want 1", len(cands))
	}
	p := payloadAs[protocol.ICECandidate](t, cands[0])
	if p.From != "a" || p.To != "" || p.Candidate != "cand" || p.SDPMid == nil || *p.SDPMid != "0" {
		t.Fatalf("forwarded candidate = %+v", p)
	}
}

func TestRelayForwardMissesAreSilent(t *testing.T) {
	rl := newTestRelay()
	alice := join(t, rl, "a", "alice")

	// Target vanished: dropped without a trace.
	rl.ForwardOffer("a", protocol.Offer{SDP: "x", To: "gone"})
	if got := len(alice.frames); got != 0 {
		t.Fatalf("alice received %d frames after delivery miss", got)
	}

	// Sender unknown to the directory: nothing is forwarded at all.
	rl.ForwardOffer("ghost", protocol.Offer{SDP: "x", To: "a"})
	rl.ForwardCandidate("ghost", protocol.ICECandidate{Candidate: "x", To: "a"})
	if got := len(alice.frames); got != 0 {
		t.Fatalf("alice received %d frames from unknown sender", got)
	}
}

func TestRelayDisconnectBroadcastsDeparture(t *testing.T) {
	rl := newTestRelay()
	alice := join(t, rl, "a", "alice")
	join(t, rl, "b", "bob")

	rl.Disconnect("b")

	left := alice.byKind(t, protocol.KindPeerLeft)
	if len(left) != 1 {
		t.Fatalf("peer-left frames = %d, want 1", len(left))
	}
	if p := payloadAs[protocol.PeerLeft](t, left[0]); p.SessionID != "b" {
		t.Fatalf("peer-left payload = %+v", p)
	}
	if rl.Registry.Contains("b") {
		t.Fatal("disconnected session still bound")
	}

	// Disconnecting a session that never joined is a no-op.
	rl.Disconnect("ghost")

	// Last member out stops the room.
	rl.Disconnect("a")
	if got := len(rl.Rooms.List()); got != 0 {
		t.Fatalf("rooms after last departure = %d, want 0", got)
	}
}

func TestRelayStateBroadcastExcludesSender(t *testing.T) {
	rl := newTestRelay()
	alice := join(t, rl, "a", "alice")
	bob := join(t, rl, "b", "bob")

	rl.BroadcastState("a", protocol.PeerState{RoomID: "main", SessionID: "a", Muted: true})

	states := bob.byKind(t, protocol.KindPeerStateChanged)
	if len(states) != 1 {
		t.Fatalf("bob state frames = %d, want 1", len(states))
	}
	p := payloadAs[protocol.PeerState](t, states[0])
	if p.SessionID != "a" || !p.Muted || p.VideoOff {
		t.Fatalf("state payload = %+v", p)
	}
	if got := len(alice.byKind(t, protocol.KindPeerStateChanged)); got != 0 {
		t.Fatalf("alice echoed her own state %d times", got)
	}
}

func TestRelayChatStampsServerTimeAndIncludesSender(t *testing.T) {
	rl := newTestRelay()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return at }

	alice := join(t, rl, "a", "alice")
	bob := join(t, rl, "b", "bob")

	rl.Chat("a", protocol.Chat{RoomID: "main", Text: "hello", DisplayName: "alice", Time: 12345})

	for who, conn := range map[string]*fakeConn{"alice": alice, "bob": bob} {
		msgs := conn.byKind(t, protocol.KindChatMessage)
		if len(msgs) != 1 {
			t.Fatalf("%s chat frames = %d, want 1", who, len(msgs))
		}
		p := payloadAs[protocol.Chat](t, msgs[0])
		if p.Text != "hello" || p.DisplayName != "alice" {
			t.Fatalf("%s chat payload = %+v", who, p)
		}
		if p.Time != at.UnixMilli() {
			t.Fatalf("%s chat time = %d, want server stamp %d", who, p.Time, at.UnixMilli())
		}
	}
}

func TestRelayMetricsAccounting(t *testing.T) {
	col := metrics.New(prometheus.NewRegistry())
	rl := NewRelay(NewRegistry(), NewRoomManager(), AllowAll{}, col)

	join(t, rl, "a", "alice")
	join(t, rl, "b", "bob")
	if got := testutil.ToFloat64(col.ActiveSessions); got != 2 {
		t.Fatalf("active sessions = %v, want 2", got)
	}

	rl.ForwardOffer("a", protocol.Offer{SDP: "x", To: "b"})
	if got := testutil.ToFloat64(col.Relayed.WithLabelValues(string(protocol.KindOffer))); got != 1 {
		t.Fatalf("relayed offers = %v, want 1", got)
	}

	if err := rl.Join("x", "main", "", &fakeConn{}, nil); err == nil {
		t.Fatal("empty name accepted")
	}
	if got := testutil.ToFloat64(col.JoinsRejected); got != 1 {
		t.Fatalf("joins rejected = %v, want 1", got)
	}

	rl.Disconnect("a")
	rl.Disconnect("b")
	if got := testutil.ToFloat64(col.ActiveSessions); got != 0 {
		t.Fatalf("active sessions after departures = %v, want 0", got)
	}
}
