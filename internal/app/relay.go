package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/metrics"
	"github.com/dkeye/Mesh/internal/protocol"
)

var ErrUnauthorized = errors.New("display name not authorized")

// Relay routes addressed signaling payloads between sessions and broadcasts
// room-scoped events. It never inspects media; forwarding is fire-and-forget
// and a vanished target is dropped silently. Idempotent handling on the
// receiving client is the correctness mechanism, not delivery guarantees.
type Relay struct {
	Registry *Registry
	Rooms    core.RoomFactory
	Policy   AccessPolicy
	Metrics  *metrics.Collector

	now func() time.Time
}

func NewRelay(reg *Registry, rooms core.RoomFactory, policy AccessPolicy, col *metrics.Collector) *Relay {
	return &Relay{
		Registry: reg,
		Rooms:    rooms,
		Policy:   policy,
		Metrics:  col,
		now:      time.Now,
	}
}

// Join admits a session into a room. On rejection only the caller hears about
// it: an error frame on its own connection and no state change anywhere else.
func (rl *Relay) Join(
	sid core.SessionID,
	roomID domain.RoomID,
	displayName string,
	conn core.SignalConnection,
	cancel context.CancelFunc,
) error {
	user, err := domain.NewUser(displayName)
	if err == nil && !rl.Policy.Authorized(displayName) {
		err = ErrUnauthorized
	}
	if err != nil {
		log.Warn().Str("module", "app.relay").Str("sid", string(sid)).Str("name", displayName).Err(err).Msg("join rejected")
		if rl.Metrics != nil {
			rl.Metrics.JoinsRejected.Inc()
		}
		rl.reply(conn, protocol.KindError, protocol.Error{Reason: err.Error()})
		return err
	}

	// A re-join moves the session: the old room must see a departure and
	// lose the membership, or it would keep broadcasting to a ghost.
	if rl.Registry.Contains(sid) {
		rl.Disconnect(sid)
	}

	sess := core.NewMemberSession(user, conn)
	rl.Registry.Bind(sid, roomID, user, sess, cancel)
	room := rl.Rooms.GetOrCreate(roomID)
	room.AddMember(sid, sess)

	frame, err := protocol.Encode(protocol.KindPeerJoined, protocol.PeerJoined{
		SessionID:   string(sid),
		DisplayName: user.DisplayName,
	})
	if err != nil {
		return err
	}
	room.Broadcast(sid, core.Frame(frame))

	if rl.Metrics != nil {
		rl.Metrics.ActiveSessions.Inc()
		rl.Metrics.ActiveRooms.Set(float64(len(rl.Rooms.List())))
		rl.Metrics.Relayed.WithLabelValues(string(protocol.KindPeerJoined)).Inc()
	}
	log.Info().Str("module", "app.relay").Str("sid", string(sid)).Str("room", string(roomID)).Str("name", user.DisplayName).Msg("joined room")
	return nil
}

// Disconnect fires the departure hook: peer-left to the room, then the
// session and its directory entry are gone. Safe to call for sessions that
// never joined.
func (rl *Relay) Disconnect(sid core.SessionID) {
	roomID, ok := rl.Registry.RoomOf(sid)
	if !ok {
		return
	}
	room := rl.Rooms.GetOrCreate(roomID)
	room.RemoveMember(sid)
	rl.Registry.Unbind(sid)

	if frame, err := protocol.Encode(protocol.KindPeerLeft, protocol.PeerLeft{SessionID: string(sid)}); err == nil {
		room.Broadcast(sid, core.Frame(frame))
	}
	if room.MemberCount() == 0 {
		rl.Rooms.StopRoom(roomID)
	}
	if rl.Metrics != nil {
		rl.Metrics.ActiveSessions.Dec()
		rl.Metrics.ActiveRooms.Set(float64(len(rl.Rooms.List())))
		rl.Metrics.Relayed.WithLabelValues(string(protocol.KindPeerLeft)).Inc()
	}
	log.Info().Str("module", "app.relay").Str("sid", string(sid)).Str("room", string(roomID)).Msg("left room")
}

// ForwardOffer stamps the sender identity and display name and delivers the
// offer to its addressee, if still connected.
func (rl *Relay) ForwardOffer(sid core.SessionID, msg protocol.Offer) {
	name, ok := rl.Registry.DisplayName(sid)
	if !ok {
		return
	}
	to := msg.To
	msg.To = ""
	msg.From = string(sid)
	msg.DisplayName = name
	rl.deliver(sid, core.SessionID(to), protocol.KindOffer, msg)
}

// ForwardAnswer mirrors ForwardOffer for the responder side.
func (rl *Relay) ForwardAnswer(sid core.SessionID, msg protocol.Answer) {
	name, ok := rl.Registry.DisplayName(sid)
	if !ok {
		return
	}
	to := msg.To
	msg.To = ""
	msg.From = string(sid)
	msg.DisplayName = name
	rl.deliver(sid, core.SessionID(to), protocol.KindAnswer, msg)
}

// ForwardCandidate stamps From only; the prior offer/answer already carried
// the display name.
func (rl *Relay) ForwardCandidate(sid core.SessionID, msg protocol.ICECandidate) {
	if !rl.Registry.Contains(sid) {
		return
	}
	to := msg.To
	msg.To = ""
	msg.From = string(sid)
	rl.deliver(sid, core.SessionID(to), protocol.KindICECandidate, msg)
}

// BroadcastState fans a mute/video flag change out to the other members.
// Verbatim, last-write-wins, no acknowledgement.
func (rl *Relay) BroadcastState(sid core.SessionID, msg protocol.PeerState) {
	roomID, ok := rl.Registry.RoomOf(sid)
	if !ok {
		return
	}
	frame, err := protocol.Encode(protocol.KindPeerStateChanged, msg)
	if err != nil {
		return
	}
	rl.Rooms.GetOrCreate(roomID).Broadcast(sid, core.Frame(frame))
	if rl.Metrics != nil {
		rl.Metrics.Relayed.WithLabelValues(string(protocol.KindPeerStateChanged)).Inc()
	}
}

// Chat broadcasts a room message with a server-assigned timestamp.
// No persistence, no delivery guarantee beyond socket ordering.
func (rl *Relay) Chat(sid core.SessionID, msg protocol.Chat) {
	roomID, ok := rl.Registry.RoomOf(sid)
	if !ok {
		return
	}
	msg.Time = rl.now().UnixMilli()
	frame, err := protocol.Encode(protocol.KindChatMessage, msg)
	if err != nil {
		return
	}
	// The sender sees its own message back, stamped like everyone else's.
	rl.Rooms.GetOrCreate(roomID).Broadcast("", core.Frame(frame))
	if rl.Metrics != nil {
		rl.Metrics.ChatMessages.Inc()
	}
}

func (rl *Relay) deliver(from, to core.SessionID, kind protocol.Kind, payload any) {
	roomID, ok := rl.Registry.RoomOf(from)
	if !ok {
		return
	}
	frame, err := protocol.Encode(kind, payload)
	if err != nil {
		return
	}
	if !rl.Rooms.GetOrCreate(roomID).Send(to, core.Frame(frame)) {
		// Target already gone. The sender's retry or the departure
		// broadcast resolves the staleness; nothing to report.
		log.Debug().Str("module", "app.relay").Str("from", string(from)).Str("to", string(to)).Str("kind", string(kind)).Msg("delivery miss, dropped")
		return
	}
	if rl.Metrics != nil {
		rl.Metrics.Relayed.WithLabelValues(string(kind)).Inc()
	}
}

func (rl *Relay) reply(conn core.SignalConnection, kind protocol.Kind, payload any) {
	frame, err := protocol.Encode(kind, payload)
	if err != nil {
		return
	}
	_ = conn.TrySend(core.Frame(frame))
}
