package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/protocol"
)

func (ctl *SignalWSController) handleJoin(sid core.SessionID, conn *WsSignalConn, cancel context.CancelFunc, raw json.RawMessage) {
	var p protocol.JoinRoom
	if !decode(raw, &p) {
		return
	}
	if p.RoomID == "" {
		p.RoomID = "main"
	}

	if !ctl.Limiter.Allow(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("join rate limited")
		ctl.sendError(conn, "too many join attempts")
		return
	}

	// The relay replies with its own error frame on rejection; the read
	// loop keeps running either way so the client may retry with another
	// name. The connection's cancel goes into the directory so the
	// session can be terminated server-side.
	_ = ctl.Relay.Join(sid, p.RoomID, p.DisplayName, conn, cancel)
}

func (ctl *SignalWSController) handleState(sid core.SessionID, raw json.RawMessage) {
	var p protocol.PeerState
	if !decode(raw, &p) {
		return
	}
	p.SessionID = string(sid)
	ctl.Relay.BroadcastState(sid, p)
}

func (ctl *SignalWSController) handleChat(sid core.SessionID, raw json.RawMessage) {
	var p protocol.Chat
	if !decode(raw, &p) {
		return
	}
	ctl.Relay.Chat(sid, p)
}

func (ctl *SignalWSController) sendError(conn *WsSignalConn, reason string) {
	frame, err := protocol.Encode(protocol.KindError, protocol.Error{Reason: reason})
	if err != nil {
		return
	}
	_ = conn.TrySend(core.Frame(frame))
}
