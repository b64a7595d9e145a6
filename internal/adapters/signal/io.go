package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/protocol"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	period := ctl.Cfg.PingPeriod
	if period <= 0 {
		period = 54 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, sid core.SessionID, c *WsSignalConn, cancel context.CancelFunc) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Relay.Disconnect(sid)
		cancel()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				return
			}
			ctl.handleFrame(sid, c, cancel, data)
		}
	}
}

func (ctl *SignalWSController) handleFrame(sid core.SessionID, c *WsSignalConn, cancel context.CancelFunc, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad frame")
		return
	}

	switch env.Type {
	case protocol.KindJoinRoom:
		ctl.handleJoin(sid, c, cancel, env.Payload)
	case protocol.KindOffer:
		ctl.handleOffer(sid, env.Payload)
	case protocol.KindAnswer:
		ctl.handleAnswer(sid, env.Payload)
	case protocol.KindICECandidate:
		ctl.handleCandidate(sid, env.Payload)
	case protocol.KindPeerStateChanged:
		ctl.handleState(sid, env.Payload)
	case protocol.KindChatMessage:
		ctl.handleChat(sid, env.Payload)
	default:
		log.Warn().Str("module", "signal").Str("kind", string(env.Type)).Msg("unknown frame kind")
	}
}

func decode[T any](raw json.RawMessage, out *T) bool {
	if err := json.Unmarshal(raw, out); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad payload")
		return false
	}
	return true
}
