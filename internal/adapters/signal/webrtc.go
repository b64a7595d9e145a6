package signal

import (
	"encoding/json"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/protocol"
)

// The relay forwards negotiation payloads without looking inside the SDP or
// candidate material; only the routing fields are touched.

func (ctl *SignalWSController) handleOffer(sid core.SessionID, raw json.RawMessage) {
	var p protocol.Offer
	if !decode(raw, &p) {
		return
	}
	ctl.Relay.ForwardOffer(sid, p)
}

func (ctl *SignalWSController) handleAnswer(sid core.SessionID, raw json.RawMessage) {
	var p protocol.Answer
	if !decode(raw, &p) {
		return
	}
	ctl.Relay.ForwardAnswer(sid, p)
}

func (ctl *SignalWSController) handleCandidate(sid core.SessionID, raw json.RawMessage) {
	var p protocol.ICECandidate
	if !decode(raw, &p) {
		return
	}
	ctl.Relay.ForwardCandidate(sid, p)
}
