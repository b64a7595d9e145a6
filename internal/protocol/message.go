// Package protocol defines the relay message catalog shared by the server
// and the client. Every frame on the wire is an Envelope whose Kind is fixed
// by the sender at serialization time; receivers dispatch on Kind and never
// guess a variant from payload shape.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Mesh/internal/domain"
)

type Kind string

const (
	KindJoinRoom         Kind = "join-room"
	KindError            Kind = "error"
	KindPeerJoined       Kind = "peer-joined"
	KindPeerLeft         Kind = "peer-left"
	KindOffer            Kind = "offer"
	KindAnswer           Kind = "answer"
	KindICECandidate     Kind = "ice-candidate"
	KindPeerStateChanged Kind = "peer-state-changed"
	KindChatMessage      Kind = "chat-message"
)

var ErrUnknownKind = errors.New("unknown message kind")

// Envelope is the wire frame: a kind tag plus the kind-specific payload.
type Envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinRoom is sent by a client that wants to enter a room.
type JoinRoom struct {
	RoomID      domain.RoomID `json:"roomId"`
	DisplayName string        `json:"displayName"`
}

// Error is sent to a single client, e.g. on a rejected join.
type Error struct {
	Reason string `json:"reason"`
}

// PeerJoined is broadcast to every other room member on an accepted join.
type PeerJoined struct {
	SessionID   string `json:"sessionId"`
	DisplayName string `json:"displayName"`
}

// PeerLeft is broadcast to the room when a session disconnects or leaves.
type PeerLeft struct {
	SessionID string `json:"sessionId"`
}

// Offer carries an SDP offer. To is set by the sending client; From and
// DisplayName are stamped by the relay before forwarding.
type Offer struct {
	SDP         string `json:"sdp"`
	To          string `json:"to,omitempty"`
	From        string `json:"from,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// Answer carries an SDP answer, stamped the same way as Offer.
type Answer struct {
	SDP         string `json:"sdp"`
	To          string `json:"to,omitempty"`
	From        string `json:"from,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// ICECandidate carries one trickled candidate. Identity is already
// established by the preceding offer/answer, so only From is stamped.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	To            string  `json:"to,omitempty"`
	From          string  `json:"from,omitempty"`
}

// PeerState is broadcast verbatim to the other room members.
// Last write wins, no acknowledgement.
type PeerState struct {
	RoomID    domain.RoomID `json:"roomId"`
	SessionID string        `json:"sessionId"`
	Muted     bool          `json:"muted"`
	VideoOff  bool          `json:"videoOff"`
}

// Chat is a room-scoped text message. Time is assigned by the server.
type Chat struct {
	RoomID      domain.RoomID `json:"roomId"`
	Text        string        `json:"text"`
	DisplayName string        `json:"displayName"`
	Time        int64         `json:"time,omitempty"`
}

// Encode wraps a payload into an Envelope frame.
func Encode(kind Kind, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return json.Marshal(Envelope{Type: kind, Payload: raw})
}

// Decode splits a frame into its kind tag and raw payload.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, ErrUnknownKind
	}
	return env, nil
}
