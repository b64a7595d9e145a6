package core

import "github.com/dkeye/Mesh/internal/domain"

// Frame is one serialized protocol envelope.
type Frame []byte

type SessionID string

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// MemberSession binds a declared identity and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	Meta() *domain.User
	Signal() SignalConnection
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	SessionID   SessionID `json:"sessionId"`
	DisplayName string    `json:"displayName"`
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot() []MemberDTO

	AddMember(sid SessionID, ms MemberSession)
	RemoveMember(sid SessionID)
	// Send delivers a frame to a single member; false means the member
	// is not (or no longer) in the room.
	Send(to SessionID, data Frame) bool
	// Broadcast fans a frame out to every member except from.
	Broadcast(from SessionID, data Frame) int
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"member_count"`
	Members     []MemberDTO   `json:"members"`
}

type RoomFactory interface {
	GetOrCreate(id domain.RoomID) RoomService
	List() []RoomInfo
	StopRoom(id domain.RoomID)
}
