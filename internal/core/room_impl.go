package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mesh/internal/domain"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room  *domain.Room
	mu    sync.RWMutex
	bySID map[SessionID]MemberSession
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:  room,
		bySID: make(map[SessionID]MemberSession),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

func (r *roomImpl) AddMember(sid SessionID, ms MemberSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySID[sid] = ms
	log.Info().Str("module", "core.room").Str("sid", string(sid)).Str("room", string(r.room.ID)).Msg("member added")
}

func (r *roomImpl) RemoveMember(sid SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bySID, sid)
	log.Info().Str("module", "core.room").Str("sid", string(sid)).Str("room", string(r.room.ID)).Msg("member removed")
}

// Send is fire-and-forget: a missing or saturated member means a dropped
// frame, never an error back to the sender.
func (r *roomImpl) Send(to SessionID, data Frame) bool {
	r.mu.RLock()
	ms, ok := r.bySID[to]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return ms.Signal().TrySend(data) == nil
}

func (r *roomImpl) Broadcast(from SessionID, data Frame) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sent := 0
	for sid, m := range r.bySID {
		if sid == from {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			continue
		}
		sent++
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", sent).Msg("broadcast result")
	return sent
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberDTO, 0, len(r.bySID))
	for sid, ms := range r.bySID {
		out = append(out, MemberDTO{SessionID: sid, DisplayName: ms.Meta().DisplayName})
	}
	return out
}
