package rtc

import (
	"math"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	// Opus in DTX produces sparse, tiny frames during silence and dense,
	// large frames during speech, so normalized payload size smoothed with
	// an EMA is a serviceable energy proxy without decoding.
	energyAlpha      = 0.3
	maxVoicePayload  = 120.0
	energyDecayAfter = 500 * time.Millisecond
)

// remoteStream drains a remote audio track and keeps a short-window average
// energy estimate for the speaker tracker.
type remoteStream struct {
	mu         sync.Mutex
	energy     float64
	lastPacket time.Time
}

func newRemoteStream(track *webrtc.TrackRemote) *remoteStream {
	s := &remoteStream{}
	go s.drain(track)
	return s
}

func (s *remoteStream) drain(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Str("module", "rtc").Msg("remote stream ended")
			return
		}
		s.consume(pkt)
	}
}

func (s *remoteStream) consume(pkt *rtp.Packet) {
	instant := float64(len(pkt.Payload)) / maxVoicePayload
	if instant > 1 {
		instant = 1
	}
	s.mu.Lock()
	s.energy = energyAlpha*instant + (1-energyAlpha)*s.energy
	s.lastPacket = time.Now()
	s.mu.Unlock()
}

func (s *remoteStream) Energy() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastPacket.IsZero() {
		return 0
	}
	elapsed := time.Since(s.lastPacket)
	if elapsed > energyDecayAfter {
		return s.energy * math.Exp(-elapsed.Seconds())
	}
	return s.energy
}
