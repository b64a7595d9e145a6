package client

import (
	"sort"
	"time"

	"github.com/dkeye/Mesh/internal/core"
)

// Speaker activity tracker: per-link energy sampling with a delay-confirmed
// debounce. A stamp commits only if the remote stays above the speaking
// threshold for the whole hold window; a dip cancels the pending stamp
// outright (this is a debounce, not a cumulative timer).

type speakState int

const (
	speakIdle speakState = iota
	speakPending
)

func (ps *PeerSet) speakerTickLocked(now time.Time) {
	for _, l := range ps.links {
		if l.Stream == nil {
			continue
		}
		energy := l.Stream.Energy()
		switch l.speak {
		case speakIdle:
			if energy > ps.cfg.SpeakingThreshold {
				l.speak = speakPending
				l.speakDeadline = now.Add(ps.cfg.SpeakingHold)
			}
		case speakPending:
			if energy < ps.cfg.SpeakingThreshold {
				l.speak = speakIdle
				continue
			}
			if !now.Before(l.speakDeadline) {
				l.LastSpeakingAt = now
				l.speak = speakIdle
			}
		}
	}
}

// SpeakingOrder returns the presentation order: most recent confirmed speaker
// first, ties and never-stamped links in stable join order, never-stamped
// last.
func (ps *PeerSet) SpeakingOrder() []LinkInfo {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	links := make([]*PeerLink, 0, len(ps.links))
	for _, l := range ps.links {
		links = append(links, l)
	}
	sort.SliceStable(links, func(i, j int) bool {
		a, b := links[i], links[j]
		aStamped := !a.LastSpeakingAt.IsZero()
		bStamped := !b.LastSpeakingAt.IsZero()
		switch {
		case aStamped && !bStamped:
			return true
		case !aStamped && bStamped:
			return false
		case aStamped && bStamped && !a.LastSpeakingAt.Equal(b.LastSpeakingAt):
			return a.LastSpeakingAt.After(b.LastSpeakingAt)
		default:
			return a.joinOrder < b.joinOrder
		}
	})

	out := make([]LinkInfo, 0, len(links))
	for _, l := range links {
		out = append(out, snapshotLink(l))
	}
	return out
}

// SpeakingSessions is SpeakingOrder reduced to ids, handy for layouts.
func (ps *PeerSet) SpeakingSessions() []core.SessionID {
	infos := ps.SpeakingOrder()
	out := make([]core.SessionID, 0, len(infos))
	for _, info := range infos {
		out = append(out, info.Remote)
	}
	return out
}
