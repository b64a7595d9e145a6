package client

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Media health monitor. One check per tick, skipped entirely while a restart
// is in flight so the restart's own transient gap is never read as a fault.

func (ps *PeerSet) healthTickLocked(now time.Time) {
	if ps.local.Restarting != RestartNone {
		return
	}

	if ps.local.Audio != nil && !ps.local.Muted {
		if ps.local.Audio.Energy() >= ps.cfg.SilenceThreshold {
			ps.silenceStart = time.Time{}
		} else if ps.silenceStart.IsZero() {
			ps.silenceStart = now
		} else if now.Sub(ps.silenceStart) >= ps.cfg.SilenceWindow {
			log.Warn().Str("module", "client.monitor").Dur("window", ps.cfg.SilenceWindow).Msg("continuous mic silence, restarting audio")
			ps.silenceStart = time.Time{}
			ps.beginRestartLocked(RestartAudio)
			return
		}
	}

	if ps.local.Video != nil && !ps.local.VideoOff && !ps.local.Video.Live() {
		log.Warn().Str("module", "client.monitor").Msg("camera track no longer live, restarting video")
		ps.beginRestartLocked(RestartVideo)
	}
}

// beginRestartLocked claims the single shared restart flag and hands the slow
// part to its own goroutine; relay events for unrelated links keep flowing
// while acquisition suspends.
func (ps *PeerSet) beginRestartLocked(kind RestartKind) {
	ps.local.Restarting = kind
	go ps.runRestart(kind)
}

func (ps *PeerSet) runRestart(kind RestartKind) {
	ps.mu.Lock()
	var old LocalTrack
	if kind == RestartAudio {
		old = ps.local.Audio
	} else {
		old = ps.local.Video
	}
	ps.mu.Unlock()

	if old != nil {
		old.Stop()
	}

	var fresh LocalTrack
	var err error
	if kind == RestartAudio {
		fresh, err = ps.source.AcquireAudio(context.Background())
	} else {
		fresh, err = ps.source.AcquireVideo(context.Background())
	}

	if err != nil {
		if kind == RestartAudio {
			// Persistent inability to restore audio is one of the two
			// user-visible failures; the session cannot continue.
			err = fmt.Errorf("%w: audio restart: %v", ErrMediaAcquisition, err)
			log.Error().Err(err).Str("module", "client.monitor").Msg("audio restart failed")
			if ps.OnFatal != nil {
				ps.OnFatal(err)
			}
		} else {
			// Video degrades silently: the session continues without it.
			log.Warn().Err(err).Str("module", "client.monitor").Msg("video restart failed, degrading")
			ps.mu.Lock()
			ps.local.Video = nil
			ps.mu.Unlock()
		}
		ps.finishRestart(kind, err)
		return
	}

	ps.mu.Lock()
	if kind == RestartAudio {
		ps.local.Audio = fresh
	} else {
		ps.local.Video = fresh
	}
	// Hot-swap the outgoing track on every live link. A substitution, not a
	// renegotiation; one peer's swap failure never blocks the others.
	for remote, link := range ps.links {
		if link.Engine.State() != StateConnected {
			continue
		}
		if serr := link.Engine.ReplaceTrack(fresh); serr != nil {
			log.Warn().Err(serr).Str("module", "client.monitor").Str("remote", string(remote)).Msg("track swap failed")
		}
	}
	ps.mu.Unlock()

	ps.finishRestart(kind, nil)
}

// finishRestart clears the flag and resets the silence timer so the next
// window is measured from the restart's completion, not the original trigger.
func (ps *PeerSet) finishRestart(kind RestartKind, err error) {
	ps.mu.Lock()
	ps.local.Restarting = RestartNone
	ps.silenceStart = time.Time{}
	ps.mu.Unlock()
	if ps.OnRestartDone != nil {
		ps.OnRestartDone(kind, err)
	}
	log.Info().Str("module", "client.monitor").Bool("ok", err == nil).Msg("restart finalized")
}
