package client

import (
	"context"
	"errors"
)

// ErrMediaAcquisition means a local track could not be obtained. Fatal when
// joining; during a restart only the audio path treats it as fatal.
var ErrMediaAcquisition = errors.New("cannot acquire local media track")

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// LocalTrack is one captured local media track.
type LocalTrack interface {
	Kind() TrackKind
	// Energy is the short-window average energy. Meaningful for audio.
	Energy() float64
	// Live reports the track's liveness signal; false means it ended or
	// was muted externally (device unplugged, OS-level revoke).
	Live() bool
	Stop()
}

// Source acquires fresh local tracks. Acquisition may suspend; callers must
// not hold the peer set lock across a call.
type Source interface {
	AcquireAudio(ctx context.Context) (LocalTrack, error)
	AcquireVideo(ctx context.Context) (LocalTrack, error)
}

// RemoteStream is the remote side of a link once media starts flowing.
type RemoteStream interface {
	// Energy is the short-window average energy of the remote audio.
	Energy() float64
}

// RestartKind is the single restart flag shared by all media kinds:
// at most one restart is in flight per local session.
type RestartKind int

const (
	RestartNone RestartKind = iota
	RestartAudio
	RestartVideo
)

// LocalMedia is the local capture bundle.
type LocalMedia struct {
	Audio      LocalTrack
	Video      LocalTrack
	Muted      bool
	VideoOff   bool
	Restarting RestartKind
}
