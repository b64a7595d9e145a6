package rtc

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/dkeye/Mesh/internal/client"
)

// opusSilence is a single Opus DTX frame: what an encoder emits for silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const (
	audioFrameDuration = 20 * time.Millisecond
	videoFrameDuration = 66 * time.Millisecond
)

// SampleSource is a synthetic capture device for the headless client: it
// produces writable pion tracks without any real microphone or camera.
// ToneAmplitude is what the audio track reports as its energy, so the health
// monitor can be exercised end to end.
type SampleSource struct {
	ToneAmplitude float64
}

func NewSampleSource(toneAmplitude float64) *SampleSource {
	return &SampleSource{ToneAmplitude: toneAmplitude}
}

func (s *SampleSource) AcquireAudio(ctx context.Context) (client.LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "mesh-audio",
	)
	if err != nil {
		return nil, err
	}
	t := newSampleTrack(client.TrackAudio, track, s.ToneAmplitude)
	go t.writeLoop(audioFrameDuration, opusSilence)
	return t, nil
}

func (s *SampleSource) AcquireVideo(ctx context.Context) (client.LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "mesh-video",
	)
	if err != nil {
		return nil, err
	}
	t := newSampleTrack(client.TrackVideo, track, 0)
	go t.writeLoop(videoFrameDuration, []byte{0x00})
	return t, nil
}

type sampleTrack struct {
	kind  client.TrackKind
	track *webrtc.TrackLocalStaticSample
	amp   float64

	mu   sync.Mutex
	live bool
	stop chan struct{}
	once sync.Once
}

func newSampleTrack(kind client.TrackKind, track *webrtc.TrackLocalStaticSample, amp float64) *sampleTrack {
	return &sampleTrack{
		kind:  kind,
		track: track,
		amp:   amp,
		live:  true,
		stop:  make(chan struct{}),
	}
}

func (t *sampleTrack) writeLoop(frame time.Duration, payload []byte) {
	ticker := time.NewTicker(frame)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if err := t.track.WriteSample(media.Sample{Data: payload, Duration: frame}); err != nil {
				return
			}
		}
	}
}

func (t *sampleTrack) Kind() client.TrackKind { return t.kind }

func (t *sampleTrack) Energy() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.live || t.kind != client.TrackAudio {
		return 0
	}
	return t.amp
}

func (t *sampleTrack) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

func (t *sampleTrack) Stop() {
	t.once.Do(func() {
		t.mu.Lock()
		t.live = false
		t.mu.Unlock()
		close(t.stop)
	})
}

func (t *sampleTrack) RTPTrack() webrtc.TrackLocal { return t.track }
