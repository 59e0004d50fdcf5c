// Package media models capture streams and tracks at the boundary the
// session orchestrator works against. Real capture devices live behind
// the Capturer interface; the orchestrator never talks to hardware.
package media

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid"
)

type Kind string

const (
	Video Kind = "video"
	Audio Kind = "audio"
)

// Sample is one encoded media chunk produced by a track source.
type Sample struct {
	Data     []byte
	Duration time.Duration
}

// Track is a single capture track with a mute flag. Disabling a track
// is a flag flip only and never tears down the source.
type Track struct {
	id   string
	kind Kind

	mu      sync.Mutex
	enabled bool
	ended   bool
	audio   AudioConstraints
	samples chan Sample
	onEnded func()
}

func NewTrack(kind Kind) *Track {
	return &Track{
		id:      uuid.Must(uuid.NewV4()).String(),
		kind:    kind,
		enabled: true,
		samples: make(chan Sample, 30),
	}
}

func (t *Track) ID() string { return t.id }
func (t *Track) Kind() Kind { return t.kind }

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

// ApplyAudioConstraints updates source processing knobs in place,
// the way applyConstraints works on a live browser track.
func (t *Track) ApplyAudioConstraints(a AudioConstraints) {
	t.mu.Lock()
	t.audio = a
	t.mu.Unlock()
}

func (t *Track) AudioConstraints() AudioConstraints {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.audio
}

// Write feeds one sample from the source; samples of a disabled track
// are dropped at the gate. The send stays under the lock so Stop can
// never close the channel mid-send.
func (t *Track) Write(s Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended || !t.enabled {
		return
	}
	select {
	case t.samples <- s:
	default: // slow consumer sheds load
	}
}

func (t *Track) Samples() <-chan Sample { return t.samples }

func (t *Track) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

// OnEnded registers the handler fired when the track stops, either by
// Stop or by the source going away (OS-level share end).
func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}

// Stop ends the track; idempotent.
func (t *Track) Stop() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	fn := t.onEnded
	close(t.samples)
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Stream is a bundle of tracks captured together. Remote streams grow
// track by track as negotiation delivers them.
type Stream struct {
	id string

	mu     sync.Mutex
	tracks []*Track
}

func NewStream(tracks ...*Track) *Stream {
	return &Stream{id: uuid.Must(uuid.NewV4()).String(), tracks: tracks}
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks() []*Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *Stream) AddTrack(t *Track) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

func (s *Stream) Track(kind Kind) *Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tracks {
		if t.kind == kind {
			return t
		}
	}
	return nil
}

func (s *Stream) VideoTrack() *Track { return s.Track(Video) }
func (s *Stream) AudioTrack() *Track { return s.Track(Audio) }

// Stop ends every track of the stream.
func (s *Stream) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

type (
	VideoConstraints struct {
		Width     int
		Height    int
		FrameRate int
	}
	AudioConstraints struct {
		SampleRate       int
		Channels         int
		EchoCancellation bool
		NoiseSuppression bool
	}
	Constraints struct {
		Video VideoConstraints
		Audio AudioConstraints
	}
)

// Capturer acquires capture streams. Implementations may block on user
// prompts, so both calls take a context.
type Capturer interface {
	// CaptureUserMedia opens camera and microphone tracks.
	CaptureUserMedia(ctx context.Context, c Constraints) (*Stream, error)
	// CaptureDisplay opens a display capture track.
	CaptureDisplay(ctx context.Context) (*Stream, error)
}
