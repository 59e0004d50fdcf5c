package media

import (
	"context"
	"time"
)

// Synthetic is a capturer with generated sources, used by the headless
// client and by tests. Zero limits accept any constraints.
type Synthetic struct {
	MaxWidth    int
	MaxHeight   int
	DenyCapture bool
	DenyDisplay bool
}

func (s *Synthetic) CaptureUserMedia(_ context.Context, c Constraints) (*Stream, error) {
	if s.DenyCapture {
		return nil, NewAcquisitionError(PermissionDenied)
	}
	if (s.MaxWidth > 0 && c.Video.Width > s.MaxWidth) ||
		(s.MaxHeight > 0 && c.Video.Height > s.MaxHeight) {
		return nil, NewAcquisitionError(Overconstrained)
	}
	video := NewTrack(Video)
	audio := NewTrack(Audio)
	audio.ApplyAudioConstraints(c.Audio)
	fps := c.Video.FrameRate
	if fps <= 0 {
		fps = 30
	}
	go generate(video, time.Second/time.Duration(fps))
	go generate(audio, 20*time.Millisecond)
	return NewStream(video, audio), nil
}

func (s *Synthetic) CaptureDisplay(_ context.Context) (*Stream, error) {
	if s.DenyDisplay {
		return nil, NewAcquisitionError(PermissionDenied)
	}
	video := NewTrack(Video)
	go generate(video, time.Second/30)
	return NewStream(video), nil
}

// generate feeds empty samples at the source pace until the track ends.
func generate(t *Track, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if t.Ended() {
			return
		}
		t.Write(Sample{Data: []byte{0}, Duration: interval})
	}
}
