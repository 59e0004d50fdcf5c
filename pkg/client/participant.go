package client

import "github.com/meshmeet/meshmeet/pkg/media"

// BackgroundEffect is the mutually exclusive local video effect choice.
type BackgroundEffect uint8

const (
	EffectNone BackgroundEffect = iota
	EffectBlur
	EffectImage
)

func (e BackgroundEffect) String() string {
	switch e {
	case EffectBlur:
		return "blur"
	case EffectImage:
		return "image"
	}
	return "none"
}

// Participant is one room member as the UI sees it. The entry with the
// local id always exists while the orchestrator is active; remote
// entries live exactly as long as their peer session does.
type Participant struct {
	Id            string
	Name          string
	VideoEnabled  bool
	AudioEnabled  bool
	Stream        *media.Stream
	Screen        *media.Stream
	ActiveSpeaker bool
	HandRaised    bool
	Effect        BackgroundEffect
	EffectImage   string
	Failed        bool
}
