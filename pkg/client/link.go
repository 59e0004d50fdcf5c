package client

import "github.com/meshmeet/meshmeet/pkg/media"

// PeerLink is the negotiation-library boundary. The link consumes and
// emits opaque signal payloads, everything else about SDP/ICE stays on
// its side of the fence. Callbacks fire on the library's own schedule
// and are never assumed synchronous.
type PeerLink interface {
	Signal(payload []byte) error
	AddTrack(t *media.Track) error
	RemoveTrack(trackId string) error
	OnSignal(fn func(payload []byte))
	OnStream(fn func(s *media.Stream))
	OnError(fn func(err error))
	OnClose(fn func())
	Close()
}

// LinkFactory creates one link per peer session.
type LinkFactory interface {
	NewLink(initiator bool) (PeerLink, error)
}

// LinkFactoryFunc adapts a function to the LinkFactory interface.
type LinkFactoryFunc func(initiator bool) (PeerLink, error)

func (f LinkFactoryFunc) NewLink(initiator bool) (PeerLink, error) { return f(initiator) }
