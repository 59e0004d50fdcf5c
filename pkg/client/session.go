package client

import (
	"sync"

	"github.com/meshmeet/meshmeet/pkg/logger"
	"github.com/meshmeet/meshmeet/pkg/media"
)

type Role uint8

const (
	Initiator Role = iota
	Responder
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

type SessionState uint8

const (
	Created SessionState = iota
	Negotiating
	Connected
	Closed
)

func (s SessionState) String() string {
	switch s {
	case Created:
		return "created"
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	}
	return "closed"
}

// PeerSession owns one negotiation link to one remote participant.
// The role is fixed at creation. Track changes renegotiate on the
// existing link, they never replace the session. Recovery policy
// (backoff, attempt ceiling) lives with the owner, the session only
// reports errors upward.
type PeerSession struct {
	target string
	role   Role
	link   PeerLink
	log    *logger.Logger

	mu       sync.Mutex
	state    SessionState
	erroring bool
	stream   *media.Stream

	onSignal func(target string, payload []byte)
	onStream func(target string, s *media.Stream)
	onError  func(target string, err error)
}

type SessionCallbacks struct {
	OnSignal func(target string, payload []byte)
	OnStream func(target string, s *media.Stream)
	OnError  func(target string, err error)
}

// NewPeerSession creates a session over a fresh link and attaches the
// local capture tracks. The initiator starts emitting offers right
// away, the responder sits in Created until the first inbound payload.
func NewPeerSession(target string, role Role, links LinkFactory, local *media.Stream,
	cb SessionCallbacks, log *logger.Logger) (*PeerSession, error) {
	link, err := links.NewLink(role == Initiator)
	if err != nil {
		return nil, err
	}
	s := &PeerSession{
		target:   target,
		role:     role,
		link:     link,
		log:      log.Extend(log.With().Str("peer", target).Str("role", role.String())),
		onSignal: cb.OnSignal,
		onStream: cb.OnStream,
		onError:  cb.OnError,
	}
	if role == Initiator {
		s.state = Negotiating
	}
	link.OnSignal(s.emitSignal)
	link.OnStream(s.handleStream)
	link.OnError(s.handleError)
	link.OnClose(func() { s.handleError(errLinkClosed) })

	if local != nil {
		for _, t := range local.Tracks() {
			if err = link.AddTrack(t); err != nil {
				link.Close()
				return nil, err
			}
		}
	}
	s.log.Debug().Msg("session created")
	return s, nil
}

func (s *PeerSession) Target() string { return s.target }
func (s *PeerSession) Role() Role     { return s.role }

func (s *PeerSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *PeerSession) Erroring() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.erroring
}

func (s *PeerSession) Stream() *media.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// Signal feeds one inbound payload into the link. Valid while
// negotiating and while connected (renegotiation).
func (s *PeerSession) Signal(payload []byte) error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	if s.state == Created {
		s.state = Negotiating
	}
	s.mu.Unlock()
	return s.link.Signal(payload)
}

// AddTrack renegotiates an extra local track onto the live link.
func (s *PeerSession) AddTrack(t *media.Track) error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	if s.state == Connected {
		s.state = Negotiating
	}
	s.mu.Unlock()
	return s.link.AddTrack(t)
}

// RemoveTrack renegotiates a local track off the live link.
func (s *PeerSession) RemoveTrack(trackId string) error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	if s.state == Connected {
		s.state = Negotiating
	}
	s.mu.Unlock()
	return s.link.RemoveTrack(trackId)
}

func (s *PeerSession) emitSignal(payload []byte) {
	s.mu.Lock()
	closed := s.state == Closed
	fn := s.onSignal
	s.mu.Unlock()
	if !closed && fn != nil {
		fn(s.target, payload)
	}
}

func (s *PeerSession) handleStream(stream *media.Stream) {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.state = Connected
	s.erroring = false
	s.stream = stream
	fn := s.onStream
	s.mu.Unlock()
	s.log.Debug().Msg("remote stream")
	if fn != nil {
		fn(s.target, stream)
	}
}

func (s *PeerSession) handleError(err error) {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.erroring = true
	fn := s.onError
	s.mu.Unlock()
	s.log.Debug().Err(err).Msg("session error")
	if fn != nil {
		fn(s.target, err)
	}
}

// Close releases the link; idempotent and reachable from every state.
func (s *PeerSession) Close() {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.state = Closed
	s.mu.Unlock()
	s.link.Close()
	s.log.Debug().Msg("session closed")
}
