package client

import (
	"errors"
	"sync"
	"testing"

	"github.com/meshmeet/meshmeet/pkg/logger"
	"github.com/meshmeet/meshmeet/pkg/media"
)

type fakeLink struct {
	mu        sync.Mutex
	initiator bool
	fed       [][]byte
	added     []*media.Track
	removed   []string
	closed    int
	failAdd   error

	onSignal func([]byte)
	onStream func(*media.Stream)
	onError  func(error)
	onClose  func()
}

func (l *fakeLink) Signal(p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fed = append(l.fed, p)
	return nil
}

func (l *fakeLink) AddTrack(t *media.Track) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failAdd != nil {
		return l.failAdd
	}
	l.added = append(l.added, t)
	return nil
}

func (l *fakeLink) RemoveTrack(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removed = append(l.removed, id)
	return nil
}

func (l *fakeLink) OnSignal(fn func([]byte))        { l.mu.Lock(); l.onSignal = fn; l.mu.Unlock() }
func (l *fakeLink) OnStream(fn func(*media.Stream)) { l.mu.Lock(); l.onStream = fn; l.mu.Unlock() }
func (l *fakeLink) OnError(fn func(error))          { l.mu.Lock(); l.onError = fn; l.mu.Unlock() }
func (l *fakeLink) OnClose(fn func())               { l.mu.Lock(); l.onClose = fn; l.mu.Unlock() }
func (l *fakeLink) Close()                          { l.mu.Lock(); l.closed++; l.mu.Unlock() }

func (l *fakeLink) fireStream(s *media.Stream) { l.mu.Lock(); fn := l.onStream; l.mu.Unlock(); fn(s) }
func (l *fakeLink) fireError(err error)        { l.mu.Lock(); fn := l.onError; l.mu.Unlock(); fn(err) }
func (l *fakeLink) fireSignal(p []byte)        { l.mu.Lock(); fn := l.onSignal; l.mu.Unlock(); fn(p) }

func (l *fakeLink) addedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.added)
}

func (l *fakeLink) closedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

type fakeFactory struct {
	mu    sync.Mutex
	links []*fakeLink
	fail  error
}

func (f *fakeFactory) NewLink(initiator bool) (PeerLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	l := &fakeLink{initiator: initiator}
	f.links = append(f.links, l)
	return l, nil
}

func (f *fakeFactory) made() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.links)
}

func (f *fakeFactory) last() *fakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.links) == 0 {
		return nil
	}
	return f.links[len(f.links)-1]
}

func testLog() *logger.Logger { return logger.Default() }

func localStream() *media.Stream {
	return media.NewStream(media.NewTrack(media.Video), media.NewTrack(media.Audio))
}

func newSession(t *testing.T, role Role, cb SessionCallbacks) (*PeerSession, *fakeFactory) {
	t.Helper()
	f := &fakeFactory{}
	s, err := NewPeerSession("bob", role, f, localStream(), cb, testLog())
	if err != nil {
		t.Fatalf("session create: %v", err)
	}
	return s, f
}

func TestSessionRoleFixesInitialState(t *testing.T) {
	s, _ := newSession(t, Initiator, SessionCallbacks{})
	if s.State() != Negotiating {
		t.Fatalf("initiator state = %v, want negotiating", s.State())
	}
	s, _ = newSession(t, Responder, SessionCallbacks{})
	if s.State() != Created {
		t.Fatalf("responder state = %v, want created", s.State())
	}
	if err := s.Signal([]byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	if s.State() != Negotiating {
		t.Fatalf("responder state after signal = %v, want negotiating", s.State())
	}
}

func TestSessionAttachesLocalTracks(t *testing.T) {
	_, f := newSession(t, Initiator, SessionCallbacks{})
	if got := f.last().addedCount(); got != 2 {
		t.Fatalf("attached tracks = %d, want 2", got)
	}
}

func TestSessionConnectsOnRemoteStream(t *testing.T) {
	var gotTarget string
	var gotStream *media.Stream
	s, f := newSession(t, Initiator, SessionCallbacks{
		OnStream: func(target string, stream *media.Stream) { gotTarget, gotStream = target, stream },
	})
	remote := media.NewStream(media.NewTrack(media.Video))
	f.last().fireStream(remote)

	if s.State() != Connected {
		t.Fatalf("state = %v, want connected", s.State())
	}
	if gotTarget != "bob" || gotStream != remote || s.Stream() != remote {
		t.Fatal("remote stream was not published")
	}
}

func TestSessionRenegotiatesInPlace(t *testing.T) {
	s, f := newSession(t, Initiator, SessionCallbacks{})
	f.last().fireStream(media.NewStream())

	extra := media.NewTrack(media.Video)
	if err := s.AddTrack(extra); err != nil {
		t.Fatal(err)
	}
	if s.State() != Negotiating {
		t.Fatalf("state after track add = %v, want negotiating", s.State())
	}
	if f.made() != 1 {
		t.Fatalf("renegotiation created a new link, made = %d", f.made())
	}

	f.last().fireStream(media.NewStream())
	if err := s.RemoveTrack(extra.ID()); err != nil {
		t.Fatal(err)
	}
	if s.State() != Negotiating {
		t.Fatalf("state after track remove = %v, want negotiating", s.State())
	}
}

func TestSessionReportsErrorsUpward(t *testing.T) {
	var got error
	s, f := newSession(t, Initiator, SessionCallbacks{
		OnError: func(_ string, err error) { got = err },
	})
	boom := errors.New("ice failed")
	f.last().fireError(boom)

	if !s.Erroring() || got != boom {
		t.Fatalf("erroring = %v, err = %v", s.Erroring(), got)
	}
	// the session itself never self-destructs, recovery is the owner's call
	if s.State() == Closed {
		t.Fatal("session closed itself on error")
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	calls := 0
	s, f := newSession(t, Responder, SessionCallbacks{
		OnStream: func(string, *media.Stream) { calls++ },
	})
	s.Close()
	s.Close()
	if got := f.last().closedCount(); got != 1 {
		t.Fatalf("link closed %d times, want 1", got)
	}
	if err := s.Signal([]byte(`{}`)); err == nil {
		t.Fatal("signal accepted after close")
	}
	f.last().fireStream(media.NewStream())
	if calls != 0 {
		t.Fatal("stream callback fired after close")
	}
}
