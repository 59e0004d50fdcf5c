package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/meshmeet/meshmeet/pkg/api"
	"github.com/meshmeet/meshmeet/pkg/config"
	"github.com/meshmeet/meshmeet/pkg/media"
)

type sentSignal struct {
	to, from string
	payload  []byte
}

type sentState struct {
	room, id string
	t        api.MediaType
	enabled  bool
}

type fakeSignaler struct {
	mu          sync.Mutex
	members     []string
	joinErr     error
	joins       []string
	signals     []sentSignal
	states      []sentState
	disconnects int
}

func (s *fakeSignaler) JoinRoom(roomId, _ string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joinErr != nil {
		return nil, s.joinErr
	}
	s.joins = append(s.joins, roomId)
	return s.members, nil
}

func (s *fakeSignaler) SendSignal(to, from string, signal []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, sentSignal{to: to, from: from, payload: signal})
	return nil
}

func (s *fakeSignaler) SendMediaState(room, id string, t api.MediaType, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, sentState{room: room, id: id, t: t, enabled: enabled})
	return nil
}

func (s *fakeSignaler) Disconnect() { s.mu.Lock(); s.disconnects++; s.mu.Unlock() }

func (s *fakeSignaler) joinCount() int  { s.mu.Lock(); defer s.mu.Unlock(); return len(s.joins) }
func (s *fakeSignaler) stateCount() int { s.mu.Lock(); defer s.mu.Unlock(); return len(s.states) }

func (s *fakeSignaler) lastState() sentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[len(s.states)-1]
}

type fakeCapturer struct {
	mu         sync.Mutex
	calls      []media.Constraints
	err        error
	errOnce    bool
	displayErr error
}

func (c *fakeCapturer) CaptureUserMedia(_ context.Context, cs media.Constraints) (*media.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, cs)
	if c.err != nil {
		err := c.err
		if c.errOnce {
			c.err = nil
		}
		return nil, err
	}
	return media.NewStream(media.NewTrack(media.Video), media.NewTrack(media.Audio)), nil
}

func (c *fakeCapturer) CaptureDisplay(context.Context) (*media.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.displayErr != nil {
		return nil, c.displayErr
	}
	return media.NewStream(media.NewTrack(media.Video)), nil
}

func (c *fakeCapturer) callCount() int { c.mu.Lock(); defer c.mu.Unlock(); return len(c.calls) }

func testClientConf() config.Client {
	c := config.Client{Name: "tester"}
	c.Media.Video.Width, c.Media.Video.Height, c.Media.Video.FrameRate = 1920, 1080, 60
	c.Media.VideoFallback.Width, c.Media.VideoFallback.Height, c.Media.VideoFallback.FrameRate = 1280, 720, 30
	c.Media.Audio.SampleRate, c.Media.Audio.Channels = 48000, 2
	return c
}

func newOrch() (*Orchestrator, *fakeFactory, *fakeSignaler, *fakeCapturer) {
	factory := &fakeFactory{}
	signaler := &fakeSignaler{}
	capturer := &fakeCapturer{}
	o := New(testClientConf(), capturer, factory, signaler, testLog())
	return o, factory, signaler, capturer
}

func joined(t *testing.T, o *Orchestrator) {
	t.Helper()
	if err := o.Join(context.Background(), "standup"); err != nil {
		t.Fatalf("join: %v", err)
	}
}

func (o *Orchestrator) sessionCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

func (o *Orchestrator) pendingRetry(target string) *time.Timer {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.retries[target]
}

func TestJoinRegistersLocalParticipantFirst(t *testing.T) {
	o, _, signaler, _ := newOrch()
	joined(t, o)

	v := o.View()
	if v.IsConnecting || v.ConnectionError != nil {
		t.Fatalf("view = %+v after a clean join", v)
	}
	if len(v.Participants) != 1 || v.Participants[0].Id != o.LocalId() {
		t.Fatalf("participants = %+v, want the local entry only", v.Participants)
	}
	if p := v.Participants[0]; !p.VideoEnabled || !p.AudioEnabled || p.Stream == nil {
		t.Fatalf("local entry = %+v, want live media flags", p)
	}
	if signaler.joinCount() != 1 {
		t.Fatalf("relay joins = %d, want 1", signaler.joinCount())
	}
}

func TestJoinFallsBackOnConstraints(t *testing.T) {
	o, _, _, capturer := newOrch()
	capturer.err = media.NewAcquisitionError(media.Overconstrained)
	capturer.errOnce = true
	joined(t, o)

	if capturer.callCount() != 2 {
		t.Fatalf("capture calls = %d, want primary + fallback", capturer.callCount())
	}
	second := capturer.calls[1].Video
	if second.Width != 1280 || second.Height != 720 || second.FrameRate != 30 {
		t.Fatalf("fallback constraints = %+v", second)
	}
}

func TestJoinPermissionDeniedSkipsRelay(t *testing.T) {
	o, _, signaler, capturer := newOrch()
	capturer.err = media.NewAcquisitionError(media.PermissionDenied)

	err := o.Join(context.Background(), "standup")
	if !media.IsPermissionDenied(err) {
		t.Fatalf("join error = %v", err)
	}
	if signaler.joinCount() != 0 {
		t.Fatal("relay join attempted without capture")
	}
	if v := o.View(); v.ConnectionError == nil || v.IsConnecting {
		t.Fatalf("view = %+v, want a surfaced error", v)
	}
}

func TestParticipantJoinedCreatesOneInitiatorSession(t *testing.T) {
	o, factory, _, _ := newOrch()
	joined(t, o)

	o.OnParticipantJoined("bob", nil)
	o.OnParticipantJoined("bob", nil)
	o.OnParticipantJoined(o.LocalId(), nil)

	if factory.made() != 1 {
		t.Fatalf("links made = %d, want 1", factory.made())
	}
	if !factory.last().initiator {
		t.Fatal("session toward the newcomer is not the initiator")
	}
	if o.sessionCount() != 1 {
		t.Fatalf("sessions = %d, want 1", o.sessionCount())
	}
}

func TestSignalCreatesResponderOnRace(t *testing.T) {
	o, factory, signaler, _ := newOrch()
	joined(t, o)

	payload := []byte(`{"type":"offer","sdp":"x"}`)
	o.OnSignal("carol", payload)

	if factory.made() != 1 || factory.last().initiator {
		t.Fatalf("made = %d initiator = %v, want one responder", factory.made(), factory.last().initiator)
	}
	link := factory.last()
	link.mu.Lock()
	fed := len(link.fed)
	link.mu.Unlock()
	if fed != 1 {
		t.Fatalf("payload was not delivered, fed = %d", fed)
	}

	// outbound signals from the link go back through the relay
	link.fireSignal([]byte(`{"type":"answer","sdp":"y"}`))
	signaler.mu.Lock()
	defer signaler.mu.Unlock()
	if len(signaler.signals) != 1 {
		t.Fatalf("relayed signals = %d, want 1", len(signaler.signals))
	}
	if out := signaler.signals[0]; out.to != "carol" || out.from != o.LocalId() {
		t.Fatalf("signal addressing = %+v", out)
	}
}

func TestParticipantLeftTearsSessionDown(t *testing.T) {
	o, factory, _, _ := newOrch()
	joined(t, o)
	o.OnParticipantJoined("bob", nil)

	o.OnParticipantLeft("bob", "transport close")
	if factory.last().closedCount() != 1 {
		t.Fatal("link survived participant-left")
	}
	if v := o.View(); len(v.Participants) != 1 {
		t.Fatalf("participants = %+v, want local only", v.Participants)
	}
	// a second left for the same id is a no-op
	o.OnParticipantLeft("bob", "transport close")
}

func TestMediaStateUpdateFlipsKnownFlagsOnly(t *testing.T) {
	o, _, _, _ := newOrch()
	joined(t, o)
	o.OnParticipantJoined("bob", nil)

	o.OnMediaStateUpdated("bob", api.MediaAudio, true)
	o.OnMediaStateUpdated("ghost", api.MediaVideo, true)

	for _, p := range o.View().Participants {
		if p.Id == "bob" && !p.AudioEnabled {
			t.Fatal("bob's audio flag was not updated")
		}
		if p.Id == "ghost" {
			t.Fatal("unknown participant materialized from a media event")
		}
	}
}

func TestToggleFlipsFlagAndEmitsOneEvent(t *testing.T) {
	o, factory, signaler, _ := newOrch()
	joined(t, o)
	o.OnParticipantJoined("bob", nil)
	link := factory.last()
	before := link.addedCount()

	if enabled := o.ToggleVideo(); enabled {
		t.Fatal("first toggle should disable the initially enabled track")
	}
	if signaler.stateCount() != 1 {
		t.Fatalf("media-state events = %d, want exactly 1", signaler.stateCount())
	}
	if st := signaler.lastState(); st.t != api.MediaVideo || st.enabled || st.room != "standup" {
		t.Fatalf("media-state = %+v", st)
	}
	if link.addedCount() != before {
		t.Fatal("toggle renegotiated a session")
	}

	o.ToggleAudio()
	if signaler.stateCount() != 2 {
		t.Fatalf("media-state events = %d, want 2", signaler.stateCount())
	}
	for _, p := range o.View().Participants {
		if p.Id == o.LocalId() && (p.VideoEnabled || p.AudioEnabled) {
			t.Fatalf("local flags = %+v, want both off", p)
		}
	}
}

func TestShareScreenAttachesAndDetachesEverywhere(t *testing.T) {
	o, factory, _, _ := newOrch()
	joined(t, o)
	o.OnParticipantJoined("bob", nil)
	o.OnParticipantJoined("carol", nil)

	if !o.ShareScreen(context.Background()) {
		t.Fatal("share refused")
	}
	if o.ShareScreen(context.Background()) {
		t.Fatal("second share accepted while one is running")
	}
	factory.mu.Lock()
	links := append([]*fakeLink(nil), factory.links...)
	factory.mu.Unlock()
	for _, l := range links {
		if l.addedCount() != 3 {
			t.Fatalf("link tracks = %d, want camera+mic+screen", l.addedCount())
		}
	}

	o.StopShare()
	for _, l := range links {
		l.mu.Lock()
		removed := len(l.removed)
		l.mu.Unlock()
		if removed != 1 {
			t.Fatalf("detached tracks = %d, want 1", removed)
		}
	}
	for _, p := range o.View().Participants {
		if p.Id == o.LocalId() && p.Screen != nil {
			t.Fatal("local screen handle not cleared")
		}
	}
}

func TestShareScreenRefusalReturnsFalse(t *testing.T) {
	o, _, _, capturer := newOrch()
	joined(t, o)
	capturer.displayErr = media.NewAcquisitionError(media.PermissionDenied)
	if o.ShareScreen(context.Background()) {
		t.Fatal("share reported success on a denied prompt")
	}
}

func TestShareScreenReachesLateSessions(t *testing.T) {
	o, factory, _, _ := newOrch()
	joined(t, o)
	if !o.ShareScreen(context.Background()) {
		t.Fatal("share refused")
	}
	o.OnParticipantJoined("bob", nil)
	if got := factory.last().addedCount(); got != 3 {
		t.Fatalf("late session tracks = %d, want camera+mic+screen", got)
	}
}

func TestBackoffSchedule(t *testing.T) {
	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second,
		8 * time.Second, 10 * time.Second, 10 * time.Second,
	}
	for i, d := range want {
		if got := backoffFor(i + 1); got != d {
			t.Fatalf("backoffFor(%d) = %v, want %v", i+1, got, d)
		}
	}
}

func TestReconnectStopsAtCeiling(t *testing.T) {
	o, factory, _, _ := newOrch()
	joined(t, o)
	o.OnParticipantJoined("bob", nil)

	boom := errors.New("ice failed")
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		factory.last().fireError(boom)
		if o.sessionCount() != 0 {
			t.Fatalf("attempt %d: failed session still in the directory", attempt)
		}
		tmr := o.pendingRetry("bob")
		if tmr == nil {
			t.Fatalf("attempt %d: no retry scheduled", attempt)
		}
		tmr.Stop()
		o.redial("bob")
		if factory.made() != attempt+1 {
			t.Fatalf("attempt %d: links made = %d", attempt, factory.made())
		}
		if !factory.last().initiator {
			t.Fatalf("attempt %d: recreated session is not the initiator", attempt)
		}
	}

	// one more failure crosses the ceiling, terminal for this peer only
	factory.last().fireError(boom)
	if o.pendingRetry("bob") != nil {
		t.Fatal("retry scheduled past the ceiling")
	}
	for _, p := range o.View().Participants {
		if p.Id == "bob" && !p.Failed {
			t.Fatal("peer not flagged as failed")
		}
		if p.Id == o.LocalId() && p.Failed {
			t.Fatal("local participant affected by a peer failure")
		}
	}
}

func TestParticipantLeftCancelsPendingRetry(t *testing.T) {
	o, factory, _, _ := newOrch()
	joined(t, o)
	o.OnParticipantJoined("bob", nil)
	factory.last().fireError(errors.New("ice failed"))
	if o.pendingRetry("bob") == nil {
		t.Fatal("no retry scheduled")
	}

	o.OnParticipantLeft("bob", "transport close")
	if o.pendingRetry("bob") != nil {
		t.Fatal("retry survived participant-left")
	}
	o.redial("bob")
	if factory.made() != 1 {
		t.Fatal("session resurrected for a departed peer")
	}
}

func TestCloseRunsExactlyOnce(t *testing.T) {
	o, factory, signaler, _ := newOrch()
	joined(t, o)
	o.OnParticipantJoined("bob", nil)
	factory.last().fireError(errors.New("ice failed"))

	o.Close()
	o.Close()

	if signaler.disconnects != 1 {
		t.Fatalf("disconnects = %d, want 1", signaler.disconnects)
	}
	if o.pendingRetry("bob") != nil {
		t.Fatal("retry timer survived teardown")
	}
	o.OnParticipantJoined("carol", nil)
	if factory.made() != 2 {
		t.Fatal("session created after teardown")
	}
	if err := o.Join(context.Background(), "other"); err == nil {
		t.Fatal("join accepted after teardown")
	}
}

func TestLocalOnlyIntents(t *testing.T) {
	o, _, signaler, _ := newOrch()
	joined(t, o)

	if err := o.SetBackgroundEffect(EffectImage, ""); err == nil {
		t.Fatal("image effect accepted without an image")
	}
	if err := o.SetBackgroundEffect(EffectBlur, ""); err != nil {
		t.Fatal(err)
	}
	o.RaiseHand(true)
	o.SetNoiseReduction(false)
	o.MarkActiveSpeaker(o.LocalId())

	for _, p := range o.View().Participants {
		if p.Id != o.LocalId() {
			continue
		}
		if p.Effect != EffectBlur || !p.HandRaised || !p.ActiveSpeaker {
			t.Fatalf("local entry = %+v", p)
		}
	}
	// none of these are wire events
	if signaler.stateCount() != 0 {
		t.Fatalf("media-state events = %d, want 0", signaler.stateCount())
	}
}
