package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/meshmeet/meshmeet/pkg/api"
	"github.com/meshmeet/meshmeet/pkg/config"
	"github.com/meshmeet/meshmeet/pkg/logger"
	"github.com/meshmeet/meshmeet/pkg/media"
)

const maxReconnectAttempts = 5

// backoffFor returns the delay before reconnect attempt n (1-based),
// doubling from one second up to a ten second cap.
func backoffFor(attempt int) time.Duration {
	d := time.Second << (attempt - 1)
	if d > 10*time.Second {
		d = 10 * time.Second
	}
	return d
}

// Orchestrator owns the peer session mesh for one room: it turns relay
// events into session lifecycle and applies local media intents to the
// capture tracks and every live session. All state mutation is
// serialized behind one mutex, relay events, UI intents, and
// negotiation callbacks act as a single logical actor.
type Orchestrator struct {
	conf     config.Client
	capturer media.Capturer
	links    LinkFactory
	relay    Signaler
	log      *logger.Logger
	localId  string

	mu           sync.Mutex
	room         string
	local        *media.Stream
	screen       *media.Stream
	participants map[string]*Participant
	sessions     map[string]*PeerSession
	attempts     map[string]int
	retries      map[string]*time.Timer
	connErr      error
	connecting   bool
	closed       bool

	closeOnce sync.Once
}

// View is a read-only snapshot for the UI boundary.
type View struct {
	Participants    []Participant
	LocalId         string
	ConnectionError error
	IsConnecting    bool
}

func New(conf config.Client, capturer media.Capturer, links LinkFactory, relay Signaler, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		conf:         conf,
		capturer:     capturer,
		links:        links,
		relay:        relay,
		log:          log.Extend(log.With().Str("m", "orc")),
		localId:      uuid.Must(uuid.NewV4()).String(),
		participants: make(map[string]*Participant),
		sessions:     make(map[string]*PeerSession),
		attempts:     make(map[string]int),
		retries:      make(map[string]*time.Timer),
	}
}

func (o *Orchestrator) LocalId() string { return o.localId }

// Join acquires the local capture stream and joins the room through
// the relay. Constraint rejection gets one retry with the fallback
// quality; permission and device errors surface immediately without a
// relay join. Joining a new room first tears the current mesh down.
func (o *Orchestrator) Join(ctx context.Context, roomId string) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return errOrchClosed
	}
	if o.room != "" {
		o.leaveRoomLocked()
	}
	o.connecting = true
	o.connErr = nil
	haveStream := o.local != nil
	o.mu.Unlock()

	if !haveStream {
		stream, err := o.capture(ctx)
		if err != nil {
			o.settle(err)
			return err
		}
		o.mu.Lock()
		o.local = stream
		o.mu.Unlock()
	}

	o.mu.Lock()
	o.room = roomId
	video, audio := o.local.VideoTrack(), o.local.AudioTrack()
	o.participants[o.localId] = &Participant{
		Id:           o.localId,
		Name:         o.conf.Name,
		VideoEnabled: video != nil && video.Enabled(),
		AudioEnabled: audio != nil && audio.Enabled(),
		Stream:       o.local,
	}
	o.mu.Unlock()

	members, err := o.relay.JoinRoom(roomId, o.localId)
	if err != nil {
		err = fmt.Errorf("%w: %v", errJoinFailed, err)
		o.settle(err)
		return err
	}
	// existing members will initiate toward us, nothing to do with
	// the list beyond logging
	o.log.Info().Str("room", roomId).Int("members", len(members)).Msg("Joined")
	o.settle(nil)
	return nil
}

// capture tries the primary quality target and falls back once when
// the constraints are unsatisfiable.
func (o *Orchestrator) capture(ctx context.Context) (*media.Stream, error) {
	m := o.conf.Media
	primary := media.Constraints{
		Video: media.VideoConstraints{Width: m.Video.Width, Height: m.Video.Height, FrameRate: m.Video.FrameRate},
		Audio: media.AudioConstraints{
			SampleRate:       m.Audio.SampleRate,
			Channels:         m.Audio.Channels,
			EchoCancellation: m.Audio.EchoCancellation,
			NoiseSuppression: m.Audio.NoiseSuppression,
		},
	}
	stream, err := o.capturer.CaptureUserMedia(ctx, primary)
	if err == nil {
		return stream, nil
	}
	if !media.IsOverconstrained(err) {
		return nil, err
	}
	fallback := primary
	fallback.Video = media.VideoConstraints{
		Width:     m.VideoFallback.Width,
		Height:    m.VideoFallback.Height,
		FrameRate: m.VideoFallback.FrameRate,
	}
	o.log.Warn().Msgf("capture fallback to %dx%d@%d", fallback.Video.Width, fallback.Video.Height, fallback.Video.FrameRate)
	return o.capturer.CaptureUserMedia(ctx, fallback)
}

func (o *Orchestrator) settle(err error) {
	o.mu.Lock()
	o.connecting = false
	o.connErr = err
	o.mu.Unlock()
}

// OnParticipantJoined creates an initiator session toward the
// newcomer; the local id and known targets are no-ops.
func (o *Orchestrator) OnParticipantJoined(participantId string, _ []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || participantId == o.localId {
		return
	}
	if _, ok := o.sessions[participantId]; ok {
		return
	}
	// a fresh appearance of the target starts with a clean slate
	delete(o.attempts, participantId)
	if err := o.spawnSessionLocked(participantId, Initiator); err != nil {
		o.log.Error().Err(err).Str("peer", participantId).Msg("session create fail")
	}
}

// OnParticipantLeft drops the session, its pending reconnect, and the
// participant entry; a no-op for unknown ids.
func (o *Orchestrator) OnParticipantLeft(participantId string, reason string) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.cancelRetryLocked(participantId)
	delete(o.attempts, participantId)
	sess := o.sessions[participantId]
	delete(o.sessions, participantId)
	delete(o.participants, participantId)
	o.mu.Unlock()
	if sess != nil {
		sess.Close()
		o.log.Info().Str("peer", participantId).Str("reason", reason).Msg("Peer left")
	}
}

// OnSignal routes the payload to the target's session, creating a
// responder session first when the remote's offer raced ahead of the
// join notification.
func (o *Orchestrator) OnSignal(from string, signal []byte) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	sess, ok := o.sessions[from]
	if !ok {
		if err := o.spawnSessionLocked(from, Responder); err != nil {
			o.mu.Unlock()
			o.log.Error().Err(err).Str("peer", from).Msg("session create fail")
			return
		}
		sess = o.sessions[from]
	}
	o.mu.Unlock()
	if err := sess.Signal(signal); err != nil {
		o.log.Warn().Err(err).Str("peer", from).Msg("signal fail")
	}
}

// OnMediaStateUpdated flips the matching flag; unknown participants
// are late or duplicate events and ignored.
func (o *Orchestrator) OnMediaStateUpdated(participantId string, mediaType api.MediaType, enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.participants[participantId]
	if !ok {
		return
	}
	switch mediaType {
	case api.MediaVideo:
		p.VideoEnabled = enabled
	case api.MediaAudio:
		p.AudioEnabled = enabled
	}
}

// OnRelayError surfaces a relay-side error as the banner-level
// connection error; the mesh stays up.
func (o *Orchestrator) OnRelayError(err error) {
	o.mu.Lock()
	o.connErr = err
	o.mu.Unlock()
	o.log.Error().Err(err).Msg("relay error")
}

// spawnSessionLocked creates a session and its placeholder entry under
// the held lock, preserving at most one session per target.
func (o *Orchestrator) spawnSessionLocked(target string, role Role) error {
	cb := SessionCallbacks{
		OnSignal: o.sendSignal,
		OnStream: o.handleStream,
		OnError:  o.handleSessionError,
	}
	sess, err := NewPeerSession(target, role, o.links, o.local, cb, o.log)
	if err != nil {
		return err
	}
	o.sessions[target] = sess
	if _, ok := o.participants[target]; !ok {
		o.participants[target] = &Participant{Id: target}
	}
	// a live screen share reaches late-created sessions too
	if o.screen != nil {
		for _, t := range o.screen.Tracks() {
			if err := sess.AddTrack(t); err != nil {
				o.log.Warn().Err(err).Str("peer", target).Msg("share attach fail")
			}
		}
	}
	return nil
}

func (o *Orchestrator) sendSignal(target string, payload []byte) {
	if err := o.relay.SendSignal(target, o.localId, payload); err != nil {
		o.log.Warn().Err(err).Str("peer", target).Msg("signal send fail")
	}
}

func (o *Orchestrator) handleStream(target string, stream *media.Stream) {
	o.mu.Lock()
	if p, ok := o.participants[target]; ok {
		p.Stream = stream
	}
	o.mu.Unlock()
}

// handleSessionError destroys the failed session and schedules a fresh
// initiator one after backoff, up to the attempt ceiling; past the
// ceiling the failure is terminal for that peer only.
func (o *Orchestrator) handleSessionError(target string, err error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	sess, ok := o.sessions[target]
	if !ok {
		o.mu.Unlock()
		return
	}
	delete(o.sessions, target)
	terminal, delay := o.scheduleRetryLocked(target)
	o.mu.Unlock()

	sess.Close()
	if terminal {
		o.log.Error().Err(err).Str("peer", target).Msg("peer connection failed for good")
	} else {
		o.log.Warn().Err(err).Str("peer", target).Msgf("reconnect in %v", delay)
	}
}

// scheduleRetryLocked consumes one attempt under the held lock.
func (o *Orchestrator) scheduleRetryLocked(target string) (terminal bool, delay time.Duration) {
	n := o.attempts[target] + 1
	o.attempts[target] = n
	if n > maxReconnectAttempts {
		if p, ok := o.participants[target]; ok {
			p.Failed = true
		}
		return true, 0
	}
	delay = backoffFor(n)
	o.retries[target] = time.AfterFunc(delay, func() { o.redial(target) })
	return false, delay
}

// redial recreates the session after backoff unless the target is
// already served again or gone.
func (o *Orchestrator) redial(target string) {
	o.mu.Lock()
	delete(o.retries, target)
	if o.closed {
		o.mu.Unlock()
		return
	}
	if _, ok := o.sessions[target]; ok {
		o.mu.Unlock()
		return
	}
	if _, ok := o.participants[target]; !ok {
		o.mu.Unlock()
		return
	}
	err := o.spawnSessionLocked(target, Initiator)
	var terminal bool
	var delay time.Duration
	if err != nil {
		terminal, delay = o.scheduleRetryLocked(target)
	}
	o.mu.Unlock()
	if err != nil {
		if terminal {
			o.log.Error().Err(err).Str("peer", target).Msg("peer connection failed for good")
		} else {
			o.log.Warn().Err(err).Str("peer", target).Msgf("reconnect in %v", delay)
		}
	}
}

func (o *Orchestrator) cancelRetryLocked(target string) {
	if t, ok := o.retries[target]; ok {
		t.Stop()
		delete(o.retries, target)
	}
}

// ToggleVideo flips the local video flag and broadcasts the change.
// A track-level flag flip, never a renegotiation.
func (o *Orchestrator) ToggleVideo() bool { return o.toggle(api.MediaVideo) }

// ToggleAudio flips the local audio flag and broadcasts the change.
func (o *Orchestrator) ToggleAudio() bool { return o.toggle(api.MediaAudio) }

func (o *Orchestrator) toggle(mediaType api.MediaType) bool {
	o.mu.Lock()
	if o.closed || o.local == nil {
		o.mu.Unlock()
		return false
	}
	kind := media.Video
	if mediaType == api.MediaAudio {
		kind = media.Audio
	}
	track := o.local.Track(kind)
	if track == nil {
		o.mu.Unlock()
		return false
	}
	enabled := !track.Enabled()
	track.SetEnabled(enabled)
	if p, ok := o.participants[o.localId]; ok {
		if mediaType == api.MediaVideo {
			p.VideoEnabled = enabled
		} else {
			p.AudioEnabled = enabled
		}
	}
	room := o.room
	o.mu.Unlock()

	if err := o.relay.SendMediaState(room, o.localId, mediaType, enabled); err != nil {
		o.log.Warn().Err(err).Msg("media state send fail")
	}
	return enabled
}

// ShareScreen acquires a display stream and renegotiates its tracks
// onto every live session. Reports false when the capture is refused
// or a share is already running. Ending the share at the OS level
// detaches everywhere through the track's ended handler.
func (o *Orchestrator) ShareScreen(ctx context.Context) bool {
	o.mu.Lock()
	if o.closed || o.screen != nil {
		o.mu.Unlock()
		return false
	}
	o.mu.Unlock()

	display, err := o.capturer.CaptureDisplay(ctx)
	if err != nil {
		o.log.Warn().Err(err).Msg("display capture refused")
		return false
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		display.Stop()
		return false
	}
	o.screen = display
	if p, ok := o.participants[o.localId]; ok {
		p.Screen = display
	}
	sessions := o.sessionListLocked()
	o.mu.Unlock()

	for _, sess := range sessions {
		for _, t := range display.Tracks() {
			if err := sess.AddTrack(t); err != nil {
				o.log.Warn().Err(err).Str("peer", sess.Target()).Msg("share attach fail")
			}
		}
	}
	if vt := display.VideoTrack(); vt != nil {
		vt.OnEnded(o.stopScreenShare)
	}
	o.log.Info().Msg("Screen share started")
	return true
}

// StopShare ends a running screen share from the UI side.
func (o *Orchestrator) StopShare() { o.stopScreenShare() }

func (o *Orchestrator) stopScreenShare() {
	o.mu.Lock()
	display := o.screen
	if display == nil {
		o.mu.Unlock()
		return
	}
	o.screen = nil
	if p, ok := o.participants[o.localId]; ok {
		p.Screen = nil
	}
	sessions := o.sessionListLocked()
	o.mu.Unlock()

	for _, sess := range sessions {
		for _, t := range display.Tracks() {
			if err := sess.RemoveTrack(t.ID()); err != nil {
				o.log.Debug().Err(err).Str("peer", sess.Target()).Msg("share detach fail")
			}
		}
	}
	display.Stop()
	o.log.Info().Msg("Screen share stopped")
}

// SetBackgroundEffect selects the local video effect, mutually
// exclusive by construction. Local-only state, never relayed.
func (o *Orchestrator) SetBackgroundEffect(effect BackgroundEffect, image string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.participants[o.localId]
	if !ok {
		return errOrchClosed
	}
	if effect == EffectImage && image == "" {
		return fmt.Errorf("background image is not set")
	}
	p.Effect = effect
	if effect == EffectImage {
		p.EffectImage = image
	} else {
		p.EffectImage = ""
	}
	return nil
}

// SetNoiseReduction flips noise suppression on the local audio track.
func (o *Orchestrator) SetNoiseReduction(enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.local == nil {
		return
	}
	if t := o.local.AudioTrack(); t != nil {
		a := t.AudioConstraints()
		a.NoiseSuppression = enabled
		t.ApplyAudioConstraints(a)
	}
}

// RaiseHand flips the local hand flag; UI-local, never relayed.
func (o *Orchestrator) RaiseHand(raised bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if p, ok := o.participants[o.localId]; ok {
		p.HandRaised = raised
	}
}

// MarkActiveSpeaker flags the given participant as the active speaker.
func (o *Orchestrator) MarkActiveSpeaker(participantId string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, p := range o.participants {
		p.ActiveSpeaker = id == participantId
	}
}

// View snapshots the participant state for rendering.
func (o *Orchestrator) View() View {
	o.mu.Lock()
	defer o.mu.Unlock()
	v := View{
		LocalId:         o.localId,
		ConnectionError: o.connErr,
		IsConnecting:    o.connecting,
		Participants:    make([]Participant, 0, len(o.participants)),
	}
	for _, p := range o.participants {
		v.Participants = append(v.Participants, *p)
	}
	return v
}

// leaveRoomLocked cancels every reconnect and closes every session
// before a new room join is acted on. Local capture survives.
func (o *Orchestrator) leaveRoomLocked() {
	for id, t := range o.retries {
		t.Stop()
		delete(o.retries, id)
	}
	for id, sess := range o.sessions {
		sess.Close()
		delete(o.sessions, id)
		delete(o.participants, id)
		delete(o.attempts, id)
	}
	o.room = ""
}

// Close tears everything down exactly once: reconnect timers, peer
// sessions, capture streams, the relay connection.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		for id, t := range o.retries {
			t.Stop()
			delete(o.retries, id)
		}
		sessions := o.sessionListLocked()
		o.sessions = make(map[string]*PeerSession)
		o.participants = make(map[string]*Participant)
		local, screen := o.local, o.screen
		o.local, o.screen = nil, nil
		o.mu.Unlock()

		for _, sess := range sessions {
			sess.Close()
		}
		if screen != nil {
			screen.Stop()
		}
		if local != nil {
			local.Stop()
		}
		o.relay.Disconnect()
		o.log.Info().Msg("Torn down")
	})
}

func (o *Orchestrator) sessionListLocked() []*PeerSession {
	out := make([]*PeerSession, 0, len(o.sessions))
	for _, sess := range o.sessions {
		out = append(out, sess)
	}
	return out
}
