// Package webrtc wraps the pion stack behind a small negotiation surface.
// Signal payloads stay opaque JSON blobs end to end, only the two peers
// of a link ever parse them.
package webrtc

import (
	"errors"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gofrs/uuid"
	"github.com/meshmeet/meshmeet/pkg/logger"
	"github.com/meshmeet/meshmeet/pkg/media"
	"github.com/pion/webrtc/v3"
	pionMedia "github.com/pion/webrtc/v3/pkg/media"
)

var (
	errPeerClosed       = errors.New("peer is closed")
	errConnectionFailed = errors.New("peer connection failed")
	errUnknownTrack     = errors.New("unknown track")
)

// signalPayload is the wire shape of one negotiation message. Exactly
// one of the description fields or the candidate is set.
type signalPayload struct {
	Type      string                   `json:"type,omitempty"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// Peer is one negotiated link to a remote participant.
// The initiator sends offers, the responder answers; on glare the
// responder is the polite side and rolls its own offer back.
type Peer struct {
	id        string
	initiator bool
	conn      *webrtc.PeerConnection
	log       *logger.Logger

	mu          sync.Mutex
	closed      bool
	makingOffer bool
	pending     []webrtc.ICECandidateInit
	remote      *media.Stream
	senders     map[string]*webrtc.RTPSender

	onSignal func([]byte)
	onStream func(*media.Stream)
	onError  func(error)
	onClose  func()
}

func NewPeer(f *ApiFactory, initiator bool, log *logger.Logger) (*Peer, error) {
	conn, err := f.NewConnection()
	if err != nil {
		return nil, err
	}
	p := &Peer{
		id:        uuid.Must(uuid.NewV4()).String(),
		initiator: initiator,
		conn:      conn,
		log:       log.Extend(log.With().Str("m", "peer")),
		senders:   make(map[string]*webrtc.RTPSender),
	}
	p.bind()
	return p, nil
}

func (p *Peer) Id() string      { return p.id }
func (p *Peer) Initiator() bool { return p.initiator }

func (p *Peer) OnSignal(fn func([]byte)) { p.mu.Lock(); p.onSignal = fn; p.mu.Unlock() }

func (p *Peer) OnStream(fn func(*media.Stream)) { p.mu.Lock(); p.onStream = fn; p.mu.Unlock() }

func (p *Peer) OnError(fn func(error)) { p.mu.Lock(); p.onError = fn; p.mu.Unlock() }

func (p *Peer) OnClose(fn func()) { p.mu.Lock(); p.onClose = fn; p.mu.Unlock() }

func (p *Peer) bind() {
	p.conn.OnNegotiationNeeded(func() {
		if !p.initiator {
			// renegotiation is always driven from the initiator side,
			// the responder rides along on incoming offers
			return
		}
		if err := p.offer(); err != nil {
			p.log.Error().Err(err).Msg("offer fail")
			p.fail(err)
		}
	})

	p.conn.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		p.emit(signalPayload{Candidate: &init})
	})

	p.conn.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.log.Debug().Str("kind", remote.Kind().String()).Msg("remote track")
		track := media.NewTrack(kindOf(remote.Kind()))
		go p.pullRemote(remote, track)

		p.mu.Lock()
		first := p.remote == nil
		if first {
			p.remote = media.NewStream()
		}
		stream := p.remote
		fn := p.onStream
		p.mu.Unlock()

		stream.AddTrack(track)
		if first && fn != nil {
			fn(stream)
		}
	})

	p.conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Debug().Msgf("connection state: %s", state)
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
			p.fail(errConnectionFailed)
		case webrtc.PeerConnectionStateClosed:
			p.mu.Lock()
			fn := p.onClose
			p.mu.Unlock()
			if fn != nil {
				fn()
			}
		}
	})
}

// offer creates and emits a local offer, also for renegotiation.
func (p *Peer) offer() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errPeerClosed
	}
	p.makingOffer = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.makingOffer = false
		p.mu.Unlock()
	}()

	offer, err := p.conn.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err = p.conn.SetLocalDescription(offer); err != nil {
		return err
	}
	p.emit(signalPayload{Type: offer.Type.String(), SDP: offer.SDP})
	return nil
}

// Signal feeds one payload from the remote side into the connection.
func (p *Peer) Signal(payload []byte) error {
	var in signalPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errPeerClosed
	}
	p.mu.Unlock()

	if in.Candidate != nil {
		return p.addCandidate(*in.Candidate)
	}

	switch in.Type {
	case "offer":
		return p.handleOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: in.SDP})
	case "answer":
		return p.conn.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: in.SDP})
	default:
		return errors.New("unknown signal type: " + in.Type)
	}
}

func (p *Peer) handleOffer(offer webrtc.SessionDescription) error {
	p.mu.Lock()
	glare := p.makingOffer || p.conn.SignalingState() != webrtc.SignalingStateStable
	p.mu.Unlock()
	if glare {
		if p.initiator {
			// the impolite side drops the colliding offer, its own
			// offer wins and the remote rolls back
			p.log.Debug().Msg("glare, ignoring remote offer")
			return nil
		}
		if err := p.conn.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			return err
		}
	}
	if err := p.conn.SetRemoteDescription(offer); err != nil {
		return err
	}
	p.flushCandidates()
	answer, err := p.conn.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err = p.conn.SetLocalDescription(answer); err != nil {
		return err
	}
	p.emit(signalPayload{Type: answer.Type.String(), SDP: answer.SDP})
	return nil
}

// addCandidate applies a remote candidate, buffering it while the
// remote description is not set yet (trickle arrives out of order).
func (p *Peer) addCandidate(c webrtc.ICECandidateInit) error {
	if p.conn.RemoteDescription() == nil {
		p.mu.Lock()
		p.pending = append(p.pending, c)
		p.mu.Unlock()
		return nil
	}
	return p.conn.AddICECandidate(c)
}

func (p *Peer) flushCandidates() {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()
	for _, c := range pending {
		if err := p.conn.AddICECandidate(c); err != nil {
			p.log.Warn().Err(err).Msg("buffered candidate fail")
		}
	}
}

// AddTrack attaches a local track to the link and starts its sample
// pump. Triggers renegotiation on the initiator side.
func (p *Peer) AddTrack(t *media.Track) error {
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mimeOf(t.Kind())}, string(t.Kind()), t.ID())
	if err != nil {
		return err
	}
	sender, err := p.conn.AddTrack(local)
	if err != nil {
		return err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errPeerClosed
	}
	p.senders[t.ID()] = sender
	p.mu.Unlock()

	go p.pushLocal(local, t)
	go p.drainRTCP(sender)
	return nil
}

// RemoveTrack detaches a local track by id.
func (p *Peer) RemoveTrack(trackId string) error {
	p.mu.Lock()
	sender, ok := p.senders[trackId]
	delete(p.senders, trackId)
	p.mu.Unlock()
	if !ok {
		return errUnknownTrack
	}
	return p.conn.RemoveTrack(sender)
}

func (p *Peer) pushLocal(local *webrtc.TrackLocalStaticSample, t *media.Track) {
	for s := range t.Samples() {
		if err := local.WriteSample(pionMedia.Sample{Data: s.Data, Duration: s.Duration}); err != nil {
			p.log.Debug().Err(err).Msg("write sample fail")
			return
		}
	}
}

func (p *Peer) pullRemote(remote *webrtc.TrackRemote, t *media.Track) {
	defer t.Stop()
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		t.Write(media.Sample{Data: pkt.Payload})
	}
}

// drainRTCP keeps interceptor feedback flowing.
func (p *Peer) drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (p *Peer) emit(out signalPayload) {
	p.mu.Lock()
	fn := p.onSignal
	closed := p.closed
	p.mu.Unlock()
	if closed || fn == nil {
		return
	}
	data, err := json.Marshal(out)
	if err != nil {
		p.log.Error().Err(err).Msg("signal marshal fail")
		return
	}
	fn(data)
}

func (p *Peer) fail(err error) {
	p.mu.Lock()
	fn := p.onError
	closed := p.closed
	p.mu.Unlock()
	if !closed && fn != nil {
		fn(err)
	}
}

// Close tears the connection down; idempotent.
func (p *Peer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.senders = map[string]*webrtc.RTPSender{}
	p.mu.Unlock()
	if err := p.conn.Close(); err != nil {
		p.log.Warn().Err(err).Msg("connection close fail")
	}
}

func mimeOf(kind media.Kind) string {
	if kind == media.Audio {
		return webrtc.MimeTypeOpus
	}
	return webrtc.MimeTypeVP8
}

func kindOf(kind webrtc.RTPCodecType) media.Kind {
	if kind == webrtc.RTPCodecTypeAudio {
		return media.Audio
	}
	return media.Video
}
