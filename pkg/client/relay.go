package client

import (
	"errors"
	"net/url"

	"github.com/goccy/go-json"
	"github.com/meshmeet/meshmeet/pkg/api"
	"github.com/meshmeet/meshmeet/pkg/com"
	"github.com/meshmeet/meshmeet/pkg/config"
	"github.com/meshmeet/meshmeet/pkg/logger"
)

var (
	errLinkClosed    = errors.New("negotiation link closed")
	errSessionClosed = errors.New("session is closed")
	errOrchClosed    = errors.New("orchestrator is closed")
	errJoinFailed    = errors.New("room join failed")
)

// Signaler is the orchestrator's view of the relay connection.
type Signaler interface {
	// JoinRoom blocks until the relay answers with the member list.
	JoinRoom(roomId string, participantId string) ([]string, error)
	SendSignal(to string, from string, signal []byte) error
	SendMediaState(roomId string, participantId string, mediaType api.MediaType, enabled bool) error
	Disconnect()
}

// EventHandler receives relay events; the orchestrator implements it.
type EventHandler interface {
	OnParticipantJoined(participantId string, participants []string)
	OnParticipantLeft(participantId string, reason string)
	OnSignal(from string, signal []byte)
	OnMediaStateUpdated(participantId string, mediaType api.MediaType, enabled bool)
	OnRelayError(err error)
}

// RelayClient is the websocket wire to the signaling relay.
type RelayClient struct {
	sock com.SocketClient
	log  *logger.Logger
}

// ConnectRelay dials the relay and returns the wire client. Bind the
// event handler and call Listen before joining anything.
func ConnectRelay(conf config.Client, log *logger.Logger) (*RelayClient, error) {
	scheme := "ws"
	if conf.Network.Secure {
		scheme = "wss"
	}
	address := url.URL{Scheme: scheme, Host: conf.Network.RelayAddress, Path: conf.Network.Endpoint}
	conn, err := com.NewConnector().NewClient(address, log)
	if err != nil {
		return nil, err
	}
	return &RelayClient{sock: com.New(conn, "r", com.NewUid(), log), log: log}, nil
}

// Bind routes inbound relay packets to the handler.
func (r *RelayClient) Bind(h EventHandler) {
	r.sock.OnPacket(func(in api.In) error {
		switch in.T {
		case api.Connected:
			// connection greeting, nothing to do
		case api.ParticipantJoined:
			dat := api.Unwrap[api.ParticipantJoinedNotice](in.Payload)
			if dat == nil {
				return api.ErrMalformed
			}
			h.OnParticipantJoined(dat.ParticipantId, dat.Participants)
		case api.ParticipantLeft:
			dat := api.Unwrap[api.ParticipantLeftNotice](in.Payload)
			if dat == nil {
				return api.ErrMalformed
			}
			h.OnParticipantLeft(dat.ParticipantId, dat.Reason)
		case api.Signal:
			dat := api.Unwrap[api.SignalEnvelope](in.Payload)
			if dat == nil {
				return api.ErrMalformed
			}
			h.OnSignal(dat.From, dat.Signal)
		case api.MediaStateUpdated:
			dat := api.Unwrap[api.MediaStateUpdatedNotice](in.Payload)
			if dat == nil {
				return api.ErrMalformed
			}
			h.OnMediaStateUpdated(dat.ParticipantId, dat.Type, dat.Enabled)
		case api.ServerError:
			dat := api.Unwrap[api.ServerErrorNotice](in.Payload)
			if dat == nil {
				return api.ErrMalformed
			}
			h.OnRelayError(errors.New(dat.Message))
		default:
			r.log.Warn().Msgf("unknown packet %v", in.T)
		}
		return nil
	})
}

// Listen returns the channel closed when the transport goes away.
func (r *RelayClient) Listen() chan struct{} { return r.sock.Listen() }

func (r *RelayClient) JoinRoom(roomId string, participantId string) ([]string, error) {
	raw, err := r.sock.Call(api.JoinRoom, api.JoinRoomRequest{RoomId: roomId, ParticipantId: participantId})
	if err != nil {
		return nil, err
	}
	var res api.RoomParticipantsResponse
	if err = json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	return res.Participants, nil
}

func (r *RelayClient) SendSignal(to string, from string, signal []byte) error {
	r.sock.Notify(api.Signal, api.SignalEnvelope{To: to, From: from, Signal: signal})
	return nil
}

func (r *RelayClient) SendMediaState(roomId string, participantId string, mediaType api.MediaType, enabled bool) error {
	r.sock.Notify(api.MediaStateChange, api.MediaStateChangeRequest{
		RoomId:        roomId,
		ParticipantId: participantId,
		Type:          mediaType,
		Enabled:       enabled,
	})
	return nil
}

func (r *RelayClient) Disconnect() { r.sock.Disconnect() }
