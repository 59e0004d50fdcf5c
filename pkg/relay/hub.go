package relay

import (
	"net/http"
	"time"

	"github.com/meshmeet/meshmeet/pkg/api"
	"github.com/meshmeet/meshmeet/pkg/com"
	"github.com/meshmeet/meshmeet/pkg/config"
	"github.com/meshmeet/meshmeet/pkg/logger"
)

// Hub terminates client connections and routes signaling between them.
// It stays deliberately stateless about negotiation content: membership
// plus routing is the whole job, the payloads belong to the clients.
type Hub struct {
	conf      config.Relay
	log       *logger.Logger
	registry  *Registry
	connector *com.Connector
	users     com.Map[com.Uid, *session]
	done      chan struct{}
}

// session is one live client connection.
type session struct {
	com.SocketClient
}

const disconnectReason = "transport close"

func NewHub(conf config.Relay, log *logger.Logger) *Hub {
	origin := conf.Origin
	if origin == "" {
		origin = "*"
	}
	return &Hub{
		conf:      conf,
		log:       log,
		registry:  NewRegistry(),
		connector: com.NewConnector(com.WithOrigin(origin)),
		users:     com.NewMap[com.Uid, *session](),
		done:      make(chan struct{}),
	}
}

func (h *Hub) Registry() *Registry { return h.registry }

// handleClientConnection serves one websocket client until it hangs up.
func (h *Hub) handleClientConnection(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if err := recover(); err != nil {
			h.log.Error().Msgf("recovered connection handler from %v", err)
		}
	}()

	conn, err := h.connector.NewServer(w, r, h.log)
	if err != nil {
		h.log.Error().Err(err).Msg("socket upgrade fail")
		return
	}
	usr := &session{SocketClient: com.New(conn, "u", com.NewUid(), h.log)}
	h.users.Put(usr.Id(), usr)
	metricConnections.Inc()

	h.routes(usr)
	usr.Notify(api.Connected, api.ConnectedNotice{Id: usr.Id().String()})

	<-usr.Listen()

	h.users.RemoveByKey(usr.Id())
	metricConnections.Dec()
	h.handleLeave(usr.Id(), disconnectReason)
}

// routes wires the packet dispatch for one client.
func (h *Hub) routes(usr *session) {
	usr.OnPacket(func(in api.In) error {
		switch in.T {
		case api.JoinRoom:
			dat := api.Unwrap[api.JoinRoomRequest](in.Payload)
			if dat == nil || dat.RoomId == "" || dat.ParticipantId == "" {
				return api.ErrMalformed
			}
			h.handleJoin(usr, in, *dat)
		case api.Signal:
			dat := api.Unwrap[api.SignalEnvelope](in.Payload)
			if dat == nil {
				return api.ErrMalformed
			}
			h.handleSignal(*dat)
		case api.MediaStateChange:
			dat := api.Unwrap[api.MediaStateChangeRequest](in.Payload)
			if dat == nil || !dat.Type.IsValid() {
				return api.ErrMalformed
			}
			h.handleMediaState(*dat)
		default:
			usr.Notify(api.ServerError, api.ServerErrorNotice{
				Message: "unhandled packet",
				Code:    in.T.String(),
			})
		}
		return nil
	})
}

// handleJoin binds the connection to the room and tells everyone involved.
func (h *Hub) handleJoin(usr *session, in api.In, rq api.JoinRoomRequest) {
	res := h.registry.Join(usr.Id(), rq.RoomId, rq.ParticipantId)
	if res.Prev != nil {
		h.broadcast(res.Prev.Notify, api.ParticipantLeft, api.ParticipantLeftNotice{
			ParticipantId: res.Prev.ParticipantId,
			Reason:        "switched room",
		})
	}

	// the member list answers the join call, the ack follows as a notice
	usr.Route(in, api.RoomParticipantsResponse{Participants: res.Members})
	usr.Notify(api.JoinedRoom, api.JoinedRoomNotice{
		RoomId:        rq.RoomId,
		ParticipantId: rq.ParticipantId,
		Success:       true,
	})
	h.broadcast(res.Notify, api.ParticipantJoined, api.ParticipantJoinedNotice{
		ParticipantId: rq.ParticipantId,
		Participants:  res.Members,
	})

	h.log.Info().Str("room", rq.RoomId).Str("pid", rq.ParticipantId).Msg("Join")
	h.updateGauges()
}

// handleLeave detaches whatever the connection was bound to; a no-op for
// connections that never joined.
func (h *Hub) handleLeave(conn com.Uid, reason string) {
	d, ok := h.registry.Leave(conn)
	if !ok {
		return
	}
	h.broadcast(d.Notify, api.ParticipantLeft, api.ParticipantLeftNotice{
		ParticipantId: d.ParticipantId,
		Reason:        reason,
	})
	h.log.Info().Str("room", d.RoomId).Str("pid", d.ParticipantId).Str("reason", reason).Msg("Leave")
	h.updateGauges()
}

// handleSignal forwards one opaque payload to the connection currently
// bound to the target. A missing target is expected under concurrent
// disconnect and the payload is silently dropped.
func (h *Hub) handleSignal(envelope api.SignalEnvelope) {
	if envelope.To == "" || len(envelope.Signal) == 0 {
		return
	}
	conn, ok := h.registry.Lookup(envelope.To)
	if !ok {
		metricSignals.WithLabelValues("dropped").Inc()
		h.log.Debug().Str("to", envelope.To).Msg("signal target is gone")
		return
	}
	target, err := h.users.Find(conn)
	if err != nil {
		metricSignals.WithLabelValues("dropped").Inc()
		return
	}
	target.Notify(api.Signal, api.SignalEnvelope{From: envelope.From, Signal: envelope.Signal})
	metricSignals.WithLabelValues("relayed").Inc()
}

// handleMediaState fans a media flag flip out to the other room members.
// The relay does not persist this state.
func (h *Hub) handleMediaState(rq api.MediaStateChangeRequest) {
	if rq.RoomId == "" || rq.ParticipantId == "" {
		return
	}
	h.broadcast(h.registry.Others(rq.RoomId, rq.ParticipantId), api.MediaStateUpdated, api.MediaStateUpdatedNotice{
		ParticipantId: rq.ParticipantId,
		Type:          rq.Type,
		Enabled:       rq.Enabled,
	})
}

// broadcast is a fire-and-forget fan-out to each target's own outbound queue.
func (h *Hub) broadcast(targets []com.Uid, t api.PT, payload any) {
	if len(targets) == 0 {
		return
	}
	for _, conn := range targets {
		if usr, err := h.users.Find(conn); err == nil {
			usr.Notify(t, payload)
		}
	}
	metricBroadcasts.Inc()
}

func (h *Hub) updateGauges() {
	metricRooms.Set(float64(h.registry.RoomCount()))
	metricParticipants.Set(float64(h.registry.ParticipantCount()))
}

// Run starts the periodic empty-room sweep, the safety net for rooms
// that became empty without a clean leave.
func (h *Hub) Run() {
	interval := h.conf.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := h.registry.SweepEmptyRooms(); n > 0 {
					metricSweptRooms.Add(float64(n))
					h.log.Info().Int("rooms", n).Msg("Swept empty rooms")
					h.updateGauges()
				}
			case <-h.done:
				return
			}
		}
	}()
}

func (h *Hub) Stop() {
	close(h.done)
	h.users.ForEach(func(usr *session) { usr.Disconnect() })
}
