package relay

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/meshmeet/meshmeet/pkg/api"
	"github.com/meshmeet/meshmeet/pkg/com"
	"github.com/meshmeet/meshmeet/pkg/config"
	"github.com/meshmeet/meshmeet/pkg/logger"
)

// wsPeer is one websocket client talking to a hub under test.
type wsPeer struct {
	com.SocketClient
	events chan api.In
	done   chan struct{}
}

func newHubServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(config.Relay{}, logger.Default())
	srv := httptest.NewServer(http.HandlerFunc(hub.handleClientConnection))
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Stop)
	return hub, srv
}

func dialHub(t *testing.T, srv *httptest.Server) *wsPeer {
	t.Helper()
	log := logger.Default()
	host, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	wire, err := com.NewConnector().NewClient(url.URL{Scheme: "ws", Host: host.Host, Path: "/"}, log)
	if err != nil {
		t.Fatal(err)
	}
	p := &wsPeer{SocketClient: com.New(wire, "c", com.NewUid(), log), events: make(chan api.In, 16)}
	p.OnPacket(func(in api.In) error { p.events <- in; return nil })
	p.done = p.Listen()
	p.next(t, api.Connected)
	return p
}

// next skips unrelated packets until one of the wanted type arrives.
func (p *wsPeer) next(t *testing.T, pt api.PT) api.In {
	t.Helper()
	for {
		select {
		case in := <-p.events:
			if in.T == pt {
				return in
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("no %v packet arrived", pt)
		}
	}
}

func (p *wsPeer) join(t *testing.T, room string, id string) []string {
	t.Helper()
	raw, err := p.Call(api.JoinRoom, api.JoinRoomRequest{RoomId: room, ParticipantId: id})
	if err != nil {
		t.Fatal(err)
	}
	var res api.RoomParticipantsResponse
	if err = json.Unmarshal(raw, &res); err != nil {
		t.Fatal(err)
	}
	return res.Participants
}

// TestHubTwoClientFlow walks the whole join, signal, media-state, and
// disconnect exchange between two live websocket clients.
func TestHubTwoClientFlow(t *testing.T) {
	_, srv := newHubServer(t)

	alice := dialHub(t, srv)
	if got := alice.join(t, "standup", "alice"); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("join reply = %v, want [alice]", got)
	}
	// the member list answers the call itself, the ack follows as a notice
	alice.next(t, api.JoinedRoom)

	bob := dialHub(t, srv)
	if got := bob.join(t, "standup", "bob"); len(got) != 2 {
		t.Fatalf("join reply = %v, want both members", got)
	}
	bob.next(t, api.JoinedRoom)

	joined := api.Unwrap[api.ParticipantJoinedNotice](alice.next(t, api.ParticipantJoined).Payload)
	if joined == nil || joined.ParticipantId != "bob" {
		t.Fatalf("participant-joined = %+v", joined)
	}

	// a payload for an unknown target vanishes without an error to anyone
	bob.Notify(api.Signal, api.SignalEnvelope{To: "carol", From: "bob", Signal: json.RawMessage(`{"type":"offer"}`)})

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	bob.Notify(api.Signal, api.SignalEnvelope{To: "alice", From: "bob", Signal: offer})

	env := api.Unwrap[api.SignalEnvelope](alice.next(t, api.Signal).Payload)
	if env == nil || env.From != "bob" || string(env.Signal) != string(offer) {
		t.Fatalf("forwarded signal = %+v", env)
	}
	// the carol payload was processed before the alice one on the same
	// connection, so its silent drop is settled by now
	select {
	case in := <-bob.events:
		if in.T == api.ServerError {
			t.Fatalf("dropped signal produced an error: %s", string(in.Payload))
		}
	default:
	}

	bob.Notify(api.MediaStateChange, api.MediaStateChangeRequest{
		RoomId: "standup", ParticipantId: "bob", Type: api.MediaVideo, Enabled: false,
	})
	upd := api.Unwrap[api.MediaStateUpdatedNotice](alice.next(t, api.MediaStateUpdated).Payload)
	if upd == nil || upd.ParticipantId != "bob" || upd.Type != api.MediaVideo || upd.Enabled {
		t.Fatalf("media-state-updated = %+v", upd)
	}

	bob.Disconnect()
	left := api.Unwrap[api.ParticipantLeftNotice](alice.next(t, api.ParticipantLeft).Payload)
	if left == nil || left.ParticipantId != "bob" || left.Reason != disconnectReason {
		t.Fatalf("participant-left = %+v", left)
	}

	alice.Disconnect()
	<-alice.done
}

// TestHubStaleDisconnectStaysSilent re-joins a participant on a fresh
// connection and lets the old transport die: the room must not hear a
// departure for someone who is still in it.
func TestHubStaleDisconnectStaysSilent(t *testing.T) {
	hub, srv := newHubServer(t)

	bob := dialHub(t, srv)
	bob.join(t, "standup", "bob")

	stale := dialHub(t, srv)
	stale.join(t, "standup", "alice")
	bob.next(t, api.ParticipantJoined)

	fresh := dialHub(t, srv)
	fresh.join(t, "standup", "alice")
	bob.next(t, api.ParticipantJoined)

	stale.Disconnect()
	<-stale.done

	deadline := time.After(300 * time.Millisecond)
	for {
		select {
		case in := <-bob.events:
			if in.T == api.ParticipantLeft {
				t.Fatalf("stale disconnect broadcast a departure: %s", string(in.Payload))
			}
		case <-deadline:
			if conn, ok := hub.Registry().Lookup("alice"); !ok {
				t.Fatalf("alice lost her binding, conn = %v", conn)
			}
			return
		}
	}
}
