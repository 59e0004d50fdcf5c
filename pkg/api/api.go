// Package api defines the wire protocol shared by the relay and its clients.
//
// Each message (in both directions) is a JSON-encoded packet of the following
// structure:
//
//	id - (optional) a unique packet id for request/response correlation;
//	 t - (required) one of the predefined packet types;
//	 p - (optional) packet payload with the type-specific data.
//
// The relay treats the signal payload as an opaque blob: only the negotiation
// library on both ends of a peer link interprets it.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
)

type PT uint8

type In struct {
	Id      string          `json:"id,omitempty"`
	T       PT              `json:"t"`
	Payload json.RawMessage `json:"p,omitempty"` // json.RawMessage for 2-pass unmarshal
}

type Out struct {
	Id      string `json:"id,omitempty"`
	T       PT     `json:"t"`
	Payload any    `json:"p,omitempty"`
}

const (
	Connected         PT = 1
	JoinRoom          PT = 10
	RoomParticipants  PT = 11
	JoinedRoom        PT = 12
	ParticipantJoined PT = 13
	ParticipantLeft   PT = 14
	Signal            PT = 20
	MediaStateChange  PT = 30
	MediaStateUpdated PT = 31
	ServerError       PT = 90
)

func (p PT) String() string {
	switch p {
	case Connected:
		return "connected"
	case JoinRoom:
		return "join-room"
	case RoomParticipants:
		return "room-participants"
	case JoinedRoom:
		return "joined-room"
	case ParticipantJoined:
		return "participant-joined"
	case ParticipantLeft:
		return "participant-left"
	case Signal:
		return "signal"
	case MediaStateChange:
		return "media-state-change"
	case MediaStateUpdated:
		return "media-state-updated"
	case ServerError:
		return "server-error"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

var ErrMalformed = errors.New("malformed")

// Unwrap decodes a packet payload into the T structure,
// returns nil when the data is malformed.
func Unwrap[T any](data []byte) *T {
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil
	}
	return out
}
