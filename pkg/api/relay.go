package api

import "encoding/json"

// MediaType tags which local track a media-state event refers to.
type MediaType string

const (
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
)

func (m MediaType) IsValid() bool { return m == MediaVideo || m == MediaAudio }

type (
	ConnectedNotice struct {
		Id string `json:"id"`
	}
	JoinRoomRequest struct {
		RoomId        string `json:"roomId"`
		ParticipantId string `json:"participantId"`
	}
	RoomParticipantsResponse struct {
		Participants []string `json:"participants"`
	}
	JoinedRoomNotice struct {
		RoomId        string `json:"roomId"`
		ParticipantId string `json:"participantId"`
		Success       bool   `json:"success"`
	}
	ParticipantJoinedNotice struct {
		ParticipantId string   `json:"participantId"`
		Participants  []string `json:"participants"`
	}
	ParticipantLeftNotice struct {
		ParticipantId string `json:"participantId"`
		Reason        string `json:"reason,omitempty"`
	}
	// SignalEnvelope carries one opaque negotiation payload between two
	// participants; the relay routes it by To and never parses Signal.
	SignalEnvelope struct {
		To     string          `json:"to,omitempty"`
		From   string          `json:"from"`
		Signal json.RawMessage `json:"signal"`
	}
	MediaStateChangeRequest struct {
		RoomId        string    `json:"roomId"`
		ParticipantId string    `json:"participantId"`
		Type          MediaType `json:"type"`
		Enabled       bool      `json:"enabled"`
	}
	MediaStateUpdatedNotice struct {
		ParticipantId string    `json:"participantId"`
		Type          MediaType `json:"type"`
		Enabled       bool      `json:"enabled"`
	}
	ServerErrorNotice struct {
		Message string `json:"message"`
		Code    string `json:"code,omitempty"`
	}
)
