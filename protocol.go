package meetsdk

import (
	"github.com/pion/webrtc/v4"
)

// Relay event names. Client to server.
const (
	EventJoinRoom    = "join:room"
	EventLeaveRoom   = "leave:room"
	EventSignal      = "signal"
	EventMediaState  = "media:state"
	EventChatMessage = "chat:message"
	EventScreenShare = "screen:share"
)

// Server to client.
const (
	EventRoomJoined  = "room:joined"
	EventUserJoined  = "user:joined"
	EventUserLeft    = "user:left"
	EventRoomFull    = "room:full"
	EventRoomError   = "room:error"
	EventMediaStates = "media:states"
)

// ParticipantInfo identifies a room member. SocketID is scoped to the
// member's current signal connection; UserID is the stable identity.
type ParticipantInfo struct {
	SocketID    string `json:"socketId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL,omitempty"`
}

type SignalKind string

const (
	SignalKindOffer     SignalKind = "offer"
	SignalKindAnswer    SignalKind = "answer"
	SignalKindCandidate SignalKind = "candidate"
)

// SignalPayload carries one step of a peer negotiation. SDP is set for
// offers and answers, Candidate for trickled ICE.
type SignalPayload struct {
	Type      SignalKind               `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// SignalEnvelope is relayed verbatim to the To socket id only.
type SignalEnvelope struct {
	To     string        `json:"to"`
	From   string        `json:"from,omitempty"`
	RoomID string        `json:"roomId"`
	Signal SignalPayload `json:"signal"`
}

// MediaStateUpdate is a partial, last-write-wins update of a
// participant's media state. Nil fields are left unchanged.
type MediaStateUpdate struct {
	SocketID      string `json:"socketId,omitempty"`
	RoomID        string `json:"roomId,omitempty"`
	AudioEnabled  *bool  `json:"audioEnabled,omitempty"`
	VideoEnabled  *bool  `json:"videoEnabled,omitempty"`
	ScreenSharing *bool  `json:"isScreenSharing,omitempty"`
}

// MediaState is the resolved per-participant state.
type MediaState struct {
	AudioEnabled  bool `json:"audioEnabled"`
	VideoEnabled  bool `json:"videoEnabled"`
	ScreenSharing bool `json:"isScreenSharing"`
}

func (s MediaState) apply(u MediaStateUpdate) MediaState {
	if u.AudioEnabled != nil {
		s.AudioEnabled = *u.AudioEnabled
	}
	if u.VideoEnabled != nil {
		s.VideoEnabled = *u.VideoEnabled
	}
	if u.ScreenSharing != nil {
		s.ScreenSharing = *u.ScreenSharing
	}
	return s
}

type ChatMessage struct {
	RoomID      string `json:"roomId"`
	SocketID    string `json:"socketId,omitempty"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	Message     string `json:"message"`
}

type ScreenShare struct {
	RoomID   string `json:"roomId"`
	SocketID string `json:"socketId,omitempty"`
	Sharing  bool   `json:"sharing"`
}

type JoinRequest struct {
	RoomID      string `json:"roomId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL,omitempty"`
}

type LeaveRequest struct {
	RoomID string `json:"roomId"`
}

// RoomJoined acknowledges a join. SocketID is the id assigned to the
// local connection; ExistingUsers lists members present before us.
type RoomJoined struct {
	RoomID        string            `json:"roomId"`
	SocketID      string            `json:"socketId"`
	ExistingUsers []ParticipantInfo `json:"existingUsers"`
}

type RoomError struct {
	Message string `json:"message"`
}
