package meetsdk

import (
	"github.com/pion/webrtc/v4"
)

type ParticipantCallback struct {
	// for remote participants
	OnTrackSubscribed    func(track *webrtc.TrackRemote, rp *RemoteParticipant)
	OnMediaStateChanged  func(state MediaState, rp *RemoteParticipant)
	OnScreenShareChanged func(sharing bool, rp *RemoteParticipant)

	// for all participants
	OnIsSpeakingChanged func(p Participant)
}

func NewParticipantCallback() *ParticipantCallback {
	return &ParticipantCallback{
		OnTrackSubscribed:    func(track *webrtc.TrackRemote, rp *RemoteParticipant) {},
		OnMediaStateChanged:  func(state MediaState, rp *RemoteParticipant) {},
		OnScreenShareChanged: func(sharing bool, rp *RemoteParticipant) {},
		OnIsSpeakingChanged:  func(p Participant) {},
	}
}

func (cb *ParticipantCallback) Merge(other *ParticipantCallback) {
	if other == nil {
		return
	}
	if other.OnTrackSubscribed != nil {
		cb.OnTrackSubscribed = other.OnTrackSubscribed
	}
	if other.OnMediaStateChanged != nil {
		cb.OnMediaStateChanged = other.OnMediaStateChanged
	}
	if other.OnScreenShareChanged != nil {
		cb.OnScreenShareChanged = other.OnScreenShareChanged
	}
	if other.OnIsSpeakingChanged != nil {
		cb.OnIsSpeakingChanged = other.OnIsSpeakingChanged
	}
}

// RoomCallback is the surface the presentation layer consumes. All
// fields default to no-ops, so callers only set what they render.
type RoomCallback struct {
	OnDisconnected            func()
	OnConnectionError         func(err error)
	OnParticipantConnected    func(rp *RemoteParticipant)
	OnParticipantDisconnected func(rp *RemoteParticipant)
	OnRoomFull                func()
	OnRoomError               func(message string)
	OnChatMessage             func(msg ChatMessage)

	ParticipantCallback
}

func NewRoomCallback() *RoomCallback {
	pc := NewParticipantCallback()
	return &RoomCallback{
		ParticipantCallback: *pc,

		OnDisconnected:            func() {},
		OnConnectionError:         func(err error) {},
		OnParticipantConnected:    func(rp *RemoteParticipant) {},
		OnParticipantDisconnected: func(rp *RemoteParticipant) {},
		OnRoomFull:                func() {},
		OnRoomError:               func(message string) {},
		OnChatMessage:             func(msg ChatMessage) {},
	}
}

func (cb *RoomCallback) Merge(other *RoomCallback) {
	if other == nil {
		return
	}
	cb.ParticipantCallback.Merge(&other.ParticipantCallback)

	if other.OnDisconnected != nil {
		cb.OnDisconnected = other.OnDisconnected
	}
	if other.OnConnectionError != nil {
		cb.OnConnectionError = other.OnConnectionError
	}
	if other.OnParticipantConnected != nil {
		cb.OnParticipantConnected = other.OnParticipantConnected
	}
	if other.OnParticipantDisconnected != nil {
		cb.OnParticipantDisconnected = other.OnParticipantDisconnected
	}
	if other.OnRoomFull != nil {
		cb.OnRoomFull = other.OnRoomFull
	}
	if other.OnRoomError != nil {
		cb.OnRoomError = other.OnRoomError
	}
	if other.OnChatMessage != nil {
		cb.OnChatMessage = other.OnChatMessage
	}
}
