package meetsdk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoomCallback_Merge(t *testing.T) {
	base := NewRoomCallback()

	chatCalled := false
	full := false
	base.Merge(&RoomCallback{
		OnChatMessage: func(msg ChatMessage) { chatCalled = true },
		OnRoomFull:    func() { full = true },
	})

	base.OnChatMessage(ChatMessage{})
	base.OnRoomFull()
	require.True(t, chatCalled)
	require.True(t, full)

	// unmerged callbacks stay as safe no-ops
	require.NotNil(t, base.OnDisconnected)
	require.NotPanics(t, func() {
		base.OnDisconnected()
		base.OnParticipantConnected(nil)
		base.OnMediaStateChanged(MediaState{}, nil)
	})
}

func TestRoomCallback_MergeNil(t *testing.T) {
	base := NewRoomCallback()
	require.NotPanics(t, func() { base.Merge(nil) })
	require.NotPanics(t, func() { base.OnRoomError("boom") })
}
