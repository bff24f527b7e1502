package meetsdk

import "errors"

var (
	ErrURLNotProvided    = errors.New("URL was not provided")
	ErrNotConnected      = errors.New("signal client is not connected")
	ErrAlreadyInRoom     = errors.New("already joined a room")
	ErrConnectionTimeout = errors.New("could not connect after timeout")
	ErrRoomFull          = errors.New("room is at capacity")
	ErrRoomRejected      = errors.New("join request rejected by server")
	ErrTransportClosed   = errors.New("peer transport is closed")
)
