package meetsdk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/atomic"
)

// ConnectionState tracks room membership.
type ConnectionState int32

const (
	ConnectionStateDisconnected ConnectionState = iota
	ConnectionStateConnecting
	ConnectionStateConnected
	// ConnectionStateFull is terminal: the server refused the join
	// because the room is at capacity. No auto-retry.
	ConnectionStateFull
	ConnectionStateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateDisconnected:
		return "disconnected"
	case ConnectionStateConnecting:
		return "connecting"
	case ConnectionStateConnected:
		return "connected"
	case ConnectionStateFull:
		return "full"
	case ConnectionStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const roomHandlerKey = "room"

// JoinInfo identifies the room and the local user.
type JoinInfo struct {
	RoomID      string
	UserID      string
	DisplayName string
	PhotoURL    string
}

type RoomOption func(*Room)

// WithICEConfig overrides the environment-derived ICE configuration.
func WithICEConfig(cfg ICEConfig) RoomOption {
	return func(r *Room) {
		r.iceConfig = cfg
	}
}

// WithJoinTimeout bounds how long Join waits for the server ack.
func WithJoinTimeout(d time.Duration) RoomOption {
	return func(r *Room) {
		r.joinTimeout = d
	}
}

// Room coordinates the full mesh for one meeting: it reacts to
// membership events by creating and destroying per-peer transports,
// routes signal envelopes to the right transport, and fans room
// metadata out to the presentation layer.
type Room struct {
	client      *SignalClient
	iceConfig   ICEConfig
	callback    *RoomCallback
	joinTimeout time.Duration

	LocalParticipant *LocalParticipant

	lock         sync.RWMutex
	participants map[string]*RemoteParticipant
	roomID       string
	socketID     string
	unsubs       []UnsubscribeFunc
	joinedCh     chan struct{}
	joinErrCh    chan error

	state *atomic.Int32
}

// NewRoom can be used to update callbacks before calling Join.
func NewRoom(callback *RoomCallback, opts ...RoomOption) *Room {
	r := &Room{
		client:       NewSignalClient(),
		iceConfig:    ICEConfigFromEnv(),
		callback:     NewRoomCallback(),
		joinTimeout:  15 * time.Second,
		participants: make(map[string]*RemoteParticipant),
		state:        atomic.NewInt32(int32(ConnectionStateDisconnected)),
	}
	r.callback.Merge(callback)
	r.LocalParticipant = newLocalParticipant(r.callback)

	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Room) ConnectionState() ConnectionState {
	return ConnectionState(r.state.Load())
}

func (r *Room) RoomID() string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.roomID
}

// SocketID is the session id the server assigned to us; empty until
// the join is acknowledged.
func (r *Room) SocketID() string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.socketID
}

func (r *Room) SignalClient() *SignalClient {
	return r.client
}

// Join connects the signal channel, announces our identity, and waits
// for the server's room:joined acknowledgment. Sessions toward the
// members already in the room are created eagerly: the newly joined
// side always initiates.
func (r *Room) Join(ctx context.Context, url string, info JoinInfo) error {
	if !r.state.CompareAndSwap(int32(ConnectionStateDisconnected), int32(ConnectionStateConnecting)) {
		return ErrAlreadyInRoom
	}

	r.lock.Lock()
	r.roomID = info.RoomID
	r.joinedCh = make(chan struct{}, 1)
	r.joinErrCh = make(chan error, 1)
	joinedCh, joinErrCh := r.joinedCh, r.joinErrCh
	r.lock.Unlock()

	r.LocalParticipant.updateInfo(ParticipantInfo{
		UserID:      info.UserID,
		DisplayName: info.DisplayName,
		PhotoURL:    info.PhotoURL,
	})

	r.subscribe()

	if err := r.client.Connect(ctx, url); err != nil {
		r.state.Store(int32(ConnectionStateDisconnected))
		return err
	}

	if err := r.client.JoinRoom(JoinRequest{
		RoomID:      info.RoomID,
		UserID:      info.UserID,
		DisplayName: info.DisplayName,
		PhotoURL:    info.PhotoURL,
	}); err != nil {
		r.state.Store(int32(ConnectionStateDisconnected))
		r.client.Close()
		return err
	}

	select {
	case <-joinedCh:
		return nil
	case err := <-joinErrCh:
		return err
	case <-ctx.Done():
		r.state.Store(int32(ConnectionStateDisconnected))
		r.client.Close()
		return ctx.Err()
	case <-time.After(r.joinTimeout):
		r.state.Store(int32(ConnectionStateDisconnected))
		r.client.Close()
		return ErrConnectionTimeout
	}
}

// Leave tears down every peer session, leaves the room, and closes the
// signal channel.
func (r *Room) Leave() {
	if r.ConnectionState() == ConnectionStateConnected {
		if err := r.client.LeaveRoom(r.RoomID()); err != nil {
			logger.V(1).Info("could not send leave", "error", err)
		}
	}

	r.teardownSessions()
	r.unsubscribeAll()
	r.client.Close()
	r.state.Store(int32(ConnectionStateDisconnected))
	r.callback.OnDisconnected()
}

func (r *Room) GetParticipant(socketID string) *RemoteParticipant {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.participants[socketID]
}

func (r *Room) GetParticipants() []*RemoteParticipant {
	r.lock.RLock()
	defer r.lock.RUnlock()

	participants := make([]*RemoteParticipant, 0, len(r.participants))
	for _, rp := range r.participants {
		participants = append(participants, rp)
	}
	return participants
}

// PublishTracks registers local capture tracks and attaches them to
// every live peer connection. Tracks obtained after joining reach
// already-established connections through the same path.
func (r *Room) PublishTracks(tracks ...webrtc.TrackLocal) error {
	all := r.LocalParticipant.addTracks(tracks...)

	for _, rp := range r.GetParticipants() {
		if err := rp.transport.AttachLocalTracks(all...); err != nil {
			logger.Error(err, "could not attach local tracks", "remote", rp.SocketID())
		}
	}
	return nil
}

// SetMicrophoneEnabled toggles local audio. The state change applies
// locally first; the broadcast is fire-and-forget.
func (r *Room) SetMicrophoneEnabled(enabled bool) {
	r.LocalParticipant.applyMediaUpdate(MediaStateUpdate{AudioEnabled: &enabled})
	r.broadcastMediaState(MediaStateUpdate{AudioEnabled: &enabled})
}

// SetCameraEnabled toggles local video.
func (r *Room) SetCameraEnabled(enabled bool) {
	r.LocalParticipant.applyMediaUpdate(MediaStateUpdate{VideoEnabled: &enabled})
	r.broadcastMediaState(MediaStateUpdate{VideoEnabled: &enabled})
}

// SetScreenShare announces screen sharing to the room.
func (r *Room) SetScreenShare(sharing bool) {
	r.LocalParticipant.applyMediaUpdate(MediaStateUpdate{ScreenSharing: &sharing})
	if err := r.client.SendScreenShare(ScreenShare{RoomID: r.RoomID(), Sharing: sharing}); err != nil {
		logger.V(1).Info("could not send screen share", "error", err)
	}
}

func (r *Room) SendChatMessage(message string) error {
	return r.client.SendChatMessage(ChatMessage{
		RoomID:      r.RoomID(),
		UserID:      r.LocalParticipant.UserID(),
		DisplayName: r.LocalParticipant.DisplayName(),
		Message:     message,
	})
}

func (r *Room) broadcastMediaState(update MediaStateUpdate) {
	update.RoomID = r.RoomID()
	if err := r.client.SendMediaState(update); err != nil {
		logger.V(1).Info("could not send media state", "error", err)
	}
}

func (r *Room) subscribe() {
	r.lock.Lock()
	defer r.lock.Unlock()

	// keyed registrations: re-subscribing on a rejoin replaces the
	// previous handlers instead of duplicating them
	r.unsubs = []UnsubscribeFunc{
		r.client.OnRoomJoined(roomHandlerKey, r.handleRoomJoined),
		r.client.OnParticipantJoined(roomHandlerKey, r.handleParticipantJoined),
		r.client.OnParticipantLeft(roomHandlerKey, r.handleParticipantLeft),
		r.client.OnSignal(roomHandlerKey, r.handleSignal),
		r.client.OnMediaState(roomHandlerKey, r.handleMediaState),
		r.client.OnMediaStates(roomHandlerKey, r.handleMediaStates),
		r.client.OnChatMessage(roomHandlerKey, r.handleChatMessage),
		r.client.OnScreenShare(roomHandlerKey, r.handleScreenShare),
		r.client.OnRoomFull(roomHandlerKey, r.handleRoomFull),
		r.client.OnRoomError(roomHandlerKey, r.handleRoomError),
		r.client.OnDisconnect(roomHandlerKey, r.handleDisconnect),
		r.client.OnError(roomHandlerKey, r.callback.OnConnectionError),
	}
}

func (r *Room) unsubscribeAll() {
	r.lock.Lock()
	unsubs := r.unsubs
	r.unsubs = nil
	r.lock.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

func (r *Room) handleRoomJoined(res RoomJoined) {
	r.lock.Lock()
	r.socketID = res.SocketID
	joinedCh := r.joinedCh
	r.lock.Unlock()
	r.LocalParticipant.setSocketID(res.SocketID)

	r.state.Store(int32(ConnectionStateConnected))

	for _, pi := range res.ExistingUsers {
		rp := r.ensureParticipant(pi)
		if rp == nil {
			continue
		}
		rp.transport.Negotiate()
	}

	if joinedCh != nil {
		select {
		case joinedCh <- struct{}{}:
		default:
		}
	}
}

func (r *Room) handleParticipantJoined(pi ParticipantInfo) {
	r.lock.RLock()
	known := r.participants[pi.SocketID] != nil
	r.lock.RUnlock()

	rp := r.ensureParticipant(pi)
	if rp == nil {
		return
	}
	if !known {
		go r.callback.OnParticipantConnected(rp)
	}
}

func (r *Room) handleParticipantLeft(socketID string) {
	r.lock.Lock()
	rp := r.participants[socketID]
	delete(r.participants, socketID)
	r.lock.Unlock()

	if rp == nil {
		return
	}
	rp.close()
	go r.callback.OnParticipantDisconnected(rp)
}

func (r *Room) handleSignal(env SignalEnvelope) {
	if env.From == "" || env.From == r.SocketID() {
		return
	}

	switch env.Signal.Type {
	case SignalKindOffer:
		// an offer may precede the membership event for its sender
		rp := r.ensureParticipant(ParticipantInfo{SocketID: env.From})
		if rp == nil {
			return
		}
		if err := rp.transport.HandleOffer(webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer,
			SDP:  env.Signal.SDP,
		}); err != nil {
			logger.Error(err, "could not handle offer", "from", env.From)
		}
	case SignalKindAnswer:
		rp := r.GetParticipant(env.From)
		if rp == nil {
			// expected when the peer left mid-negotiation
			return
		}
		if err := rp.transport.HandleAnswer(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  env.Signal.SDP,
		}); err != nil {
			logger.Error(err, "could not handle answer", "from", env.From)
		}
	case SignalKindCandidate:
		rp := r.GetParticipant(env.From)
		if rp == nil || env.Signal.Candidate == nil {
			return
		}
		if err := rp.transport.AddICECandidate(*env.Signal.Candidate); err != nil {
			logger.Error(err, "could not add candidate", "from", env.From)
		}
	}
}

func (r *Room) handleMediaState(update MediaStateUpdate) {
	rp := r.GetParticipant(update.SocketID)
	if rp == nil {
		return
	}
	state := rp.applyMediaUpdate(update)
	rp.Callback.OnMediaStateChanged(state, rp)
	r.callback.OnMediaStateChanged(state, rp)
}

func (r *Room) handleMediaStates(states map[string]MediaStateUpdate) {
	for socketID, update := range states {
		update.SocketID = socketID
		r.handleMediaState(update)
	}
}

func (r *Room) handleChatMessage(msg ChatMessage) {
	if msg.SocketID == r.SocketID() {
		// our own message echoed back
		return
	}
	r.callback.OnChatMessage(msg)
}

func (r *Room) handleScreenShare(share ScreenShare) {
	rp := r.GetParticipant(share.SocketID)
	if rp == nil {
		return
	}
	rp.applyMediaUpdate(MediaStateUpdate{ScreenSharing: &share.Sharing})
	rp.Callback.OnScreenShareChanged(share.Sharing, rp)
	r.callback.OnScreenShareChanged(share.Sharing, rp)
}

func (r *Room) handleRoomFull() {
	r.state.Store(int32(ConnectionStateFull))
	r.notifyJoinError(ErrRoomFull)
	r.callback.OnRoomFull()
	r.client.Close()
}

func (r *Room) handleRoomError(re RoomError) {
	r.state.Store(int32(ConnectionStateFailed))
	r.notifyJoinError(fmt.Errorf("%w: %s", ErrRoomRejected, re.Message))
	r.callback.OnRoomError(re.Message)
	r.client.Close()
}

// handleDisconnect surfaces connectivity loss. Sessions are kept:
// reconnecting is the caller's policy, and established peer
// connections can outlive a signaling blip.
func (r *Room) handleDisconnect() {
	if r.state.CompareAndSwap(int32(ConnectionStateConnected), int32(ConnectionStateDisconnected)) {
		r.callback.OnDisconnected()
	}
}

func (r *Room) notifyJoinError(err error) {
	r.lock.RLock()
	joinErrCh := r.joinErrCh
	r.lock.RUnlock()

	if joinErrCh != nil {
		select {
		case joinErrCh <- err:
		default:
		}
	}
}

// ensureParticipant returns the session for a socket id, creating it
// on first need. Creation is idempotent: an existing session is
// returned as is, though any local tracks acquired since are attached.
func (r *Room) ensureParticipant(pi ParticipantInfo) *RemoteParticipant {
	r.lock.Lock()
	if rp, ok := r.participants[pi.SocketID]; ok {
		r.lock.Unlock()
		rp.updateInfo(pi)
		r.attachLocalTracks(rp)
		return rp
	}
	localID := r.socketID
	r.lock.Unlock()

	transport, err := NewPeerTransport(localID, pi.SocketID, r.iceConfig.WebRTCConfiguration())
	if err != nil {
		logger.Error(err, "could not create peer transport", "remote", pi.SocketID)
		return nil
	}

	remoteID := pi.SocketID
	transport.OnOffer = func(sd webrtc.SessionDescription) {
		r.sendSignal(remoteID, SignalPayload{Type: SignalKindOffer, SDP: sd.SDP})
	}
	transport.OnAnswer = func(sd webrtc.SessionDescription) {
		r.sendSignal(remoteID, SignalPayload{Type: SignalKindAnswer, SDP: sd.SDP})
	}
	transport.OnICECandidate = func(init webrtc.ICECandidateInit) {
		r.sendSignal(remoteID, SignalPayload{Type: SignalKindCandidate, Candidate: &init})
	}

	rp := newRemoteParticipant(pi, r.callback, transport)

	r.lock.Lock()
	if existing, ok := r.participants[pi.SocketID]; ok {
		// lost the race, keep the first session
		r.lock.Unlock()
		transport.Close()
		return existing
	}
	r.participants[pi.SocketID] = rp
	r.lock.Unlock()

	r.attachLocalTracks(rp)
	return rp
}

func (r *Room) attachLocalTracks(rp *RemoteParticipant) {
	tracks := r.LocalParticipant.Tracks()
	if len(tracks) == 0 {
		return
	}
	if err := rp.transport.AttachLocalTracks(tracks...); err != nil {
		logger.Error(err, "could not attach local tracks", "remote", rp.SocketID())
	}
}

func (r *Room) sendSignal(to string, payload SignalPayload) {
	env := SignalEnvelope{
		To:     to,
		From:   r.SocketID(),
		RoomID: r.RoomID(),
		Signal: payload,
	}
	if err := r.client.SendSignal(env); err != nil {
		logger.V(1).Info("could not send signal", "to", to, "error", err)
	}
}

func (r *Room) teardownSessions() {
	r.lock.Lock()
	participants := r.participants
	r.participants = make(map[string]*RemoteParticipant)
	r.lock.Unlock()

	for _, rp := range participants {
		rp.close()
	}
}
