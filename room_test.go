package meetsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

// all loopback so tests never reach public ICE infrastructure
var testICEConfig = ICEConfig{
	STUNURL:        "stun:127.0.0.1:3478",
	TURNURLs:       []string{"turn:127.0.0.1:3478"},
	TURNUsername:   "test",
	TURNCredential: "test",
}

type relayPeer struct {
	info    ParticipantInfo
	conn    *websocket.Conn
	writeMu sync.Mutex
	roomID  string
}

func (p *relayPeer) send(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	msg, err := json.Marshal(wireMessage{Event: event, Data: data})
	if err != nil {
		return
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.WriteMessage(websocket.TextMessage, msg)
}

// testRelay is a minimal in-process implementation of the signaling
// contract: it assigns socket ids, relays signal envelopes to their
// target, and broadcasts room metadata.
type testRelay struct {
	URL      string
	maxPeers int

	lock  sync.Mutex
	rooms map[string]map[string]*relayPeer
}

func newTestRelay(t *testing.T, maxPeers int) *testRelay {
	t.Helper()
	r := &testRelay{
		maxPeers: maxPeers,
		rooms:    make(map[string]map[string]*relayPeer),
	}
	srv := httptest.NewServer(http.HandlerFunc(r.handle))
	t.Cleanup(srv.Close)
	r.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return r
}

var testUpgrader = websocket.Upgrader{}

func (r *testRelay) handle(w http.ResponseWriter, req *http.Request) {
	conn, err := testUpgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	peer := &relayPeer{conn: conn}
	defer func() {
		r.drop(peer)
		_ = conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg wireMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		r.route(peer, msg)
	}
}

func (r *testRelay) route(peer *relayPeer, msg wireMessage) {
	switch msg.Event {
	case EventJoinRoom:
		var jr JoinRequest
		if json.Unmarshal(msg.Data, &jr) != nil {
			return
		}
		r.lock.Lock()
		room := r.rooms[jr.RoomID]
		if room == nil {
			room = make(map[string]*relayPeer)
			r.rooms[jr.RoomID] = room
		}
		if r.maxPeers > 0 && len(room) >= r.maxPeers {
			r.lock.Unlock()
			peer.send(EventRoomFull, struct{}{})
			return
		}
		peer.info = ParticipantInfo{
			SocketID:    uuid.NewString(),
			UserID:      jr.UserID,
			DisplayName: jr.DisplayName,
			PhotoURL:    jr.PhotoURL,
		}
		peer.roomID = jr.RoomID
		existing := make([]ParticipantInfo, 0, len(room))
		for _, other := range room {
			existing = append(existing, other.info)
		}
		room[peer.info.SocketID] = peer
		r.lock.Unlock()

		peer.send(EventRoomJoined, RoomJoined{
			RoomID:        jr.RoomID,
			SocketID:      peer.info.SocketID,
			ExistingUsers: existing,
		})
		r.broadcast(peer, EventUserJoined, peer.info)

	case EventSignal:
		var env SignalEnvelope
		if json.Unmarshal(msg.Data, &env) != nil {
			return
		}
		env.From = peer.info.SocketID
		r.lock.Lock()
		target := r.rooms[peer.roomID][env.To]
		r.lock.Unlock()
		if target != nil {
			target.send(EventSignal, env)
		}

	case EventMediaState:
		var update MediaStateUpdate
		if json.Unmarshal(msg.Data, &update) != nil {
			return
		}
		update.SocketID = peer.info.SocketID
		r.broadcast(peer, EventMediaState, update)

	case EventChatMessage:
		var chat ChatMessage
		if json.Unmarshal(msg.Data, &chat) != nil {
			return
		}
		chat.SocketID = peer.info.SocketID
		r.broadcast(peer, EventChatMessage, chat)

	case EventScreenShare:
		var share ScreenShare
		if json.Unmarshal(msg.Data, &share) != nil {
			return
		}
		share.SocketID = peer.info.SocketID
		r.broadcast(peer, EventScreenShare, share)

	case EventLeaveRoom:
		r.drop(peer)
	}
}

func (r *testRelay) broadcast(from *relayPeer, event string, payload interface{}) {
	r.lock.Lock()
	others := make([]*relayPeer, 0)
	for id, other := range r.rooms[from.roomID] {
		if id != from.info.SocketID {
			others = append(others, other)
		}
	}
	r.lock.Unlock()

	for _, other := range others {
		other.send(event, payload)
	}
}

func (r *testRelay) drop(peer *relayPeer) {
	r.lock.Lock()
	room := r.rooms[peer.roomID]
	if room == nil || room[peer.info.SocketID] == nil {
		r.lock.Unlock()
		return
	}
	delete(room, peer.info.SocketID)
	r.lock.Unlock()

	r.broadcast(peer, EventUserLeft, struct {
		SocketID string `json:"socketId"`
	}{peer.info.SocketID})
}

func stableMesh(r *Room, want int) func() bool {
	return func() bool {
		rps := r.GetParticipants()
		if len(rps) != want {
			return false
		}
		for _, rp := range rps {
			pc := rp.Transport().PeerConnection()
			if pc.SignalingState() != webrtc.SignalingStateStable || pc.RemoteDescription() == nil {
				return false
			}
		}
		return true
	}
}

func TestRoom_TwoParticipantMesh(t *testing.T) {
	relay := newTestRelay(t, 0)
	ctx := context.Background()

	connected := make(chan string, 4)
	cb1 := NewRoomCallback()
	cb1.OnParticipantConnected = func(rp *RemoteParticipant) { connected <- rp.SocketID() }

	room1 := NewRoom(cb1, WithICEConfig(testICEConfig))
	require.NoError(t, room1.Join(ctx, relay.URL, JoinInfo{RoomID: "standup", UserID: "u1", DisplayName: "Ana"}))
	t.Cleanup(room1.Leave)

	require.Equal(t, ConnectionStateConnected, room1.ConnectionState())
	require.NotEmpty(t, room1.SocketID())
	// first joiner sees an empty room
	require.Empty(t, room1.GetParticipants())

	room2 := NewRoom(nil, WithICEConfig(testICEConfig))
	require.NoError(t, room2.Join(ctx, relay.URL, JoinInfo{RoomID: "standup", UserID: "u2", DisplayName: "Luis"}))
	t.Cleanup(room2.Leave)

	// the newcomer builds its sessions eagerly from existingUsers
	require.Len(t, room2.GetParticipants(), 1)
	require.Equal(t, room1.SocketID(), room2.GetParticipants()[0].SocketID())

	// the existing member reacts to user:joined
	require.Eventually(t, func() bool {
		return len(room1.GetParticipants()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, room2.SocketID(), room1.GetParticipants()[0].SocketID())

	select {
	case sid := <-connected:
		require.Equal(t, room2.SocketID(), sid)
	case <-time.After(5 * time.Second):
		t.Fatal("OnParticipantConnected never fired")
	}

	// negotiation converges on both ends, glare or not
	require.Eventually(t, stableMesh(room1, 1), 10*time.Second, 20*time.Millisecond)
	require.Eventually(t, stableMesh(room2, 1), 10*time.Second, 20*time.Millisecond)

	// identity propagates with the membership event
	require.Eventually(t, func() bool {
		return room1.GetParticipants()[0].DisplayName() == "Luis"
	}, 5*time.Second, 10*time.Millisecond)

	room2.Leave()
	require.Eventually(t, func() bool {
		return len(room1.GetParticipants()) == 0
	}, 5*time.Second, 10*time.Millisecond)
	require.Empty(t, room2.GetParticipants())
}

func TestRoom_RoomFull(t *testing.T) {
	relay := newTestRelay(t, 1)
	ctx := context.Background()

	room1 := NewRoom(nil, WithICEConfig(testICEConfig))
	require.NoError(t, room1.Join(ctx, relay.URL, JoinInfo{RoomID: "crowded", UserID: "u1", DisplayName: "Ana"}))
	t.Cleanup(room1.Leave)

	fullCb := NewRoomCallback()
	gotFull := make(chan struct{}, 1)
	fullCb.OnRoomFull = func() { gotFull <- struct{}{} }

	room2 := NewRoom(fullCb, WithICEConfig(testICEConfig))
	err := room2.Join(ctx, relay.URL, JoinInfo{RoomID: "crowded", UserID: "u2", DisplayName: "Luis"})
	require.ErrorIs(t, err, ErrRoomFull)
	require.Equal(t, ConnectionStateFull, room2.ConnectionState())
	require.Empty(t, room2.GetParticipants())

	select {
	case <-gotFull:
	case <-time.After(5 * time.Second):
		t.Fatal("OnRoomFull never fired")
	}
}

func TestRoom_MediaStateAndChat(t *testing.T) {
	relay := newTestRelay(t, 0)
	ctx := context.Background()

	chats := make(chan ChatMessage, 8)
	cb2 := NewRoomCallback()
	cb2.OnChatMessage = func(msg ChatMessage) { chats <- msg }

	room1 := NewRoom(nil, WithICEConfig(testICEConfig))
	require.NoError(t, room1.Join(ctx, relay.URL, JoinInfo{RoomID: "demo", UserID: "u1", DisplayName: "Ana"}))
	t.Cleanup(room1.Leave)

	room2 := NewRoom(cb2, WithICEConfig(testICEConfig))
	require.NoError(t, room2.Join(ctx, relay.URL, JoinInfo{RoomID: "demo", UserID: "u2", DisplayName: "Luis"}))
	t.Cleanup(room2.Leave)

	require.Eventually(t, func() bool {
		return len(room1.GetParticipants()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	// mute applies locally first, then reaches the room
	room1.SetMicrophoneEnabled(false)
	require.False(t, room1.LocalParticipant.MediaState().AudioEnabled)
	require.Eventually(t, func() bool {
		rp := room2.GetParticipant(room1.SocketID())
		return rp != nil && !rp.MediaState().AudioEnabled
	}, 5*time.Second, 10*time.Millisecond)

	room1.SetScreenShare(true)
	require.Eventually(t, func() bool {
		rp := room2.GetParticipant(room1.SocketID())
		return rp != nil && rp.MediaState().ScreenSharing
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, room1.SendChatMessage("hola"))
	select {
	case msg := <-chats:
		require.Equal(t, "hola", msg.Message)
		require.Equal(t, "u1", msg.UserID)
	case <-time.After(5 * time.Second):
		t.Fatal("chat message never arrived")
	}
}

func TestRoom_UnknownPeerSignalsDropped(t *testing.T) {
	r := NewRoom(nil, WithICEConfig(testICEConfig))

	candidate := hostCandidate(1)
	require.NotPanics(t, func() {
		r.handleSignal(SignalEnvelope{From: "ghost", Signal: SignalPayload{Type: SignalKindAnswer, SDP: "v=0"}})
		r.handleSignal(SignalEnvelope{From: "ghost", Signal: SignalPayload{Type: SignalKindCandidate, Candidate: &candidate}})
	})
	require.Empty(t, r.GetParticipants())
}

func TestRoom_OfferCreatesSession(t *testing.T) {
	r := NewRoom(nil, WithICEConfig(testICEConfig))
	t.Cleanup(r.teardownSessions)

	src := newTestTransport(t, "zzz", "yyy")
	offers := make(chan webrtc.SessionDescription, 1)
	src.OnOffer = func(sd webrtc.SessionDescription) { offers <- sd }
	offer := recvSD(t, offers, "offer")

	r.handleSignal(SignalEnvelope{From: "ghost", Signal: SignalPayload{Type: SignalKindOffer, SDP: offer.SDP}})
	require.Len(t, r.GetParticipants(), 1)
	require.NotNil(t, r.GetParticipant("ghost"))
}

func TestRoom_EnsureParticipantIdempotent(t *testing.T) {
	r := NewRoom(nil, WithICEConfig(testICEConfig))
	t.Cleanup(r.teardownSessions)

	rp1 := r.ensureParticipant(ParticipantInfo{SocketID: "peer"})
	require.NotNil(t, rp1)
	rp2 := r.ensureParticipant(ParticipantInfo{SocketID: "peer", DisplayName: "Ana"})
	require.Same(t, rp1, rp2)
	require.Same(t, rp1.Transport(), rp2.Transport())
	require.Equal(t, "Ana", rp2.DisplayName())
	require.Len(t, r.GetParticipants(), 1)

	// after teardown a former peer gets a fresh, independent session
	r.teardownSessions()
	require.Empty(t, r.GetParticipants())
	rp3 := r.ensureParticipant(ParticipantInfo{SocketID: "peer"})
	require.NotNil(t, rp3)
	require.NotSame(t, rp1.Transport(), rp3.Transport())
	rp3.close()
}

func TestRoom_MediaStatesBatch(t *testing.T) {
	r := NewRoom(nil, WithICEConfig(testICEConfig))
	t.Cleanup(r.teardownSessions)

	rp := r.ensureParticipant(ParticipantInfo{SocketID: "peer"})
	require.NotNil(t, rp)

	muted := false
	r.handleMediaStates(map[string]MediaStateUpdate{
		"peer":    {AudioEnabled: &muted},
		"unknown": {AudioEnabled: &muted},
	})
	require.False(t, rp.MediaState().AudioEnabled)
	require.True(t, rp.MediaState().VideoEnabled, "untouched fields keep their value")
}
