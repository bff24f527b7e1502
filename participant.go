package meetsdk

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/atomic"
)

type Participant interface {
	SocketID() string
	UserID() string
	DisplayName() string
	PhotoURL() string
	IsSpeaking() bool
	MediaState() MediaState

	// SetIsSpeaking is driven by the presentation layer from audio
	// levels; the SDK only stores and fans out the flag.
	SetIsSpeaking(speaking bool)
}

type baseParticipant struct {
	lock       sync.Mutex
	info       ParticipantInfo
	mediaState MediaState
	isSpeaking *atomic.Bool

	Callback     *ParticipantCallback
	roomCallback *RoomCallback
}

func newBaseParticipant(info ParticipantInfo, roomCallback *RoomCallback) baseParticipant {
	return baseParticipant{
		info: info,
		mediaState: MediaState{
			AudioEnabled: true,
			VideoEnabled: true,
		},
		isSpeaking:   atomic.NewBool(false),
		Callback:     NewParticipantCallback(),
		roomCallback: roomCallback,
	}
}

func (p *baseParticipant) SocketID() string {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.info.SocketID
}

func (p *baseParticipant) UserID() string {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.info.UserID
}

func (p *baseParticipant) DisplayName() string {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.info.DisplayName
}

func (p *baseParticipant) PhotoURL() string {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.info.PhotoURL
}

func (p *baseParticipant) Info() ParticipantInfo {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.info
}

func (p *baseParticipant) MediaState() MediaState {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.mediaState
}

func (p *baseParticipant) IsSpeaking() bool {
	return p.isSpeaking.Load()
}

func (p *baseParticipant) updateInfo(pi ParticipantInfo) {
	p.lock.Lock()
	defer p.lock.Unlock()
	// identity may arrive after the session when an offer creates the
	// participant; never blank out known fields
	if pi.UserID != "" {
		p.info.UserID = pi.UserID
	}
	if pi.DisplayName != "" {
		p.info.DisplayName = pi.DisplayName
	}
	if pi.PhotoURL != "" {
		p.info.PhotoURL = pi.PhotoURL
	}
}

func (p *baseParticipant) setSocketID(socketID string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.info.SocketID = socketID
}

func (p *baseParticipant) applyMediaUpdate(u MediaStateUpdate) MediaState {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.mediaState = p.mediaState.apply(u)
	return p.mediaState
}

// RemoteParticipant is a room member with its own peer connection.
type RemoteParticipant struct {
	baseParticipant

	transport *PeerTransport

	trackLock sync.Mutex
	tracks    []*webrtc.TrackRemote
}

func newRemoteParticipant(info ParticipantInfo, roomCallback *RoomCallback, transport *PeerTransport) *RemoteParticipant {
	rp := &RemoteParticipant{
		baseParticipant: newBaseParticipant(info, roomCallback),
		transport:       transport,
	}

	transport.OnTrack = func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		rp.addTrack(track)
		rp.Callback.OnTrackSubscribed(track, rp)
		rp.roomCallback.OnTrackSubscribed(track, rp)
	}

	return rp
}

func (p *RemoteParticipant) SetIsSpeaking(speaking bool) {
	if !p.isSpeaking.CompareAndSwap(!speaking, speaking) {
		return
	}
	p.Callback.OnIsSpeakingChanged(p)
	p.roomCallback.OnIsSpeakingChanged(p)
}

// Transport exposes the negotiation state machine owning this
// participant's connection.
func (p *RemoteParticipant) Transport() *PeerTransport {
	return p.transport
}

func (p *RemoteParticipant) addTrack(track *webrtc.TrackRemote) {
	p.trackLock.Lock()
	defer p.trackLock.Unlock()
	p.tracks = append(p.tracks, track)
}

// Tracks returns the live media received from this participant. The
// returned tracks are invalid once the participant leaves.
func (p *RemoteParticipant) Tracks() []*webrtc.TrackRemote {
	p.trackLock.Lock()
	defer p.trackLock.Unlock()
	out := make([]*webrtc.TrackRemote, len(p.tracks))
	copy(out, p.tracks)
	return out
}

func (p *RemoteParticipant) close() {
	p.transport.Close()
	p.trackLock.Lock()
	p.tracks = nil
	p.trackLock.Unlock()
}

// LocalParticipant holds the local identity and capture tracks shared
// across every peer connection.
type LocalParticipant struct {
	baseParticipant

	trackLock sync.Mutex
	tracks    []webrtc.TrackLocal
}

func newLocalParticipant(roomCallback *RoomCallback) *LocalParticipant {
	return &LocalParticipant{
		baseParticipant: newBaseParticipant(ParticipantInfo{}, roomCallback),
	}
}

func (p *LocalParticipant) SetIsSpeaking(speaking bool) {
	if !p.isSpeaking.CompareAndSwap(!speaking, speaking) {
		return
	}
	p.Callback.OnIsSpeakingChanged(p)
	p.roomCallback.OnIsSpeakingChanged(p)
}

// addTracks registers capture tracks, deduplicated by track id.
func (p *LocalParticipant) addTracks(tracks ...webrtc.TrackLocal) []webrtc.TrackLocal {
	p.trackLock.Lock()
	defer p.trackLock.Unlock()

	known := make(map[string]bool, len(p.tracks))
	for _, t := range p.tracks {
		known[t.ID()] = true
	}
	for _, t := range tracks {
		if known[t.ID()] {
			continue
		}
		p.tracks = append(p.tracks, t)
	}

	out := make([]webrtc.TrackLocal, len(p.tracks))
	copy(out, p.tracks)
	return out
}

func (p *LocalParticipant) Tracks() []webrtc.TrackLocal {
	p.trackLock.Lock()
	defer p.trackLock.Unlock()
	out := make([]webrtc.TrackLocal, len(p.tracks))
	copy(out, p.tracks)
	return out
}
