package meetsdk

import (
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/frostbyte73/core"
	"github.com/gammazero/deque"
	"github.com/pion/webrtc/v4"
	"go.uber.org/atomic"
)

const (
	negotiationFrequency = 150 * time.Millisecond
)

// PeerTransport owns the single peer connection toward one remote
// participant and drives it through the perfect-negotiation protocol.
// Glare is broken deterministically: the side with the lexicographically
// smaller socket id is polite and rolls back its in-flight offer, the
// other side discards the colliding offer and keeps its own.
type PeerTransport struct {
	pc       *webrtc.PeerConnection
	localID  string
	remoteID string
	polite   bool

	lock                sync.Mutex
	pendingCandidates   deque.Deque[webrtc.ICECandidateInit]
	makingOffer         *atomic.Bool
	settingRemoteAnswer *atomic.Bool
	renegotiate         bool
	debouncedNegotiate  func(func())
	closed              core.Fuse

	OnOffer                 func(sd webrtc.SessionDescription)
	OnAnswer                func(sd webrtc.SessionDescription)
	OnICECandidate          func(init webrtc.ICECandidateInit)
	OnTrack                 func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	OnConnectionStateChange func(state webrtc.PeerConnectionState)
}

// NewPeerTransport creates the native connection for a remote peer.
// Receive-capable audio and video transceivers are declared up front so
// the connection can carry the remote side's media before any local
// tracks exist.
func NewPeerTransport(localID, remoteID string, conf webrtc.Configuration) (*PeerTransport, error) {
	pc, err := webrtc.NewPeerConnection(conf)
	if err != nil {
		return nil, err
	}

	t := &PeerTransport{
		pc:                  pc,
		localID:             localID,
		remoteID:            remoteID,
		polite:              strings.Compare(localID, remoteID) < 0,
		makingOffer:         atomic.NewBool(false),
		settingRemoteAnswer: atomic.NewBool(false),
		debouncedNegotiate:  debounce.New(negotiationFrequency),
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			// end-of-candidates, nothing to relay
			return
		}
		if f := t.OnICECandidate; f != nil {
			f(candidate.ToJSON())
		}
	})
	pc.OnNegotiationNeeded(t.Negotiate)
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if f := t.OnTrack; f != nil {
			f(track, receiver)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if f := t.OnConnectionStateChange; f != nil {
			f(state)
		}
	})

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		_ = pc.Close()
		return nil, err
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		_ = pc.Close()
		return nil, err
	}

	return t, nil
}

func (t *PeerTransport) PeerConnection() *webrtc.PeerConnection {
	return t.pc
}

func (t *PeerTransport) RemoteID() string {
	return t.remoteID
}

func (t *PeerTransport) Polite() bool {
	return t.polite
}

func (t *PeerTransport) IsConnected() bool {
	return t.pc.ConnectionState() == webrtc.PeerConnectionStateConnected
}

// Negotiate schedules an offer. Calls are debounced so bursts of
// renegotiation triggers collapse into one offer.
func (t *PeerTransport) Negotiate() {
	t.debouncedNegotiate(func() {
		if err := t.createAndSendOffer(); err != nil {
			logger.Error(err, "could not negotiate", "remote", t.remoteID)
		}
	})
}

func (t *PeerTransport) createAndSendOffer() error {
	if t.OnOffer == nil || t.closed.IsBroken() {
		return nil
	}
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.makingOffer.Load() || t.pc.SignalingState() != webrtc.SignalingStateStable {
		// an exchange is already in flight, try again once it settles
		t.renegotiate = true
		return nil
	}

	t.makingOffer.Store(true)
	defer t.makingOffer.Store(false)

	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return err
	}
	if f := t.OnOffer; f != nil {
		f(offer)
	}
	return nil
}

// HandleOffer applies a remote offer and sends back an answer. On
// glare the impolite side drops the offer and re-arms negotiation so
// both ends still converge; the polite side rolls back its own offer
// first.
func (t *PeerTransport) HandleOffer(sd webrtc.SessionDescription) error {
	if t.closed.IsBroken() {
		return nil
	}
	t.lock.Lock()
	defer t.lock.Unlock()

	collision := t.makingOffer.Load() ||
		(t.pc.SignalingState() != webrtc.SignalingStateStable && !t.settingRemoteAnswer.Load())
	if collision {
		if !t.polite {
			logger.V(1).Info("ignoring colliding offer", "remote", t.remoteID)
			t.renegotiate = true
			return nil
		}
		if err := t.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			return err
		}
	}

	if err := t.setRemoteDescriptionLocked(sd); err != nil {
		return err
	}

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return err
	}
	if f := t.OnAnswer; f != nil {
		f(answer)
	}
	return nil
}

// HandleAnswer applies a remote answer to our outstanding offer.
func (t *PeerTransport) HandleAnswer(sd webrtc.SessionDescription) error {
	if t.closed.IsBroken() {
		return nil
	}
	t.lock.Lock()
	defer t.lock.Unlock()

	t.settingRemoteAnswer.Store(true)
	defer t.settingRemoteAnswer.Store(false)

	return t.setRemoteDescriptionLocked(sd)
}

// setRemoteDescriptionLocked applies sd, then drains buffered
// candidates in arrival order and fires any deferred renegotiation.
func (t *PeerTransport) setRemoteDescriptionLocked(sd webrtc.SessionDescription) error {
	if err := t.pc.SetRemoteDescription(sd); err != nil {
		return err
	}

	for t.pendingCandidates.Len() > 0 {
		candidate := t.pendingCandidates.PopFront()
		if err := t.pc.AddICECandidate(candidate); err != nil {
			logger.Error(err, "could not add buffered candidate", "remote", t.remoteID)
		}
	}

	if t.renegotiate {
		t.renegotiate = false
		go t.Negotiate()
	}
	return nil
}

// AddICECandidate applies a trickled candidate, buffering it until the
// remote description exists. Ordering relative to the description is
// restored here, so the relay does not need to deliver in order.
func (t *PeerTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if t.closed.IsBroken() {
		return nil
	}
	if candidate.Candidate == "" {
		return nil
	}
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.pc.RemoteDescription() == nil {
		t.pendingCandidates.PushBack(candidate)
		return nil
	}
	return t.pc.AddICECandidate(candidate)
}

// AttachLocalTracks adds local tracks not yet present on this
// connection's senders, deduplicated by track id. Attaching an
// already-sent track is a no-op, so late media can be attached to
// every live connection without duplicating senders.
func (t *PeerTransport) AttachLocalTracks(tracks ...webrtc.TrackLocal) error {
	if t.closed.IsBroken() {
		return ErrTransportClosed
	}

	sending := make(map[string]bool)
	for _, sender := range t.pc.GetSenders() {
		if track := sender.Track(); track != nil {
			sending[track.ID()] = true
		}
	}

	for _, track := range tracks {
		if sending[track.ID()] {
			continue
		}
		if _, err := t.pc.AddTrack(track); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the native connection. Safe to call repeatedly and
// with negotiation in flight.
func (t *PeerTransport) Close() {
	t.closed.Once(func() {
		if err := t.pc.Close(); err != nil {
			logger.Error(err, "could not close peer connection", "remote", t.remoteID)
		}
	})
}
