package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/immxrtalbeast/mentorlink/internal/domain"
	"github.com/immxrtalbeast/mentorlink/lib/logger/sl"
	"github.com/pion/webrtc/v3"
)

// ControlLabel names the data channel carrying control events.
const ControlLabel = "control"

// videoSlots is the number of recvonly video transceivers an offer carries:
// one for the screen capture and one for the camera.
const videoSlots = 2

const signalTimeout = 5 * time.Second

var (
	ErrLinkClosed         = errors.New("peer link closed")
	ErrAlreadyOffered     = errors.New("peer link already negotiated")
	ErrChannelNotOpen     = errors.New("control channel not open")
	ErrNeedsRenegotiation = errors.New("tracks can only be attached before negotiation")
)

type Phase string

const (
	PhaseNew       Phase = "new"
	PhaseOffering  Phase = "offering"
	PhaseAnswering Phase = "answering"
	PhaseConnected Phase = "connected"
	PhaseClosed    Phase = "closed"
	PhaseFailed    Phase = "failed"
)

func (p Phase) Terminal() bool { return p == PhaseClosed || p == PhaseFailed }

// Signaler sends a SignalMessage to the remote participant. A signaling
// Channel satisfies it.
type Signaler interface {
	Send(ctx context.Context, msg domain.SignalMessage) error
}

// Observer receives link events. Callbacks run on pion goroutines and must
// not block.
type Observer interface {
	OnStateChange(remote string, phase Phase)
	OnRemoteTrack(remote string, kind TrackKind, track *webrtc.TrackRemote)
	OnControlEvent(remote string, event domain.ControlEvent)
}

// Link is one WebRTC connection between this participant and remote. It is
// negotiated once; renegotiation means closing it and building a new one.
type Link struct {
	local, remote string
	pc            *webrtc.PeerConnection
	signaler      Signaler
	observer      Observer
	log           *slog.Logger
	onClosed      func(*Link)

	mu      sync.Mutex
	phase   Phase
	dc      *webrtc.DataChannel
	pending []webrtc.ICECandidateInit
	tracks  []webrtc.TrackLocal

	closeOnce sync.Once
}

func newLink(api *webrtc.API, config webrtc.Configuration, local, remote string, signaler Signaler, observer Observer, log *slog.Logger) (*Link, error) {
	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	l := &Link{
		local:    local,
		remote:   remote,
		pc:       pc,
		signaler: signaler,
		observer: observer,
		log:      log.With(slog.String("remote", remote)),
		phase:    PhaseNew,
	}

	pc.OnICECandidate(l.handleLocalCandidate)
	pc.OnConnectionStateChange(l.handleConnectionState)
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := ClassifyTrack(track.StreamID())
		l.log.Debug("remote track", slog.String("stream_id", track.StreamID()), slog.String("kind", string(kind)))
		l.observer.OnRemoteTrack(l.remote, kind, track)
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ControlLabel {
			l.log.Debug("ignoring data channel", slog.String("label", dc.Label()))
			return
		}
		l.bindDataChannel(dc)
	})

	return l, nil
}

func (l *Link) Remote() string { return l.remote }

func (l *Link) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// ChannelOpen reports whether control events can be sent right now.
func (l *Link) ChannelOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dc != nil && l.dc.ReadyState() == webrtc.DataChannelStateOpen
}

// AttachTracks adds local media. It must happen before the description
// this side sends, since links are never renegotiated in place.
func (l *Link) AttachTracks(tracks ...webrtc.TrackLocal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.phase.Terminal():
		return ErrLinkClosed
	case l.phase != PhaseNew:
		return ErrNeedsRenegotiation
	}
	return l.addTracksLocked(tracks)
}

func (l *Link) addTracksLocked(tracks []webrtc.TrackLocal) error {
	for _, track := range tracks {
		sender, err := l.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add track %s: %w", track.StreamID(), err)
		}
		l.tracks = append(l.tracks, track)
		go drainRTCP(sender)
	}
	return nil
}

// CreateOffer opens the control data channel and sends an offer. It may be
// called once per link.
func (l *Link) CreateOffer(ctx context.Context) error {
	l.mu.Lock()
	switch {
	case l.phase.Terminal():
		l.mu.Unlock()
		return ErrLinkClosed
	case l.phase != PhaseNew:
		l.mu.Unlock()
		return ErrAlreadyOffered
	}
	l.phase = PhaseOffering

	dc, err := l.pc.CreateDataChannel(ControlLabel, nil)
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("create data channel: %w", err)
	}
	l.dc = dc
	l.mu.Unlock()
	l.bindDataChannel(dc)

	for i := 0; i < videoSlots; i++ {
		if _, err := l.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add video transceiver: %w", err)
		}
	}

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}

	l.observer.OnStateChange(l.remote, PhaseOffering)
	return l.signal(ctx, domain.TypeOffer, offer)
}

// HandleOffer answers a remote offer. tracks are attached before the answer
// so they ride the offer's video transceivers.
func (l *Link) HandleOffer(ctx context.Context, offer webrtc.SessionDescription, tracks ...webrtc.TrackLocal) error {
	l.mu.Lock()
	switch {
	case l.phase.Terminal():
		l.mu.Unlock()
		return ErrLinkClosed
	case l.phase != PhaseNew:
		l.mu.Unlock()
		return ErrAlreadyOffered
	}
	l.phase = PhaseAnswering

	if err := l.pc.SetRemoteDescription(offer); err != nil {
		l.mu.Unlock()
		return fmt.Errorf("set remote offer: %w", err)
	}
	if err := l.addTracksLocked(tracks); err != nil {
		l.mu.Unlock()
		return err
	}
	l.flushCandidatesLocked()
	l.mu.Unlock()

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}

	l.observer.OnStateChange(l.remote, PhaseAnswering)
	return l.signal(ctx, domain.TypeAnswer, answer)
}

func (l *Link) HandleAnswer(answer webrtc.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.phase.Terminal():
		return ErrLinkClosed
	case l.phase != PhaseOffering:
		return fmt.Errorf("unexpected answer in phase %s", l.phase)
	}
	if err := l.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	l.flushCandidatesLocked()
	return nil
}

// HandleICECandidate adds a trickled candidate. Candidates that arrive
// before the remote description are held until it is set.
func (l *Link) HandleICECandidate(candidate webrtc.ICECandidateInit) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.phase.Terminal() {
		return ErrLinkClosed
	}
	if l.pc.RemoteDescription() == nil {
		l.pending = append(l.pending, candidate)
		return nil
	}
	if err := l.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (l *Link) flushCandidatesLocked() {
	for _, c := range l.pending {
		if err := l.pc.AddICECandidate(c); err != nil {
			l.log.Warn("failed to add buffered candidate", sl.Err(err))
		}
	}
	l.pending = nil
}

// SendControlEvent writes event on the control data channel. Events are not
// queued: before the channel opens they fail with ErrChannelNotOpen.
func (l *Link) SendControlEvent(event domain.ControlEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	data, err := domain.EncodeEvent(event)
	if err != nil {
		return err
	}

	l.mu.Lock()
	dc := l.dc
	closed := l.phase.Terminal()
	l.mu.Unlock()

	switch {
	case closed:
		return ErrLinkClosed
	case dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen:
		return ErrChannelNotOpen
	}
	return dc.SendText(string(data))
}

// Close tears the link down: the data channel first, then the connection.
// Safe to call more than once.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		dc := l.dc
		l.dc = nil
		l.pending = nil
		l.mu.Unlock()

		if dc != nil {
			_ = dc.Close()
		}
		err = l.pc.Close()
		l.setPhase(PhaseClosed)
		if l.onClosed != nil {
			l.onClosed(l)
		}
	})
	return err
}

func (l *Link) bindDataChannel(dc *webrtc.DataChannel) {
	l.mu.Lock()
	l.dc = dc
	l.mu.Unlock()

	dc.OnOpen(func() {
		l.log.Debug("control channel open")
	})
	dc.OnClose(func() {
		l.log.Debug("control channel closed")
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if len(msg.Data) == 0 {
			return
		}
		event, err := domain.DecodeEvent(msg.Data)
		if err != nil {
			l.log.Debug("dropping malformed control event", sl.Err(err))
			return
		}
		l.observer.OnControlEvent(l.remote, event)
	})
}

func (l *Link) handleLocalCandidate(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
	defer cancel()
	if err := l.signal(ctx, domain.TypeICECandidate, c.ToJSON()); err != nil {
		l.log.Debug("failed to send ice candidate", sl.Err(err))
	}
}

func (l *Link) handleConnectionState(state webrtc.PeerConnectionState) {
	l.log.Debug("connection state", slog.String("state", state.String()))
	switch state {
	case webrtc.PeerConnectionStateConnected:
		l.setPhase(PhaseConnected)
	case webrtc.PeerConnectionStateFailed:
		l.log.Warn("peer connection failed")
		l.setPhase(PhaseFailed)
	case webrtc.PeerConnectionStateClosed:
		l.setPhase(PhaseClosed)
	}
}

func (l *Link) setPhase(phase Phase) {
	l.mu.Lock()
	if l.phase == phase || l.phase == PhaseClosed {
		l.mu.Unlock()
		return
	}
	l.phase = phase
	l.mu.Unlock()

	l.observer.OnStateChange(l.remote, phase)
}

func (l *Link) signal(ctx context.Context, t domain.MessageType, payload any) error {
	msg, err := domain.NewSignal(t, l.local, l.remote, payload)
	if err != nil {
		return err
	}
	if err := l.signaler.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %s: %w", t, err)
	}
	return nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
