// Package child runs the supervised side of a session: it answers the
// mentor's links, shares the screen and executes granted remote input.
package child

import (
	"context"
	"log/slog"
	"sync"

	"github.com/immxrtalbeast/mentorlink/internal/config"
	"github.com/immxrtalbeast/mentorlink/internal/desktop"
	"github.com/immxrtalbeast/mentorlink/internal/domain"
	"github.com/immxrtalbeast/mentorlink/internal/peer"
	"github.com/immxrtalbeast/mentorlink/internal/signaling"
	"github.com/immxrtalbeast/mentorlink/lib/logger/sl"
	"github.com/pion/webrtc/v3"
)

type Options struct {
	Peer    peer.Options
	Capture CaptureOptions
}

// OptionsFromConfig builds agent options from the client configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Peer: peer.OptionsFromConfig(cfg.WebRTC),
		Capture: CaptureOptions{
			FrameInterval: cfg.Capture.FrameInterval,
			JPEGQuality:   cfg.Capture.JPEGQuality,
		},
	}
}

// Agent drives a child participant from its signaling channel.
type Agent struct {
	ch      signaling.Channel
	peers   *peer.Manager
	control *domain.ControlMirror
	exec    *Executor
	capture *Producer
	log     *slog.Logger

	// OnPrompt is called when a mentor asks for control; answer with Accept
	// or Reject.
	OnPrompt func(mentor string)
	// OnControl is called with every control state change.
	OnControl func(domain.ControlState)

	mu     sync.Mutex
	mentor string
	prompt string
}

func NewAgent(ch signaling.Channel, shell desktop.Shell, opts Options, log *slog.Logger) (*Agent, error) {
	log = log.With(slog.String("participant_id", ch.ID()), slog.String("role", string(domain.RoleChild)))
	control := domain.NewControlMirror()

	a := &Agent{
		ch:      ch,
		control: control,
		exec:    NewExecutor(ch.ID(), shell, control, log),
		capture: NewProducer(ch.ID(), shell, ch, opts.Capture, log),
		log:     log,
	}
	peers, err := peer.NewManager(ch.ID(), ch, a, opts.Peer, log)
	if err != nil {
		return nil, err
	}
	peers.SetTrackSource(func(string) []webrtc.TrackLocal { return a.capture.Tracks() })
	a.peers = peers
	return a, nil
}

func (a *Agent) Executor() *Executor  { return a.exec }
func (a *Agent) Capture() *Producer   { return a.capture }
func (a *Agent) Peers() *peer.Manager { return a.peers }

func (a *Agent) ControlState() domain.ControlState { return a.control.State() }

func (a *Agent) Mentor() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mentor
}

// Run handles signaling messages until ctx is done or the channel closes.
func (a *Agent) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-a.ch.Messages():
			if !ok {
				return signaling.ErrClosed
			}
			a.handle(ctx, msg)
		}
	}
}

func (a *Agent) handle(ctx context.Context, msg domain.SignalMessage) {
	if a.control.Apply(msg) && a.OnControl != nil {
		a.OnControl(a.control.State())
	}

	switch msg.Type {
	case domain.TypeSessionState:
		var state domain.SessionStatePayload
		if err := msg.Decode(&state); err != nil {
			a.log.Debug("bad session state", sl.Err(err))
			return
		}
		if state.Participants != nil {
			a.setMentor("")
			for _, p := range state.Participants {
				if p.Role == domain.RoleMentor {
					a.setMentor(p.ID)
				}
			}
		}
		a.syncScreenShare(ctx, state.SharedState)

	case domain.TypePeerJoined:
		var ref domain.PeerPayload
		if err := msg.Decode(&ref); err == nil && ref.Role == domain.RoleMentor {
			a.setMentor(ref.ID)
		}

	case domain.TypePeerLeft, domain.TypeMentorLeft:
		if msg.From == a.Mentor() {
			a.setMentor("")
		}
		a.peers.Remove(msg.From)

	case domain.TypeControlRequest:
		a.mu.Lock()
		a.prompt = msg.From
		a.mu.Unlock()
		if a.OnPrompt != nil {
			a.OnPrompt(msg.From)
		}

	case domain.TypeControlGranted, domain.TypeControlRejected, domain.TypeControlReleased:
		a.mu.Lock()
		a.prompt = ""
		a.mu.Unlock()

	case domain.TypeOffer, domain.TypeAnswer, domain.TypeICECandidate:
		if err := a.peers.HandleSignal(ctx, msg); err != nil {
			a.log.Warn("signal failed", slog.String("type", string(msg.Type)), slog.String("from", msg.From), sl.Err(err))
		}

	case domain.TypeInputEvent:
		var event domain.ControlEvent
		if err := msg.Decode(&event); err != nil {
			a.log.Debug("dropping malformed input event", sl.Err(err))
			return
		}
		a.exec.Execute(ctx, msg.From, event)

	case domain.TypeError:
		var payload domain.ErrorPayload
		_ = msg.Decode(&payload)
		a.log.Warn("signaling error", slog.String("message", payload.Message))
	}
}

// Pending returns the mentor whose control request is still unanswered.
func (a *Agent) Pending() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.prompt
}

func (a *Agent) Accept(ctx context.Context) error {
	return a.ch.Send(ctx, domain.SignalMessage{Type: domain.TypeControlAccept})
}

func (a *Agent) Reject(ctx context.Context) error {
	return a.ch.Send(ctx, domain.SignalMessage{Type: domain.TypeControlReject})
}

// ReleaseControl gives the grant back from the child side.
func (a *Agent) ReleaseControl(ctx context.Context) error {
	return a.ch.Send(ctx, domain.SignalMessage{Type: domain.TypeControlRelease})
}

// StartCapture starts sharing. A link negotiated before the stream existed
// carries no tracks, so the mentor is asked to renegotiate it.
func (a *Agent) StartCapture(ctx context.Context) (CaptureStatus, error) {
	status, err := a.capture.Start(ctx)
	if err != nil || status != CaptureStreaming {
		return status, err
	}

	mentor := a.Mentor()
	if mentor == "" {
		return status, nil
	}
	if l, ok := a.peers.Link(mentor); ok && l.Phase() != peer.PhaseNew {
		a.log.Info("requesting renegotiation to attach capture", slog.String("mentor", mentor))
		if err := a.ch.Send(ctx, domain.SignalMessage{Type: domain.TypeRenegotiate, To: mentor}); err != nil {
			return status, err
		}
	}
	return status, nil
}

// StopCapture stops sharing without closing any link.
func (a *Agent) StopCapture() { a.capture.Stop() }

func (a *Agent) Close() error {
	a.capture.Stop()
	a.peers.Close()
	return a.ch.Close()
}

func (a *Agent) syncScreenShare(ctx context.Context, shared map[string]any) {
	want, ok := shared[domain.SharedScreenShare].(bool)
	if !ok {
		return
	}
	switch status := a.capture.Status(); {
	case want && (status == CaptureIdle):
		if _, err := a.StartCapture(ctx); err != nil {
			a.log.Warn("screen share requested but capture failed", sl.Err(err))
		}
	case !want && (status == CaptureStreaming || status == CapturePolling):
		a.StopCapture()
	}
}

func (a *Agent) setMentor(id string) {
	a.mu.Lock()
	a.mentor = id
	a.mu.Unlock()
	a.capture.SetTarget(id)
}

func (a *Agent) OnStateChange(remote string, phase peer.Phase) {
	a.log.Debug("link state", slog.String("remote", remote), slog.String("phase", string(phase)))
}

func (a *Agent) OnRemoteTrack(remote string, kind peer.TrackKind, _ *webrtc.TrackRemote) {
	a.log.Debug("ignoring remote track", slog.String("remote", remote), slog.String("kind", string(kind)))
}

func (a *Agent) OnControlEvent(remote string, event domain.ControlEvent) {
	a.exec.Execute(context.Background(), remote, event)
}
