// Package mentor is the supervising side of a session. It keeps the list of
// children, fans screen sharing out over one link per child and sends remote
// input once a child has granted control.
package mentor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/immxrtalbeast/mentorlink/internal/config"
	"github.com/immxrtalbeast/mentorlink/internal/domain"
	"github.com/immxrtalbeast/mentorlink/internal/peer"
	"github.com/immxrtalbeast/mentorlink/internal/signaling"
	"github.com/immxrtalbeast/mentorlink/lib/logger/sl"
	"github.com/pion/webrtc/v3"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoControl = errors.New("control not granted to this mentor")
	ErrReplaced  = errors.New("another mentor took over the session")
)

type Options struct {
	Peer peer.Options
	// RetryBackoff and RetryLimit bound the re-offers of a failed link.
	RetryBackoff time.Duration
	RetryLimit   int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Peer:         peer.OptionsFromConfig(cfg.WebRTC),
		RetryBackoff: cfg.Signaling.ReconnectBackoff,
		RetryLimit:   cfg.WebRTC.RetryLimit,
	}
}

// Child is one supervised participant as the mentor sees it.
type Child struct {
	ID   string
	Name string
	// Link is empty while no link to the child exists.
	Link peer.Phase
}

type Orchestrator struct {
	ch      signaling.Channel
	peers   *peer.Manager
	control *domain.ControlMirror
	opts    Options
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// UI hooks. They run on signaling and pion goroutines and must not block.
	OnChildren  func([]Child)
	OnControl   func(domain.ControlState)
	OnLinkState func(child string, phase peer.Phase)
	OnTrack     func(child string, kind peer.TrackKind, track *webrtc.TrackRemote)
	OnFrame     func(child string, frame domain.FramePayload)

	mu       sync.Mutex
	children map[string]domain.PeerPayload
	sharing  bool
	retries  map[string]*signaling.Retry
}

func New(ch signaling.Channel, opts Options, log *slog.Logger) (*Orchestrator, error) {
	log = log.With(slog.String("participant_id", ch.ID()), slog.String("role", string(domain.RoleMentor)))
	ctx, cancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		ch:       ch,
		control:  domain.NewControlMirror(),
		opts:     opts,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		children: make(map[string]domain.PeerPayload),
		retries:  make(map[string]*signaling.Retry),
	}
	peers, err := peer.NewManager(ch.ID(), ch, o, opts.Peer, log)
	if err != nil {
		cancel()
		return nil, err
	}
	o.peers = peers
	return o, nil
}

func (o *Orchestrator) Peers() *peer.Manager { return o.peers }

func (o *Orchestrator) ControlState() domain.ControlState { return o.control.State() }

// Children lists the connected children ordered by id.
func (o *Orchestrator) Children() []Child {
	o.mu.Lock()
	out := make([]Child, 0, len(o.children))
	for _, c := range o.children {
		out = append(out, Child{ID: c.ID, Name: c.Name})
	}
	o.mu.Unlock()

	for i := range out {
		if l, ok := o.peers.Link(out[i].ID); ok {
			out[i].Link = l.Phase()
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (o *Orchestrator) Sharing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sharing
}

// Run handles signaling messages until ctx is done, the channel closes or
// this mentor is replaced.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-o.ch.Messages():
			if !ok {
				return signaling.ErrClosed
			}
			if err := o.handle(ctx, msg); err != nil {
				return err
			}
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, msg domain.SignalMessage) error {
	if o.control.Apply(msg) && o.OnControl != nil {
		o.OnControl(o.control.State())
	}

	switch msg.Type {
	case domain.TypeSessionState:
		var state domain.SessionStatePayload
		if err := msg.Decode(&state); err != nil {
			o.log.Debug("bad session state", sl.Err(err))
			return nil
		}
		if state.Self != "" {
			// A join snapshot. Links from an earlier connection are not
			// resumed; the children dropped their side on mentor-left.
			o.dropLinks()
		}
		if state.Participants != nil {
			o.resetRoster(state.Participants)
		}
		share, ok := state.SharedState[domain.SharedScreenShare].(bool)
		switch {
		case state.Self != "":
			o.rejoin(ctx, share, ok)
		case ok && share && !o.setSharing(true):
			_ = o.connectAll(ctx)
		}

	case domain.TypePeerJoined:
		var ref domain.PeerPayload
		if err := msg.Decode(&ref); err != nil || ref.Role != domain.RoleChild {
			return nil
		}
		o.mu.Lock()
		o.children[ref.ID] = ref
		sharing := o.sharing
		o.mu.Unlock()
		o.notifyChildren()
		if sharing {
			if _, err := o.peers.Connect(ctx, ref.ID); err != nil {
				o.log.Warn("failed to offer to new child", slog.String("child", ref.ID), sl.Err(err))
			}
		}

	case domain.TypePeerLeft:
		o.mu.Lock()
		_, known := o.children[msg.From]
		delete(o.children, msg.From)
		delete(o.retries, msg.From)
		o.mu.Unlock()
		o.peers.Remove(msg.From)
		if known {
			o.notifyChildren()
		}

	case domain.TypeMentorReplaced:
		o.log.Warn("replaced by another mentor", slog.String("by", msg.From))
		return ErrReplaced

	case domain.TypeAnswer, domain.TypeICECandidate:
		if err := o.peers.HandleSignal(ctx, msg); err != nil {
			o.log.Warn("signal failed", slog.String("type", string(msg.Type)), slog.String("from", msg.From), sl.Err(err))
		}

	case domain.TypeRenegotiate:
		if !o.isChild(msg.From) {
			return nil
		}
		if _, err := o.peers.Renegotiate(ctx, msg.From); err != nil {
			o.log.Warn("renegotiation failed", slog.String("child", msg.From), sl.Err(err))
		}

	case domain.TypeScreenFrame:
		var frame domain.FramePayload
		if err := msg.Decode(&frame); err != nil {
			o.log.Debug("dropping malformed frame", slog.String("from", msg.From), sl.Err(err))
			return nil
		}
		if o.OnFrame != nil {
			o.OnFrame(msg.From, frame)
		}

	case domain.TypeError:
		var payload domain.ErrorPayload
		_ = msg.Decode(&payload)
		o.log.Warn("signaling error", slog.String("message", payload.Message))
	}
	return nil
}

func (o *Orchestrator) RequestControl(ctx context.Context) error {
	return o.ch.Send(ctx, domain.SignalMessage{Type: domain.TypeControlRequest})
}

func (o *Orchestrator) ReleaseControl(ctx context.Context) error {
	return o.ch.Send(ctx, domain.SignalMessage{Type: domain.TypeControlRelease})
}

// StartScreenShare tells the children to capture and makes sure a link to
// each of them exists. Links are offered in parallel; a child that fails
// does not hold the others back.
func (o *Orchestrator) StartScreenShare(ctx context.Context) error {
	was := o.setSharing(true)
	if err := o.publishSharing(ctx, true); err != nil {
		o.setSharing(was)
		return err
	}
	return o.connectAll(ctx)
}

// StopScreenShare asks the children to stop capturing. Links stay up.
func (o *Orchestrator) StopScreenShare(ctx context.Context) error {
	was := o.setSharing(false)
	if err := o.publishSharing(ctx, false); err != nil {
		o.setSharing(was)
		return err
	}
	return nil
}

func (o *Orchestrator) SendClick(ctx context.Context, x, y float64) error {
	return o.sendEvent(ctx, domain.Click(x, y))
}

func (o *Orchestrator) SendKey(ctx context.Context, key string, modifiers ...string) error {
	return o.sendEvent(ctx, domain.Key(key, modifiers...))
}

func (o *Orchestrator) SendCursor(ctx context.Context, x, y float64) error {
	return o.sendEvent(ctx, domain.CursorMove(x, y))
}

// sendEvent prefers the grantee's data channel and falls back to relaying
// an input-event over signaling while the channel is not open.
func (o *Orchestrator) sendEvent(ctx context.Context, event domain.ControlEvent) error {
	state := o.control.State()
	if !state.IsActive() || state.By != o.ch.ID() {
		return ErrNoControl
	}
	if err := event.Validate(); err != nil {
		return err
	}

	if l, ok := o.peers.Link(state.GrantedTo); ok && l.ChannelOpen() {
		err := l.SendControlEvent(event)
		if err == nil {
			return nil
		}
		o.log.Debug("data channel send failed, relaying", slog.String("child", state.GrantedTo), sl.Err(err))
	}

	msg, err := domain.NewSignal(domain.TypeInputEvent, "", state.GrantedTo, event)
	if err != nil {
		return err
	}
	return o.ch.Send(ctx, msg)
}

func (o *Orchestrator) Close() error {
	o.cancel()
	o.peers.Close()
	return o.ch.Close()
}

func (o *Orchestrator) publishSharing(ctx context.Context, on bool) error {
	msg, err := domain.NewSignal(domain.TypeSessionState, "", "", domain.SessionStatePayload{
		SharedState: map[string]any{domain.SharedScreenShare: on},
	})
	if err != nil {
		return err
	}
	if err := o.ch.Send(ctx, msg); err != nil {
		return fmt.Errorf("publish screen share: %w", err)
	}
	return nil
}

func (o *Orchestrator) connectAll(ctx context.Context) error {
	var g errgroup.Group
	for _, c := range o.Children() {
		id := c.ID
		g.Go(func() error {
			if _, err := o.peers.Connect(ctx, id); err != nil {
				return fmt.Errorf("connect %s: %w", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.log.Warn("screen share fan-out incomplete", sl.Err(err))
		return err
	}
	return nil
}

// setSharing stores on and returns the previous value.
func (o *Orchestrator) setSharing(on bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	was := o.sharing
	o.sharing = on
	return was
}

// rejoin re-offers every link after a fresh join when screen sharing is on,
// either in the session or locally from before the reconnect.
func (o *Orchestrator) rejoin(ctx context.Context, share, known bool) {
	if known {
		o.setSharing(share)
	}
	if !o.Sharing() {
		return
	}
	if !known {
		// The session was recreated while this mentor was away.
		if err := o.publishSharing(ctx, true); err != nil {
			o.log.Warn("failed to restore screen share", sl.Err(err))
		}
	}
	_ = o.connectAll(ctx)
}

func (o *Orchestrator) dropLinks() {
	o.mu.Lock()
	o.retries = make(map[string]*signaling.Retry)
	o.mu.Unlock()
	o.peers.Close()
}

func (o *Orchestrator) resetRoster(participants []domain.PeerPayload) {
	o.mu.Lock()
	o.children = make(map[string]domain.PeerPayload, len(participants))
	for _, p := range participants {
		if p.Role == domain.RoleChild {
			o.children[p.ID] = p
		}
	}
	o.mu.Unlock()
	o.notifyChildren()
}

func (o *Orchestrator) isChild(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.children[id]
	return ok
}

func (o *Orchestrator) notifyChildren() {
	if o.OnChildren != nil {
		o.OnChildren(o.Children())
	}
}

// retry re-offers a failed link with a fixed backoff until it connects,
// the child leaves or the attempts run out.
func (o *Orchestrator) retry(child string) {
	o.mu.Lock()
	r, ok := o.retries[child]
	if !ok {
		r = signaling.NewRetry(o.opts.RetryBackoff, o.opts.RetryLimit)
		o.retries[child] = r
	}
	o.mu.Unlock()

	if !r.Fail(o.ctx) {
		o.log.Warn("giving up on link", slog.String("child", child), slog.Int("failures", r.Failures()))
		return
	}
	if !o.isChild(child) {
		return
	}
	if l, ok := o.peers.Link(child); ok && !l.Phase().Terminal() {
		return
	}
	o.log.Info("re-offering failed link", slog.String("child", child), slog.Int("attempt", r.Failures()))
	if _, err := o.peers.Renegotiate(o.ctx, child); err != nil {
		o.log.Warn("re-offer failed", slog.String("child", child), sl.Err(err))
	}
}

func (o *Orchestrator) OnStateChange(remote string, phase peer.Phase) {
	switch phase {
	case peer.PhaseConnected:
		o.mu.Lock()
		delete(o.retries, remote)
		o.mu.Unlock()
	case peer.PhaseFailed:
		if o.isChild(remote) {
			go o.retry(remote)
		}
	}
	if o.OnLinkState != nil {
		o.OnLinkState(remote, phase)
	}
}

func (o *Orchestrator) OnRemoteTrack(remote string, kind peer.TrackKind, track *webrtc.TrackRemote) {
	o.log.Info("remote track", slog.String("child", remote), slog.String("kind", string(kind)))
	if o.OnTrack != nil {
		o.OnTrack(remote, kind, track)
	}
}

// OnControlEvent drops events from children; control only flows from the
// mentor.
func (o *Orchestrator) OnControlEvent(remote string, event domain.ControlEvent) {
	o.log.Debug("ignoring control event from child", slog.String("child", remote), slog.String("kind", string(event.Kind)))
}
