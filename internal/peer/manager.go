package peer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/immxrtalbeast/mentorlink/internal/domain"
	"github.com/pion/webrtc/v3"
)

// TrackSource supplies the local tracks attached when answering remote.
type TrackSource func(remote string) []webrtc.TrackLocal

// Manager owns the links of one participant, one per remote participant.
type Manager struct {
	local    string
	api      *webrtc.API
	config   webrtc.Configuration
	signaler Signaler
	observer Observer
	log      *slog.Logger

	mu     sync.Mutex
	links  map[string]*Link
	tracks TrackSource
}

func NewManager(local string, signaler Signaler, observer Observer, opts Options, log *slog.Logger) (*Manager, error) {
	log = log.With(slog.String("op", "peer.manager"), slog.String("local", local))
	api, err := newAPI(opts, log)
	if err != nil {
		return nil, err
	}
	return &Manager{
		local:    local,
		api:      api,
		config:   opts.configuration(),
		signaler: signaler,
		observer: observer,
		log:      log,
		links:    make(map[string]*Link),
	}, nil
}

// SetTrackSource installs the provider consulted on every incoming offer.
func (m *Manager) SetTrackSource(src TrackSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks = src
}

func (m *Manager) Link(remote string) (*Link, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[remote]
	return l, ok
}

// Remotes lists the participants with a live link.
func (m *Manager) Remotes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.links))
	for id := range m.links {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Connect returns the live link to remote, offering a new one when there is
// none or the previous one failed.
func (m *Manager) Connect(ctx context.Context, remote string) (*Link, error) {
	m.mu.Lock()
	if l, ok := m.links[remote]; ok && !l.Phase().Terminal() {
		m.mu.Unlock()
		return l, nil
	}
	m.mu.Unlock()
	return m.Renegotiate(ctx, remote)
}

// Renegotiate tears down any link to remote and offers a fresh one.
func (m *Manager) Renegotiate(ctx context.Context, remote string) (*Link, error) {
	l, err := m.replace(remote)
	if err != nil {
		return nil, err
	}
	if err := l.CreateOffer(ctx); err != nil {
		_ = l.Close()
		return nil, err
	}
	m.log.Info("offer sent", slog.String("remote", remote))
	return l, nil
}

// HandleSignal applies offer, answer and ice-candidate messages from
// remote participants. Other types are ignored.
func (m *Manager) HandleSignal(ctx context.Context, msg domain.SignalMessage) error {
	switch msg.Type {
	case domain.TypeOffer:
		var offer webrtc.SessionDescription
		if err := msg.Decode(&offer); err != nil {
			return err
		}
		l, err := m.replace(msg.From)
		if err != nil {
			return err
		}
		m.mu.Lock()
		src := m.tracks
		m.mu.Unlock()
		var tracks []webrtc.TrackLocal
		if src != nil {
			tracks = src(msg.From)
		}
		if err := l.HandleOffer(ctx, offer, tracks...); err != nil {
			_ = l.Close()
			return err
		}
		m.log.Info("answer sent", slog.String("remote", msg.From), slog.Int("tracks", len(tracks)))
		return nil

	case domain.TypeAnswer:
		var answer webrtc.SessionDescription
		if err := msg.Decode(&answer); err != nil {
			return err
		}
		l, ok := m.Link(msg.From)
		if !ok {
			m.log.Debug("answer for unknown link", slog.String("remote", msg.From))
			return nil
		}
		return l.HandleAnswer(answer)

	case domain.TypeICECandidate:
		var candidate webrtc.ICECandidateInit
		if err := msg.Decode(&candidate); err != nil {
			return err
		}
		l, ok := m.Link(msg.From)
		if !ok {
			m.log.Debug("candidate for unknown link", slog.String("remote", msg.From))
			return nil
		}
		return l.HandleICECandidate(candidate)
	}
	return nil
}

// Remove closes the link to remote, if any.
func (m *Manager) Remove(remote string) {
	m.mu.Lock()
	l, ok := m.links[remote]
	delete(m.links, remote)
	m.mu.Unlock()
	if ok {
		_ = l.Close()
	}
}

func (m *Manager) Close() {
	m.mu.Lock()
	links := m.links
	m.links = make(map[string]*Link)
	m.mu.Unlock()
	for _, l := range links {
		_ = l.Close()
	}
}

func (m *Manager) replace(remote string) (*Link, error) {
	if remote == "" {
		return nil, fmt.Errorf("link without remote participant")
	}
	l, err := newLink(m.api, m.config, m.local, remote, m.signaler, m.observer, m.log)
	if err != nil {
		return nil, err
	}
	l.onClosed = m.forget

	m.mu.Lock()
	previous := m.links[remote]
	m.links[remote] = l
	m.mu.Unlock()

	if previous != nil {
		m.log.Debug("tearing down previous link", slog.String("remote", remote))
		_ = previous.Close()
	}
	return l, nil
}

// forget drops l from the table unless it has already been replaced.
func (m *Manager) forget(l *Link) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.links[l.remote] == l {
		delete(m.links, l.remote)
	}
}
