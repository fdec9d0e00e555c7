package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/mentorlink/internal/domain"
	"github.com/immxrtalbeast/mentorlink/internal/metrics"
	"github.com/immxrtalbeast/mentorlink/internal/repository"
	"github.com/immxrtalbeast/mentorlink/lib/logger/sl"
)

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrInvalidRole         = errors.New("role must be mentor or child")
	ErrInvalidSession      = errors.New("invalid session code")
	ErrUnsupportedType     = errors.New("unsupported signal type")
)

const maxDisplayNameLength = 64

type JoinRequest struct {
	SessionID     string
	ParticipantID string
	DisplayName   string
	Role          domain.Role
}

// SessionRegistry owns every live session. Each session is mutated only
// while its Mutex is held, and notifications are queued before the lock is
// released, so every participant observes control transitions in the order
// they were applied.
type SessionRegistry struct {
	sessions   repository.SessionRepository
	metrics    *metrics.Metrics
	log        *slog.Logger
	outboxSize int
}

func NewSessionRegistry(sessions repository.SessionRepository, m *metrics.Metrics, outboxSize int, log *slog.Logger) *SessionRegistry {
	if log == nil {
		log = slog.Default()
	}
	return &SessionRegistry{
		sessions:   sessions,
		metrics:    m,
		log:        log,
		outboxSize: outboxSize,
	}
}

// CreateSession allocates an empty session under a fresh code. A session
// nobody joins within lifetime is collected; zero keeps it until the first
// join and leave.
func (r *SessionRegistry) CreateSession(ctx context.Context, lifetime time.Duration) (domain.SessionStatePayload, error) {
	for {
		session := domain.NewSession(domain.GenerateCode())
		if lifetime > 0 {
			session.ExpiresAt = session.CreatedAt.Add(lifetime)
		}
		if err := r.sessions.Create(ctx, session); err != nil {
			if errors.Is(err, repository.ErrSessionExists) {
				continue
			}
			return domain.SessionStatePayload{}, err
		}
		r.metrics.SessionOpened()
		r.log.Info("session created", slog.String("session_id", session.ID))

		session.Mutex.Lock()
		defer session.Mutex.Unlock()
		return session.Snapshot(""), nil
	}
}

func (r *SessionRegistry) GetSession(ctx context.Context, id string) (domain.SessionStatePayload, error) {
	session, err := r.lookup(ctx, id)
	if err != nil {
		return domain.SessionStatePayload{}, err
	}
	session.Mutex.Lock()
	defer session.Mutex.Unlock()
	return session.Snapshot(""), nil
}

// Join registers a participant, creating the session when absent. The
// joiner's outbox starts with a session-state snapshot; everybody else
// receives peer-joined.
func (r *SessionRegistry) Join(ctx context.Context, req JoinRequest) (*domain.Participant, domain.SessionStatePayload, error) {
	const op = "service.session.join"

	code := domain.NormalizeCode(req.SessionID)
	if !domain.ValidCode(code) {
		return nil, domain.SessionStatePayload{}, ErrInvalidSession
	}
	if !req.Role.Valid() {
		return nil, domain.SessionStatePayload{}, ErrInvalidRole
	}
	if req.ParticipantID == "" {
		req.ParticipantID = uuid.NewString()
	}
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		name = string(req.Role)
	}
	if utf8.RuneCountInString(name) > maxDisplayNameLength {
		name = string([]rune(name)[:maxDisplayNameLength])
	}

	log := r.log.With(
		slog.String("op", op),
		slog.String("session_id", code),
		slog.String("participant_id", req.ParticipantID),
		slog.String("role", string(req.Role)),
	)

	for {
		session, created, err := r.sessions.GetOrCreate(ctx, code)
		if err != nil {
			log.Error("failed to get session", sl.Err(err))
			return nil, domain.SessionStatePayload{}, err
		}
		if created {
			r.metrics.SessionOpened()
		}

		session.Mutex.Lock()
		if session.Closed {
			// Lost a race with the last leaver; the store has already
			// forgotten this instance.
			session.Mutex.Unlock()
			continue
		}

		if existing, ok := session.Lookup(req.ParticipantID); ok {
			log.Info("participant rejoined, dropping previous connection")
			r.removeLocked(session, existing)
		}

		p := domain.NewParticipant(req.ParticipantID, name, req.Role, r.outboxSize)

		switch req.Role {
		case domain.RoleMentor:
			if previous := session.Mentor; previous != nil {
				log.Warn("mentor slot already taken, replacing previous mentor",
					slog.String("previous_id", previous.ID))
				r.replaceMentorLocked(session, previous, p)
			}
			session.Mentor = p
		case domain.RoleChild:
			session.Children[p.ID] = p
		}

		snapshot := session.Snapshot(p.ID)
		p.Enqueue(domain.MustSignal(domain.TypeSessionState, "", p.ID, snapshot))

		if req.Role == domain.RoleChild && session.Control.Prompt(p.ID) {
			control := session.Control.State()
			p.Enqueue(domain.MustSignal(domain.TypeControlRequest, control.By, p.ID, domain.ControlPayload{Control: control}))
		}

		r.broadcastLocked(session, domain.MustSignal(domain.TypePeerJoined, p.ID, "", p.Ref()), p.ID)
		session.Mutex.Unlock()

		p.SetStatus(domain.StatusConnected)
		r.metrics.ParticipantJoined(string(p.Role))
		log.Info("participant joined", slog.String("name", name))
		return p, snapshot, nil
	}
}

// Leave removes whichever participant currently holds participantID.
func (r *SessionRegistry) Leave(ctx context.Context, sessionID, participantID string) error {
	session, err := r.lookup(ctx, sessionID)
	if err != nil {
		return err
	}

	session.Mutex.Lock()
	p, ok := session.Lookup(participantID)
	if !ok {
		session.Mutex.Unlock()
		return ErrParticipantNotFound
	}
	r.removeLocked(session, p)
	session.Mutex.Unlock()

	r.collect(ctx, session)
	return nil
}

// Disconnect is Leave for a specific connection: it is a no-op when p has
// already been replaced by a newer join under the same id.
func (r *SessionRegistry) Disconnect(ctx context.Context, sessionID string, p *domain.Participant) {
	session, err := r.lookup(ctx, sessionID)
	if err != nil {
		p.Close()
		return
	}

	session.Mutex.Lock()
	current, ok := session.Lookup(p.ID)
	if ok && current == p {
		r.removeLocked(session, p)
	}
	session.Mutex.Unlock()
	p.Close()

	r.collect(ctx, session)
}

// HandleSignal processes one message from participant from. The sender id
// is taken from the connection, never from the message body.
func (r *SessionRegistry) HandleSignal(ctx context.Context, sessionID, from string, msg domain.SignalMessage) error {
	const op = "service.session.signal"
	log := r.log.With(
		slog.String("op", op),
		slog.String("session_id", sessionID),
		slog.String("participant_id", from),
		slog.String("type", string(msg.Type)),
	)
	log.Debug("new signal", slog.String("to", msg.To))

	msg.From = from

	switch {
	case msg.Type.IsRelayed():
		r.Relay(ctx, sessionID, msg)
		return nil
	case msg.Type == domain.TypeControlRequest:
		_, err := r.RequestControl(ctx, sessionID, from)
		return err
	case msg.Type == domain.TypeControlAccept:
		_, err := r.AcceptControl(ctx, sessionID, from)
		return err
	case msg.Type == domain.TypeControlReject:
		_, err := r.RejectControl(ctx, sessionID, from)
		return err
	case msg.Type == domain.TypeControlRelease:
		_, err := r.ReleaseControl(ctx, sessionID, from)
		return err
	case msg.Type == domain.TypeSessionState:
		var patch domain.SessionStatePayload
		if err := msg.Decode(&patch); err != nil {
			return err
		}
		return r.UpdateSharedState(ctx, sessionID, from, patch.SharedState)
	default:
		log.Warn("dropping unsupported signal")
		return ErrUnsupportedType
	}
}

// Relay forwards msg verbatim to msg.To. Unknown sessions or recipients and
// full outboxes are logged and dropped; session state is never touched.
func (r *SessionRegistry) Relay(ctx context.Context, sessionID string, msg domain.SignalMessage) {
	log := r.log.With(
		slog.String("op", "service.session.relay"),
		slog.String("session_id", sessionID),
		slog.String("type", string(msg.Type)),
		slog.String("from", msg.From),
		slog.String("to", msg.To),
	)

	if msg.To == "" {
		r.metrics.Dropped(metrics.DropNoRecipient)
		log.Debug("dropping relay without recipient")
		return
	}

	session, err := r.lookup(ctx, sessionID)
	if err != nil {
		r.metrics.Dropped(metrics.DropUnknownSession)
		log.Debug("dropping relay for unknown session")
		return
	}

	session.Mutex.Lock()
	target, ok := session.Lookup(msg.To)
	var delivered bool
	if ok {
		delivered = target.Enqueue(msg)
	}
	session.Mutex.Unlock()

	switch {
	case !ok:
		r.metrics.Dropped(metrics.DropUnknownRecipient)
		log.Debug("dropping relay for unknown recipient")
	case !delivered:
		r.metrics.Dropped(metrics.DropOutboxFull)
		log.Warn("recipient outbox full, message dropped")
	default:
		r.metrics.Relayed(string(msg.Type))
	}
}

// Broadcast queues msg for every participant in the session except
// excluding.
func (r *SessionRegistry) Broadcast(ctx context.Context, sessionID string, msg domain.SignalMessage, excluding string) {
	session, err := r.lookup(ctx, sessionID)
	if err != nil {
		r.metrics.Dropped(metrics.DropUnknownSession)
		return
	}
	session.Mutex.Lock()
	r.broadcastLocked(session, msg, excluding)
	session.Mutex.Unlock()
}

// UpdateSharedState merges patch into the session's shared state; null
// values delete keys. The merged map is broadcast to every participant.
func (r *SessionRegistry) UpdateSharedState(ctx context.Context, sessionID, from string, patch map[string]any) error {
	session, err := r.lookup(ctx, sessionID)
	if err != nil {
		return err
	}

	session.Mutex.Lock()
	defer session.Mutex.Unlock()

	if _, ok := session.Lookup(from); !ok {
		return ErrParticipantNotFound
	}
	if len(patch) == 0 {
		return nil
	}
	for k, v := range patch {
		if v == nil {
			delete(session.SharedState, k)
			continue
		}
		session.SharedState[k] = v
	}

	snapshot := session.Snapshot("")
	r.broadcastLocked(session, domain.MustSignal(domain.TypeSessionState, from, "", domain.SessionStatePayload{
		Session:     snapshot.Session,
		Control:     snapshot.Control,
		SharedState: snapshot.SharedState,
	}), "")
	return nil
}

func (r *SessionRegistry) lookup(ctx context.Context, id string) (*domain.Session, error) {
	session, err := r.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	session.Mutex.Lock()
	abandoned := session.IsAbandoned()
	session.Mutex.Unlock()
	if abandoned {
		r.expire(ctx, session)
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// removeLocked takes p out of the session, applies the forced control
// transition and notifies the remaining participants.
func (r *SessionRegistry) removeLocked(session *domain.Session, p *domain.Participant) {
	before := session.Control.State()

	switch {
	case session.Mentor == p:
		session.Mentor = nil
	case session.Children[p.ID] == p:
		delete(session.Children, p.ID)
	default:
		return
	}

	dropped := session.Control.Drop(p.ID)
	after := session.Control.State()
	payload := domain.ControlPayload{Control: after}

	if p.Role == domain.RoleMentor {
		r.broadcastLocked(session, domain.MustSignal(domain.TypeMentorLeft, p.ID, "", payload), p.ID)
	} else if dropped {
		payload.Child = p.ID
		notice := domain.TypeControlReleased
		if before.Phase == domain.ControlRequested {
			notice = domain.TypeControlRejected
		}
		r.broadcastLocked(session, domain.MustSignal(notice, p.ID, "", payload), p.ID)
	}
	if dropped {
		r.metrics.ControlTransition(string(after.Phase))
	}

	r.broadcastLocked(session, domain.MustSignal(domain.TypePeerLeft, p.ID, "", domain.PeerPayload{ID: p.ID}), p.ID)
	p.Close()
	r.metrics.ParticipantLeft(string(p.Role))

	r.log.Info("participant left",
		slog.String("session_id", session.ID),
		slog.String("participant_id", p.ID),
		slog.String("role", string(p.Role)),
		slog.String("control", string(after.Phase)),
	)
}

func (r *SessionRegistry) replaceMentorLocked(session *domain.Session, previous, next *domain.Participant) {
	if session.Control.Drop(previous.ID) {
		control := session.Control.State()
		r.metrics.ControlTransition(string(control.Phase))
		r.broadcastLocked(session, domain.MustSignal(domain.TypeControlReleased, previous.ID, "", domain.ControlPayload{Control: control}), previous.ID)
	}
	previous.Enqueue(domain.MustSignal(domain.TypeMentorReplaced, next.ID, previous.ID, next.Ref()))
	previous.Close()
	session.Mentor = nil
	r.broadcastLocked(session, domain.MustSignal(domain.TypePeerLeft, previous.ID, "", domain.PeerPayload{ID: previous.ID}), previous.ID)
	r.metrics.ParticipantLeft(string(domain.RoleMentor))
}

func (r *SessionRegistry) broadcastLocked(session *domain.Session, msg domain.SignalMessage, excluding string) {
	for _, p := range session.Participants() {
		if p.ID == excluding {
			continue
		}
		if !p.Enqueue(msg) {
			r.metrics.Dropped(metrics.DropOutboxFull)
			r.log.Debug("dropping broadcast event",
				slog.String("participant_id", p.ID),
				slog.String("type", string(msg.Type)))
		}
	}
}

// CollectExpired drops every session that stayed empty past its lifetime
// and returns how many were removed.
func (r *SessionRegistry) CollectExpired(ctx context.Context) (int, error) {
	sessions, err := r.sessions.List(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	for _, session := range sessions {
		if r.expire(ctx, session) {
			n++
		}
	}
	return n, nil
}

// RunJanitor calls CollectExpired every interval until ctx is done.
func (r *SessionRegistry) RunJanitor(ctx context.Context, interval time.Duration) error {
	const op = "service.session.janitor"
	log := r.log.With(slog.String("op", op))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := r.CollectExpired(ctx)
			if err != nil && ctx.Err() == nil {
				log.Error("failed to collect expired sessions", sl.Err(err))
				continue
			}
			if n > 0 {
				log.Info("collected expired sessions", slog.Int("count", n))
			}
		}
	}
}

func (r *SessionRegistry) expire(ctx context.Context, session *domain.Session) bool {
	removed, err := r.sessions.DeleteIf(ctx, session, (*domain.Session).IsAbandoned)
	if err != nil {
		r.log.Error("failed to remove expired session", slog.String("session_id", session.ID), sl.Err(err))
		return false
	}
	if removed {
		r.metrics.SessionClosed()
		r.log.Info("session expired", slog.String("session_id", session.ID))
	}
	return removed
}

// collect removes the session from the store once it is empty.
func (r *SessionRegistry) collect(ctx context.Context, session *domain.Session) {
	removed, err := r.sessions.DeleteIf(ctx, session, (*domain.Session).IsEmpty)
	if err != nil {
		r.log.Error("failed to remove empty session", slog.String("session_id", session.ID), sl.Err(err))
		return
	}
	if removed {
		r.metrics.SessionClosed()
		r.log.Info("session closed", slog.String("session_id", session.ID))
	}
}
