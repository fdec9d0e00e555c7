package service

import (
	"context"
	"log/slog"

	"github.com/immxrtalbeast/mentorlink/internal/domain"
)

// RequestControl moves idle to requested and prompts every child. Only the
// session's current mentor may request; a request while a prompt or grant is
// already outstanding is a no-op and reports false.
func (r *SessionRegistry) RequestControl(ctx context.Context, sessionID, mentorID string) (bool, error) {
	session, err := r.lookup(ctx, sessionID)
	if err != nil {
		return false, err
	}

	session.Mutex.Lock()
	defer session.Mutex.Unlock()

	if session.Mentor == nil || session.Mentor.ID != mentorID {
		r.ignored(sessionID, mentorID, domain.TypeControlRequest, "not the session mentor")
		return false, nil
	}
	if !session.Control.Request(mentorID, session.ChildIDs()) {
		r.ignored(sessionID, mentorID, domain.TypeControlRequest, "control already "+string(session.Control.State().Phase))
		return false, nil
	}

	r.transitionLocked(session, domain.TypeControlRequest, mentorID, "")
	return true, nil
}

// AcceptControl grants control to the first prompted child that accepts.
func (r *SessionRegistry) AcceptControl(ctx context.Context, sessionID, childID string) (bool, error) {
	session, err := r.lookup(ctx, sessionID)
	if err != nil {
		return false, err
	}

	session.Mutex.Lock()
	defer session.Mutex.Unlock()

	if _, ok := session.Children[childID]; !ok {
		r.ignored(sessionID, childID, domain.TypeControlAccept, "not a child of the session")
		return false, nil
	}
	if !session.Control.Accept(childID) {
		r.ignored(sessionID, childID, domain.TypeControlAccept, "no open prompt")
		return false, nil
	}

	r.transitionLocked(session, domain.TypeControlGranted, childID, childID)
	return true, nil
}

// RejectControl closes the rejecting child's prompt. The mentor is told
// about every rejection; control returns to idle once no prompt remains.
func (r *SessionRegistry) RejectControl(ctx context.Context, sessionID, childID string) (bool, error) {
	session, err := r.lookup(ctx, sessionID)
	if err != nil {
		return false, err
	}

	session.Mutex.Lock()
	defer session.Mutex.Unlock()

	rejected, _ := session.Control.Reject(childID)
	if !rejected {
		r.ignored(sessionID, childID, domain.TypeControlReject, "no open prompt")
		return false, nil
	}

	r.transitionLocked(session, domain.TypeControlRejected, childID, childID)
	return true, nil
}

// ReleaseControl ends an active grant. Release on a session that is not
// active is a no-op, which makes a release racing an accept harmless.
func (r *SessionRegistry) ReleaseControl(ctx context.Context, sessionID, participantID string) (bool, error) {
	session, err := r.lookup(ctx, sessionID)
	if err != nil {
		return false, err
	}

	session.Mutex.Lock()
	defer session.Mutex.Unlock()

	grantee := session.Control.State().GrantedTo
	if !session.Control.Release(participantID) {
		r.ignored(sessionID, participantID, domain.TypeControlRelease, "control not held")
		return false, nil
	}

	r.transitionLocked(session, domain.TypeControlReleased, participantID, grantee)
	return true, nil
}

// ControlState returns the current control state of a session.
func (r *SessionRegistry) ControlState(ctx context.Context, sessionID string) (domain.ControlState, error) {
	session, err := r.lookup(ctx, sessionID)
	if err != nil {
		return domain.ControlState{}, err
	}
	session.Mutex.Lock()
	defer session.Mutex.Unlock()
	return session.Control.State(), nil
}

func (r *SessionRegistry) transitionLocked(session *domain.Session, notice domain.MessageType, from, child string) {
	control := session.Control.State()
	r.metrics.ControlTransition(string(control.Phase))
	r.broadcastLocked(session, domain.MustSignal(notice, from, "", domain.ControlPayload{
		Control: control,
		Child:   child,
	}), "")

	r.log.Info("control transition",
		slog.String("session_id", session.ID),
		slog.String("notice", string(notice)),
		slog.String("from", from),
		slog.String("state", string(control.Phase)),
		slog.String("by", control.By),
		slog.String("granted_to", control.GrantedTo),
	)
}

func (r *SessionRegistry) ignored(sessionID, participantID string, t domain.MessageType, reason string) {
	r.log.Debug("control message ignored",
		slog.String("session_id", sessionID),
		slog.String("participant_id", participantID),
		slog.String("type", string(t)),
		slog.String("reason", reason),
	)
}
