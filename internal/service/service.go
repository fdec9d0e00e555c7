package service

import (
	"context"
	"time"

	"github.com/immxrtalbeast/mentorlink/internal/domain"
)

type SessionInteractor interface {
	CreateSession(ctx context.Context, lifetime time.Duration) (domain.SessionStatePayload, error)
	GetSession(ctx context.Context, id string) (domain.SessionStatePayload, error)
	Join(ctx context.Context, req JoinRequest) (*domain.Participant, domain.SessionStatePayload, error)
	Leave(ctx context.Context, sessionID, participantID string) error
	Disconnect(ctx context.Context, sessionID string, p *domain.Participant)
	HandleSignal(ctx context.Context, sessionID, from string, msg domain.SignalMessage) error
	Relay(ctx context.Context, sessionID string, msg domain.SignalMessage)
	Broadcast(ctx context.Context, sessionID string, msg domain.SignalMessage, excluding string)
}

type ControlInteractor interface {
	RequestControl(ctx context.Context, sessionID, mentorID string) (bool, error)
	AcceptControl(ctx context.Context, sessionID, childID string) (bool, error)
	RejectControl(ctx context.Context, sessionID, childID string) (bool, error)
	ReleaseControl(ctx context.Context, sessionID, participantID string) (bool, error)
	ControlState(ctx context.Context, sessionID string) (domain.ControlState, error)
}

var (
	_ SessionInteractor = (*SessionRegistry)(nil)
	_ ControlInteractor = (*SessionRegistry)(nil)
)
