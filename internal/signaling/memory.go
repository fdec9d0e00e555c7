package signaling

import (
	"context"
	"sync"

	"github.com/immxrtalbeast/mentorlink/internal/domain"
	"github.com/immxrtalbeast/mentorlink/internal/service"
)

// MemoryChannel attaches a participant directly to an in-process registry.
// Used by tests and by embedders that run the registry themselves.
type MemoryChannel struct {
	sessions  service.SessionInteractor
	sessionID string
	p         *domain.Participant
	once      sync.Once
}

func NewMemoryChannel(ctx context.Context, sessions service.SessionInteractor, join Join) (*MemoryChannel, error) {
	p, snapshot, err := sessions.Join(ctx, service.JoinRequest{
		SessionID:     join.SessionID,
		ParticipantID: join.ParticipantID,
		DisplayName:   join.DisplayName,
		Role:          join.Role,
	})
	if err != nil {
		return nil, err
	}
	return &MemoryChannel{sessions: sessions, sessionID: snapshot.Session, p: p}, nil
}

func (c *MemoryChannel) ID() string { return c.p.ID }

func (c *MemoryChannel) Send(ctx context.Context, msg domain.SignalMessage) error {
	if c.p.Status() == domain.StatusDisconnected {
		return ErrClosed
	}
	return c.sessions.HandleSignal(ctx, c.sessionID, c.p.ID, msg)
}

func (c *MemoryChannel) Messages() <-chan domain.SignalMessage { return c.p.Outbox() }

func (c *MemoryChannel) Close() error {
	c.once.Do(func() {
		c.sessions.Disconnect(context.Background(), c.sessionID, c.p)
	})
	return nil
}
