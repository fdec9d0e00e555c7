package domain

import (
	"sync"
	"time"
)

type Role string

const (
	RoleMentor Role = "mentor"
	RoleChild  Role = "child"
)

func (r Role) Valid() bool { return r == RoleMentor || r == RoleChild }

type ParticipantStatus string

const (
	StatusConnected    ParticipantStatus = "connected"
	StatusConnecting   ParticipantStatus = "connecting"
	StatusDisconnected ParticipantStatus = "disconnected"
)

const defaultOutboxSize = 64

// Participant is a joined mentor or child. Outbox is the channel handle the
// transport drains; it lives only as long as the process.
type Participant struct {
	ID          string
	DisplayName string
	Role        Role
	JoinedAt    time.Time

	mu       sync.RWMutex
	status   ParticipantStatus
	lastSeen time.Time
	outbox   chan SignalMessage
	closed   bool
}

func NewParticipant(id, displayName string, role Role, outboxSize int) *Participant {
	if outboxSize <= 0 {
		outboxSize = defaultOutboxSize
	}
	now := time.Now().UTC()
	return &Participant{
		ID:          id,
		DisplayName: displayName,
		Role:        role,
		JoinedAt:    now,
		status:      StatusConnecting,
		lastSeen:    now,
		outbox:      make(chan SignalMessage, outboxSize),
	}
}

func (p *Participant) Ref() PeerPayload {
	return PeerPayload{ID: p.ID, Name: p.DisplayName, Role: p.Role}
}

// Outbox is closed once the participant leaves the session.
func (p *Participant) Outbox() <-chan SignalMessage { return p.outbox }

func (p *Participant) Touch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSeen = time.Now().UTC()
}

func (p *Participant) LastSeen() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSeen
}

func (p *Participant) SetStatus(status ParticipantStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
}

func (p *Participant) Status() ParticipantStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Enqueue hands msg to the transport without blocking. It reports false when
// the outbox is full or already closed.
func (p *Participant) Enqueue(msg SignalMessage) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.outbox <- msg:
		return true
	default:
		return false
	}
}

// Close marks the participant disconnected and closes its outbox. Safe to
// call more than once.
func (p *Participant) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.status = StatusDisconnected
	close(p.outbox)
}
