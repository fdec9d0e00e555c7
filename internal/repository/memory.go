package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/immxrtalbeast/mentorlink/internal/domain"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
)

type InMemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

func NewInMemorySessionRepository() *InMemorySessionRepository {
	return &InMemorySessionRepository{
		sessions: make(map[string]*domain.Session),
	}
}

func (r *InMemorySessionRepository) Create(ctx context.Context, session *domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[session.ID]; ok {
		return ErrSessionExists
	}

	r.sessions[session.ID] = session
	return nil
}

func (r *InMemorySessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[domain.NormalizeCode(id)]
	if !ok {
		return nil, ErrSessionNotFound
	}

	return session, nil
}

func (r *InMemorySessionRepository) GetOrCreate(ctx context.Context, id string) (*domain.Session, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	id = domain.NormalizeCode(id)

	r.mu.Lock()
	defer r.mu.Unlock()

	if session, ok := r.sessions[id]; ok {
		return session, false, nil
	}

	session := domain.NewSession(id)
	r.sessions[id] = session
	return session, true, nil
}

func (r *InMemorySessionRepository) DeleteIf(ctx context.Context, session *domain.Session, cond func(*domain.Session) bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[session.ID]
	if !ok || current != session {
		return false, nil
	}

	session.Mutex.Lock()
	remove := cond == nil || cond(session)
	if remove {
		session.Closed = true
	}
	session.Mutex.Unlock()
	if !remove {
		return false, nil
	}

	delete(r.sessions, session.ID)
	return true, nil
}

func (r *InMemorySessionRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id = domain.NormalizeCode(id)
	if _, ok := r.sessions[id]; !ok {
		return ErrSessionNotFound
	}

	delete(r.sessions, id)
	return nil
}

func (r *InMemorySessionRepository) List(ctx context.Context) ([]*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		result = append(result, session)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}
