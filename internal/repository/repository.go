package repository

import (
	"context"

	"github.com/immxrtalbeast/mentorlink/internal/domain"
)

type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// GetOrCreate returns the session with id, creating it atomically when
	// absent. created reports which case happened.
	GetOrCreate(ctx context.Context, id string) (session *domain.Session, created bool, err error)
	// DeleteIf removes the session only while it is still the stored
	// instance and cond holds.
	DeleteIf(ctx context.Context, session *domain.Session, cond func(*domain.Session) bool) (bool, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*domain.Session, error)
}
