package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/immxrtalbeast/mentorlink/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemorySessionRepository_GetOrCreate(t *testing.T) {
	repo := NewInMemorySessionRepository()
	ctx := context.Background()

	first, created, err := repo.GetOrCreate(ctx, "abcd1234")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "ABCD1234", first.ID)

	second, created, err := repo.GetOrCreate(ctx, "ABCD1234")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, first, second)
}

func TestInMemorySessionRepository_ConcurrentGetOrCreate(t *testing.T) {
	repo := NewInMemorySessionRepository()
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	results := make([]*domain.Session, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, _, err := repo.GetOrCreate(ctx, "ROOM0001")
			assert.NoError(t, err)
			results[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range results {
		assert.Same(t, results[0], s)
	}
}

func TestInMemorySessionRepository_CreateDuplicate(t *testing.T) {
	repo := NewInMemorySessionRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, domain.NewSession("ABCD1234")))
	assert.ErrorIs(t, repo.Create(ctx, domain.NewSession("ABCD1234")), ErrSessionExists)
}

func TestInMemorySessionRepository_DeleteIf(t *testing.T) {
	repo := NewInMemorySessionRepository()
	ctx := context.Background()

	s, _, err := repo.GetOrCreate(ctx, "ABCD1234")
	require.NoError(t, err)

	stale := domain.NewSession("ABCD1234")
	removed, err := repo.DeleteIf(ctx, stale, nil)
	require.NoError(t, err)
	assert.False(t, removed, "a different instance with the same id is not removed")

	s.Children["c"] = domain.NewParticipant("c", "Ann", domain.RoleChild, 1)
	removed, err = repo.DeleteIf(ctx, s, (*domain.Session).IsEmpty)
	require.NoError(t, err)
	assert.False(t, removed)

	delete(s.Children, "c")
	removed, err = repo.DeleteIf(ctx, s, (*domain.Session).IsEmpty)
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = repo.GetByID(ctx, "ABCD1234")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestInMemorySessionRepository_ContextCancelled(t *testing.T) {
	repo := NewInMemorySessionRepository()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := repo.GetOrCreate(ctx, "ABCD1234")
	assert.ErrorIs(t, err, context.Canceled)
}
