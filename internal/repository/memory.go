package repository

import (
	"context"
	"sync"

	"splitsync/internal/domain"
)

// MemoryDeadLetterRepository is the in-process dead-letter store used when Redis
// is not configured or unavailable.
type MemoryDeadLetterRepository struct {
	mu      sync.Mutex
	letters []*domain.DeadLetter
	max     int
}

func NewMemoryDeadLetterRepository(max int) *MemoryDeadLetterRepository {
	return &MemoryDeadLetterRepository{max: max}
}

func (r *MemoryDeadLetterRepository) Push(_ context.Context, letter *domain.DeadLetter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.letters = append(r.letters, letter)
	if r.max > 0 && len(r.letters) > r.max {
		r.letters = r.letters[len(r.letters)-r.max:]
	}
	return nil
}

func (r *MemoryDeadLetterRepository) List(_ context.Context, limit int) ([]*domain.DeadLetter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.letters)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*domain.DeadLetter, 0, n)
	for i := len(r.letters) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, r.letters[i])
	}
	return out, nil
}

func (r *MemoryDeadLetterRepository) Count(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.letters)), nil
}
