package repository

import (
	"context"
	"sync/atomic"
	"time"

	"splitsync/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverDeadLetterRepository writes to primary and switches to fallback after
// the first primary error, probing primary again once a minute.
type FailoverDeadLetterRepository struct {
	primary   domain.DeadLetterRepository
	fallback  domain.DeadLetterRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	now       func() time.Time
}

func NewFailoverDeadLetterRepository(primary, fallback domain.DeadLetterRepository, logger *zerolog.Logger) *FailoverDeadLetterRepository {
	return &FailoverDeadLetterRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *FailoverDeadLetterRepository) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	return r.now().Sub(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func (r *FailoverDeadLetterRepository) markDown(err error) {
	if !r.isDown.Load() {
		r.logger.Error().Err(err).Msg("primary dead-letter repository failed, falling back to memory")
	}
	r.isDown.Store(true)
	r.lastCheck.Store(r.now().UnixNano())
}

func (r *FailoverDeadLetterRepository) Push(ctx context.Context, letter *domain.DeadLetter) error {
	if r.usePrimary() {
		err := r.primary.Push(ctx, letter)
		if err == nil {
			r.isDown.Store(false)
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.Push(ctx, letter)
}

func (r *FailoverDeadLetterRepository) List(ctx context.Context, limit int) ([]*domain.DeadLetter, error) {
	if r.usePrimary() {
		letters, err := r.primary.List(ctx, limit)
		if err == nil {
			r.isDown.Store(false)
			return letters, nil
		}
		r.markDown(err)
	}

	return r.fallback.List(ctx, limit)
}

func (r *FailoverDeadLetterRepository) Count(ctx context.Context) (int64, error) {
	if r.usePrimary() {
		n, err := r.primary.Count(ctx)
		if err == nil {
			r.isDown.Store(false)
			return n, nil
		}
		r.markDown(err)
	}

	return r.fallback.Count(ctx)
}
