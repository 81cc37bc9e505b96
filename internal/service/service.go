package service

import (
	"context"
	"errors"
	"fmt"

	"splitsync/internal/domain"
	"splitsync/internal/events"
	"splitsync/internal/models"

	"github.com/rs/zerolog"
)

var (
	ErrOffline      = errors.New("refresh requires connectivity")
	ErrInvalidInput = errors.New("invalid input")
)

// Deps are shared by every optimistic write service. Events and Trigger may be nil.
type Deps struct {
	Queue    domain.MutationQueue
	Cache    domain.EntityCache
	Entities domain.EntityTransport
	Monitor  domain.Connectivity
	Events   domain.EventPublisher
	Trigger  domain.SyncTrigger
}

// queueWriter persists a local change together with its queued mutation and
// asks for a drain.
type queueWriter struct {
	deps   Deps
	logger *zerolog.Logger
}

func (w *queueWriter) apply(ctx context.Context, write models.LocalWrite) error {
	req := write.Mutation
	item, err := w.deps.Queue.ApplyLocal(ctx, write)
	if err != nil {
		return fmt.Errorf("queue %s %s: %w", req.EntityType, req.Action, err)
	}

	w.logger.Debug().
		Str("item_id", item.ID).
		Str("key", item.Key().String()).
		Msg("mutation queued")

	if w.deps.Events != nil {
		pending, err := w.deps.Queue.CountUnprocessed(ctx)
		if err != nil {
			w.logger.Warn().Err(err).Msg("failed to count pending mutations")
		}
		_ = w.deps.Events.PublishJSON(events.EventQueueChanged, events.Notification{
			Level:      events.LevelSuccess,
			Message:    "change saved locally",
			EntityType: string(item.EntityType),
			EntityID:   item.EntityID,
			Action:     string(item.Action),
			Pending:    pending,
		})
	}

	if w.deps.Trigger != nil && w.deps.Monitor != nil && w.deps.Monitor.IsFullyOnline() {
		w.deps.Trigger.TriggerSync("local_change")
	}
	return nil
}

func (w *queueWriter) pending(ctx context.Context, entityType models.EntityType) map[string]bool {
	ids, err := w.deps.Queue.PendingEntityIDs(ctx, entityType)
	if err != nil {
		w.logger.Warn().Err(err).Str("entity_type", string(entityType)).Msg("failed to read pending mutations")
		return map[string]bool{}
	}
	return ids
}

// dropCachedLists makes the next list call reach the server.
func (w *queueWriter) dropCachedLists(ctx context.Context, groupIDs ...string) {
	if lc, ok := w.deps.Entities.(domain.ListCache); ok {
		lc.InvalidateLists(ctx, groupIDs...)
	}
}

func (w *queueWriter) online() bool {
	return w.deps.Monitor != nil && w.deps.Monitor.IsFullyOnline() && w.deps.Entities != nil
}
