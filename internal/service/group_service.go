package service

import (
	"context"
	"fmt"
	"time"

	"splitsync/internal/logging"
	"splitsync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type GroupService struct {
	queueWriter
	now func() time.Time
}

func NewGroupService(deps Deps, logger *zerolog.Logger) *GroupService {
	return &GroupService{
		queueWriter: queueWriter{deps: deps, logger: logging.Component(logger, "group_service")},
		now:         time.Now,
	}
}

func (s *GroupService) Create(ctx context.Context, payload *models.GroupPayload) (*models.Group, error) {
	if payload == nil || payload.Name == "" {
		return nil, fmt.Errorf("%w: group name is required", ErrInvalidInput)
	}

	now := s.now().UTC()
	group := &models.Group{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now}
	group.Apply(payload)

	err := s.apply(ctx, models.LocalWrite{
		Mutation: models.EnqueueRequest{
			EntityType: models.EntityGroup,
			EntityID:   group.ID,
			Action:     models.ActionCreate,
			Payload:    payload,
		},
		Entity: group,
	})
	if err != nil {
		return nil, err
	}
	group.PendingSync = true
	return group, nil
}

func (s *GroupService) Update(ctx context.Context, id string, payload *models.GroupPayload) (*models.Group, error) {
	if payload == nil || payload.Name == "" {
		return nil, fmt.Errorf("%w: group name is required", ErrInvalidInput)
	}
	group, err := s.deps.Cache.GetGroup(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load group: %w", err)
	}
	group.Apply(payload)
	group.UpdatedAt = s.now().UTC()

	err = s.apply(ctx, models.LocalWrite{
		Mutation: models.EnqueueRequest{
			EntityType: models.EntityGroup,
			EntityID:   id,
			Action:     models.ActionUpdate,
			Payload:    payload,
		},
		Entity: group,
	})
	if err != nil {
		return nil, err
	}
	group.PendingSync = true
	return group, nil
}

// Delete drops the group and its cached expenses right away.
func (s *GroupService) Delete(ctx context.Context, id string) error {
	if _, err := s.deps.Cache.GetGroup(ctx, id); err != nil {
		return fmt.Errorf("load group: %w", err)
	}
	return s.apply(ctx, models.LocalWrite{Mutation: models.EnqueueRequest{
		EntityType: models.EntityGroup,
		EntityID:   id,
		Action:     models.ActionDelete,
	}})
}

func (s *GroupService) Get(ctx context.Context, id string) (*models.Group, error) {
	group, err := s.deps.Cache.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	group.PendingSync = s.pending(ctx, models.EntityGroup)[id]
	return group, nil
}

func (s *GroupService) List(ctx context.Context) ([]*models.Group, error) {
	groups, err := s.deps.Cache.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	pending := s.pending(ctx, models.EntityGroup)
	for _, g := range groups {
		g.PendingSync = pending[g.ID]
	}
	return groups, nil
}

// Refresh stores the server's group list. Groups with queued changes are skipped.
func (s *GroupService) Refresh(ctx context.Context) error {
	if !s.online() {
		return ErrOffline
	}
	s.dropCachedLists(ctx)
	groups, err := s.deps.Entities.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("fetch groups: %w", err)
	}
	pending, err := s.deps.Queue.PendingEntityIDs(ctx, models.EntityGroup)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if pending[g.ID] {
			continue
		}
		if err := s.deps.Cache.PutGroup(ctx, g); err != nil {
			return err
		}
	}
	return nil
}
