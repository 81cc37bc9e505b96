package service

import (
	"context"
	"errors"
	"fmt"

	"splitsync/internal/database"
	"splitsync/internal/logging"
	"splitsync/internal/models"

	"github.com/rs/zerolog"
)

// ProfileService edits the signed-in user's profile. Only updates exist.
type ProfileService struct {
	queueWriter
	userID string
}

func NewProfileService(deps Deps, userID string, logger *zerolog.Logger) *ProfileService {
	return &ProfileService{
		queueWriter: queueWriter{deps: deps, logger: logging.Component(logger, "profile_service")},
		userID:      userID,
	}
}

// Get returns the cached profile, or an empty one when nothing is cached yet.
func (s *ProfileService) Get(ctx context.Context) (*models.User, error) {
	user, err := s.deps.Cache.GetUser(ctx, s.userID)
	if errors.Is(err, database.ErrEntityNotFound) {
		return &models.User{ID: s.userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *ProfileService) Update(ctx context.Context, payload *models.UserPayload) (*models.User, error) {
	if payload == nil || payload.Name == "" {
		return nil, fmt.Errorf("%w: profile name is required", ErrInvalidInput)
	}
	user, err := s.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	user.Apply(payload)

	err = s.apply(ctx, models.LocalWrite{
		Mutation: models.EnqueueRequest{
			EntityType: models.EntityUser,
			EntityID:   s.userID,
			Action:     models.ActionUpdate,
			Payload:    payload,
		},
		Entity: user,
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}
