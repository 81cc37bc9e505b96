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

// ExpenseService applies expense edits to the local cache first and queues
// them for the server.
type ExpenseService struct {
	queueWriter
	now func() time.Time
}

func NewExpenseService(deps Deps, logger *zerolog.Logger) *ExpenseService {
	return &ExpenseService{
		queueWriter: queueWriter{deps: deps, logger: logging.Component(logger, "expense_service")},
		now:         time.Now,
	}
}

func (s *ExpenseService) Create(ctx context.Context, groupID string, payload *models.ExpensePayload) (*models.Expense, error) {
	if groupID == "" {
		return nil, fmt.Errorf("%w: group id is required", ErrInvalidInput)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: expense payload is required", ErrInvalidInput)
	}

	p := *payload
	p.GroupID = groupID
	now := s.now().UTC()
	expense := &models.Expense{
		ID:        uuid.NewString(),
		GroupID:   groupID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	expense.Apply(&p)

	err := s.apply(ctx, models.LocalWrite{
		Mutation: models.EnqueueRequest{
			EntityType: models.EntityExpense,
			EntityID:   expense.ID,
			Action:     models.ActionCreate,
			Payload:    &p,
			GroupID:    groupID,
		},
		Entity: expense,
	})
	if err != nil {
		return nil, err
	}
	expense.PendingSync = true
	return expense, nil
}

func (s *ExpenseService) Update(ctx context.Context, id string, payload *models.ExpensePayload) (*models.Expense, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: expense payload is required", ErrInvalidInput)
	}
	expense, err := s.deps.Cache.GetExpense(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load expense: %w", err)
	}

	// Moving an expense between groups is not supported.
	p := *payload
	p.GroupID = expense.GroupID
	expense.Apply(&p)
	expense.UpdatedAt = s.now().UTC()

	err = s.apply(ctx, models.LocalWrite{
		Mutation: models.EnqueueRequest{
			EntityType: models.EntityExpense,
			EntityID:   expense.ID,
			Action:     models.ActionUpdate,
			Payload:    &p,
			GroupID:    expense.GroupID,
		},
		Entity: expense,
	})
	if err != nil {
		return nil, err
	}
	expense.PendingSync = true
	return expense, nil
}

func (s *ExpenseService) Delete(ctx context.Context, id string) error {
	expense, err := s.deps.Cache.GetExpense(ctx, id)
	if err != nil {
		return fmt.Errorf("load expense: %w", err)
	}
	return s.apply(ctx, models.LocalWrite{Mutation: models.EnqueueRequest{
		EntityType: models.EntityExpense,
		EntityID:   id,
		Action:     models.ActionDelete,
		GroupID:    expense.GroupID,
	}})
}

func (s *ExpenseService) Get(ctx context.Context, id string) (*models.Expense, error) {
	expense, err := s.deps.Cache.GetExpense(ctx, id)
	if err != nil {
		return nil, err
	}
	expense.PendingSync = s.pending(ctx, models.EntityExpense)[id]
	return expense, nil
}

// List returns the cached expenses of a group with PendingSync set on those
// that still have queued changes.
func (s *ExpenseService) List(ctx context.Context, groupID string) ([]*models.Expense, error) {
	expenses, err := s.deps.Cache.ListExpenses(ctx, groupID)
	if err != nil {
		return nil, err
	}
	pending := s.pending(ctx, models.EntityExpense)
	for _, e := range expenses {
		e.PendingSync = pending[e.ID]
	}
	return expenses, nil
}

// Refresh replaces the cached expenses of a group with the server list.
// Expenses with queued changes keep their local copy.
func (s *ExpenseService) Refresh(ctx context.Context, groupID string) error {
	if !s.online() {
		return ErrOffline
	}
	s.dropCachedLists(ctx, groupID)
	expenses, err := s.deps.Entities.ListExpenses(ctx, groupID)
	if err != nil {
		return fmt.Errorf("fetch expenses: %w", err)
	}
	pending, err := s.deps.Queue.PendingEntityIDs(ctx, models.EntityExpense)
	if err != nil {
		return err
	}
	return s.deps.Cache.ReplaceGroupExpenses(ctx, groupID, expenses, pending)
}
