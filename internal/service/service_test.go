package service

import (
	"context"
	"path/filepath"
	"testing"

	"splitsync/internal/connectivity"
	"splitsync/internal/database"
	"splitsync/internal/events"
	"splitsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) CreateExpense(ctx context.Context, groupID, clientID string, payload *models.ExpensePayload) (*models.Expense, error) {
	args := m.Called(ctx, groupID, clientID, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Expense), args.Error(1)
}

func (m *MockTransport) UpdateExpense(ctx context.Context, groupID, id string, payload *models.ExpensePayload) (*models.Expense, error) {
	args := m.Called(ctx, groupID, id, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Expense), args.Error(1)
}

func (m *MockTransport) DeleteExpense(ctx context.Context, groupID, id string) error {
	args := m.Called(ctx, groupID, id)
	return args.Error(0)
}

func (m *MockTransport) ListExpenses(ctx context.Context, groupID string) ([]*models.Expense, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Expense), args.Error(1)
}

func (m *MockTransport) CreateGroup(ctx context.Context, clientID string, payload *models.GroupPayload) (*models.Group, error) {
	args := m.Called(ctx, clientID, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Group), args.Error(1)
}

func (m *MockTransport) UpdateGroup(ctx context.Context, id string, payload *models.GroupPayload) (*models.Group, error) {
	args := m.Called(ctx, id, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Group), args.Error(1)
}

func (m *MockTransport) DeleteGroup(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockTransport) ListGroups(ctx context.Context) ([]*models.Group, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Group), args.Error(1)
}

func (m *MockTransport) UpdateProfile(ctx context.Context, payload *models.UserPayload) (*models.User, error) {
	args := m.Called(ctx, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

type MockTrigger struct {
	mock.Mock
}

func (m *MockTrigger) TriggerSync(reason string) {
	m.Called(reason)
}

type fixture struct {
	db        *database.DB
	monitor   *connectivity.Monitor
	transport *MockTransport
	trigger   *MockTrigger
	bus       *events.EventBus
	queued    []*events.Event
	deps      Deps
	logger    *zerolog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "store.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		db:        db,
		monitor:   connectivity.NewMonitor(),
		transport: new(MockTransport),
		trigger:   new(MockTrigger),
		bus:       events.NewEventBus(),
		logger:    &logger,
	}
	f.bus.Subscribe(events.EventQueueChanged, func(e *events.Event) error {
		f.queued = append(f.queued, e)
		return nil
	})
	f.deps = Deps{
		Queue:    db,
		Cache:    db,
		Entities: f.transport,
		Monitor:  f.monitor,
		Events:   f.bus,
		Trigger:  f.trigger,
	}
	return f
}

func (f *fixture) queue(t *testing.T) []*models.MutationQueueItem {
	t.Helper()
	items, err := f.db.ListQueue(context.Background())
	require.NoError(t, err)
	return items
}

// rejectEnqueues makes every insert into the mutation queue fail.
func (f *fixture) rejectEnqueues(t *testing.T) {
	t.Helper()
	_, err := f.db.ExecContext(context.Background(),
		`CREATE TRIGGER reject_enqueue BEFORE INSERT ON mutation_queue BEGIN SELECT RAISE(ABORT, 'disk full'); END`)
	require.NoError(t, err)
}
