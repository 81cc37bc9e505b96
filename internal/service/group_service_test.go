package service

import (
	"context"
	"testing"

	"splitsync/internal/database"
	"splitsync/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestGroupService_Lifecycle(t *testing.T) {
	f := newFixture(t)
	groups := NewGroupService(f.deps, f.logger)
	expenses := NewExpenseService(f.deps, f.logger)
	ctx := context.Background()

	_, err := groups.Create(ctx, &models.GroupPayload{})
	assert.Error(t, err)

	group, err := groups.Create(ctx, &models.GroupPayload{Name: "Trip", Members: []string{"a", "b"}})
	require.NoError(t, err)
	assert.True(t, group.PendingSync)

	got, err := groups.Get(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, "Trip", got.Name)
	assert.True(t, got.PendingSync)

	_, err = groups.Update(ctx, group.ID, &models.GroupPayload{Name: "Road trip"})
	require.NoError(t, err)

	expense, err := expenses.Create(ctx, group.ID, &models.ExpensePayload{Title: "Fuel", Amount: decimal.NewFromInt(40)})
	require.NoError(t, err)

	require.NoError(t, groups.Delete(ctx, group.ID))
	_, err = f.db.GetGroup(ctx, group.ID)
	assert.ErrorIs(t, err, database.ErrEntityNotFound)
	_, err = f.db.GetExpense(ctx, expense.ID)
	assert.ErrorIs(t, err, database.ErrEntityNotFound)

	var actions []models.Action
	for _, item := range f.queue(t) {
		if item.EntityType == models.EntityGroup {
			actions = append(actions, item.Action)
		}
	}
	assert.Equal(t, []models.Action{models.ActionCreate, models.ActionUpdate, models.ActionDelete}, actions)
}

func TestGroupService_RefreshKeepsPendingGroups(t *testing.T) {
	f := newFixture(t)
	s := NewGroupService(f.deps, f.logger)
	ctx := context.Background()

	local, err := s.Create(ctx, &models.GroupPayload{Name: "Mine"})
	require.NoError(t, err)

	f.monitor.Set(true, true)
	f.transport.On("ListGroups", mock.Anything).Return([]*models.Group{
		{ID: local.ID, Name: "Server name"},
		{ID: "g2", Name: "Shared"},
	}, nil).Once()

	require.NoError(t, s.Refresh(ctx))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	byID := map[string]*models.Group{}
	for _, g := range list {
		byID[g.ID] = g
	}
	assert.Equal(t, "Mine", byID[local.ID].Name)
	assert.True(t, byID[local.ID].PendingSync)
	assert.Equal(t, "Shared", byID["g2"].Name)
	assert.False(t, byID["g2"].PendingSync)
	f.transport.AssertExpectations(t)
}

func TestGroupService_RefreshError(t *testing.T) {
	f := newFixture(t)
	f.monitor.Set(true, true)
	f.transport.On("ListGroups", mock.Anything).Return(nil, assert.AnError)

	err := NewGroupService(f.deps, f.logger).Refresh(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}
