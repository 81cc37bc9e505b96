package service

import (
	"context"
	"testing"

	"splitsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailedEnqueueLeavesCacheUntouched(t *testing.T) {
	f := newFixture(t)
	expenses := NewExpenseService(f.deps, f.logger)
	groups := NewGroupService(f.deps, f.logger)
	ctx := context.Background()

	kept, err := expenses.Create(ctx, "g1", lunch("10"))
	require.NoError(t, err)
	require.Len(t, f.queued, 1)

	f.rejectEnqueues(t)

	_, err = expenses.Create(ctx, "g1", lunch("20"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	_, err = expenses.Update(ctx, kept.ID, lunch("99"))
	require.Error(t, err)

	require.Error(t, expenses.Delete(ctx, kept.ID))

	_, err = groups.Create(ctx, &models.GroupPayload{Name: "Trip"})
	require.Error(t, err)

	list, err := f.db.ListExpenses(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, kept.ID, list[0].ID)
	assert.Equal(t, "10", list[0].Amount.String())

	cachedGroups, err := f.db.ListGroups(ctx)
	require.NoError(t, err)
	assert.Empty(t, cachedGroups)

	assert.Len(t, f.queue(t), 1)
	assert.Len(t, f.queued, 1, "no queue_changed for a write that was rolled back")
}
