package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caphe/internal/models"
)

func TestPollQueueLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	task := &models.PollTask{SettlementID: 1, Status: "pending"}
	require.NoError(t, db.CreatePollTask(ctx, task))
	require.NotZero(t, task.ID)

	pending, err := db.GetPendingPollTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(1), pending[0].SettlementID)

	// retry с будущим временем уходит из выборки.
	future := time.Now().Add(time.Hour)
	require.NoError(t, db.UpdatePollTaskStatus(ctx, task.ID, "retry", "transfer not observed yet", &future))

	pending, err = db.GetPendingPollTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// retry с прошедшим временем возвращается.
	past := time.Now().Add(-time.Minute)
	require.NoError(t, db.UpdatePollTaskStatus(ctx, task.ID, "retry", "transfer not observed yet", &past))

	pending, err = db.GetPendingPollTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].RetryCount)

	require.NoError(t, db.UpdatePollTaskStatus(ctx, task.ID, "completed", "", nil))
	pending, err = db.GetPendingPollTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestGetExhaustedPollTasks(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	task := &models.PollTask{SettlementID: 7, Status: "pending"}
	require.NoError(t, db.CreatePollTask(ctx, task))
	require.NoError(t, db.UpdatePollTaskStatus(ctx, task.ID, "exhausted", "gateway unavailable", nil))

	exhausted, err := db.GetExhaustedPollTasks(ctx)
	require.NoError(t, err)
	require.Len(t, exhausted, 1)
	assert.Equal(t, int64(7), exhausted[0].SettlementID)
	require.NotNil(t, exhausted[0].LastError)
	assert.Equal(t, "gateway unavailable", *exhausted[0].LastError)
	assert.NotNil(t, exhausted[0].ProcessedAt)
}
