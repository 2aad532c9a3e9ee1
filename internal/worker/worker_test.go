package worker

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caphe/internal/database"
	"caphe/internal/domain"
	"caphe/internal/logging"
	"caphe/internal/models"
)

// fakeEngine overrides PollSettlement; the rest of the facade is unused
// by the worker.
type fakeEngine struct {
	domain.Engine
	settlement *models.Settlement
	err        error
	polls      int
}

func (f *fakeEngine) PollSettlement(context.Context, int64) (*models.Settlement, error) {
	f.polls++
	if f.err != nil {
		return nil, f.err
	}
	return f.settlement, nil
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "worker.db"), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func loadTaskStatus(t *testing.T, db *database.DB, id int64) (status string, retryCount int, nextRetry sql.NullTime) {
	t.Helper()
	row := db.QueryRowContext(context.Background(), `SELECT status, retry_count, next_retry_at FROM poll_queue WHERE id = ?`, id)
	require.NoError(t, row.Scan(&status, &retryCount, &nextRetry))
	return status, retryCount, nextRetry
}

func enqueue(t *testing.T, w *PollWorker, settlementID int64) models.PollTask {
	t.Helper()
	require.NoError(t, w.EnqueuePoll(context.Background(), settlementID))
	task, ok := w.tryLocalQueue()
	require.True(t, ok, "expected task in local queue")
	return task
}

func TestProcessTaskCompletesOnTerminal(t *testing.T) {
	db := newTestDB(t)
	engine := &fakeEngine{settlement: &models.Settlement{ID: 1, Outcome: models.OutcomeConfirmed}}
	w := NewPollWorker(db, engine, nil, RetryPolicy{}, logging.Nop())

	task := enqueue(t, w, 1)
	w.processTask(context.Background(), &task)

	status, retries, next := loadTaskStatus(t, db, task.ID)
	assert.Equal(t, models.TaskStatusCompleted, status)
	assert.Zero(t, retries)
	assert.False(t, next.Valid)
	assert.Equal(t, 1, engine.polls)
}

func TestProcessTaskRetriesWhileAwaiting(t *testing.T) {
	db := newTestDB(t)
	engine := &fakeEngine{settlement: &models.Settlement{ID: 2, Outcome: models.OutcomeAwaitingPayment}}
	w := NewPollWorker(db, engine, nil, RetryPolicy{MaxRetries: 5, InitialDelay: time.Second}, logging.Nop())

	task := enqueue(t, w, 2)
	w.processTask(context.Background(), &task)

	status, retries, next := loadTaskStatus(t, db, task.ID)
	assert.Equal(t, models.TaskStatusRetry, status)
	assert.Equal(t, 1, retries)
	require.True(t, next.Valid)
	assert.True(t, next.Time.After(time.Now()))
}

func TestProcessTaskExhaustsRetryBudget(t *testing.T) {
	db := newTestDB(t)
	engine := &fakeEngine{err: database.ErrGatewayUnavailable}
	w := NewPollWorker(db, engine, nil, RetryPolicy{MaxRetries: 1}, logging.Nop())

	task := enqueue(t, w, 3)
	w.processTask(context.Background(), &task)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	assert.Equal(t, models.TaskStatusExhausted, status)
}

func TestProcessTaskMismatchCompletes(t *testing.T) {
	db := newTestDB(t)
	engine := &fakeEngine{err: database.ErrPaymentMismatch}
	w := NewPollWorker(db, engine, nil, RetryPolicy{}, logging.Nop())

	task := enqueue(t, w, 4)
	w.processTask(context.Background(), &task)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	assert.Equal(t, models.TaskStatusCompleted, status)
}

func TestEnqueuePollValidation(t *testing.T) {
	db := newTestDB(t)
	w := NewPollWorker(db, &fakeEngine{}, nil, RetryPolicy{}, logging.Nop())

	assert.Error(t, w.EnqueuePoll(context.Background(), 0))
}

func TestEnqueuePollViaRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db := newTestDB(t)
	w := NewPollWorker(db, &fakeEngine{}, client, RetryPolicy{}, logging.Nop())

	require.NoError(t, w.EnqueuePoll(context.Background(), 7))

	// Задача ушла в redis, локальная очередь пуста.
	_, ok := w.tryLocalQueue()
	assert.False(t, ok)

	task, ok := w.tryRedis(context.Background())
	require.True(t, ok)
	assert.Equal(t, int64(7), task.SettlementID)
}

func TestDeadLetterPush(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db := newTestDB(t)
	engine := &fakeEngine{err: database.ErrGatewayUnavailable}
	w := NewPollWorker(db, engine, client, RetryPolicy{MaxRetries: 1}, logging.Nop())

	require.NoError(t, w.EnqueuePoll(context.Background(), 9))
	task, ok := w.tryRedis(context.Background())
	require.True(t, ok)
	w.processTask(context.Background(), &task)

	assert.True(t, mr.Exists("settlement_polls:deadletter"))
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}

	assert.Equal(t, time.Second, policy.NextDelay(1))
	assert.Equal(t, 2*time.Second, policy.NextDelay(2))
	assert.Equal(t, 5*time.Second, policy.NextDelay(5))
}
