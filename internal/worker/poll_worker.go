package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"caphe/internal/database"
	"caphe/internal/domain"
	"caphe/internal/metrics"
	"caphe/internal/models"
)

// PollWorker drives settlement confirmation polling in the background.
// Tasks live in the poll_queue table; redis carries a fast-path queue and
// the dead-letter list. An exhausted task never changes the settlement:
// it stays awaiting payment until an operator confirms or cancels it.
type PollWorker struct {
	db            *database.DB
	engine        domain.Engine
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.PollTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

// NewPollWorker builds a worker with sane defaults.
func NewPollWorker(db *database.DB, engine domain.Engine, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *PollWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 30
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 5 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 2 * time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 1.5
	}

	return &PollWorker{
		db:            db,
		engine:        engine,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan models.PollTask, models.PollQueueSize),
		redisQueueKey: "settlement_polls:queue",
		deadLetterKey: "settlement_polls:deadletter",
		pollInterval:  2 * time.Second,
		batchSize:     20,
		logger:        logger,
	}
}

// EnqueuePoll persists a poll task and schedules it via redis or the
// in-memory queue. The poll_queue row is the source of truth: a dropped
// queue entry only delays the task until the periodic sweep.
func (w *PollWorker) EnqueuePoll(ctx context.Context, settlementID int64) error {
	if settlementID == 0 {
		return errors.New("settlement id is required")
	}

	task := models.PollTask{
		SettlementID: settlementID,
		Status:       models.TaskStatusPending,
		CreatedAt:    time.Now(),
	}
	if err := w.db.CreatePollTask(ctx, &task); err != nil {
		return fmt.Errorf("persist poll task: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, task); err != nil {
			w.logger.Warn().Err(err).Int64("settlement_id", settlementID).Msg("Редис недоступен, задача уходит в локальную очередь")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("Локальная очередь переполнена, задача дождётся обхода базы")
	}
	return nil
}

// Start launches the main loop; stops when ctx is done.
func (w *PollWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("Воркер опроса расчётов запущен")
	defer w.logger.Info().Msg("Воркер опроса расчётов остановлен")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		tasks, err := w.db.GetPendingPollTasks(ctx, w.batchSize)
		if err != nil {
			w.logger.Error().Err(err).Msg("Не удалось получить задачи опроса")
			w.sleep(ctx)
			continue
		}
		if len(tasks) == 0 {
			w.sleep(ctx)
			continue
		}

		for i := range tasks {
			w.processTask(ctx, &tasks[i])
		}
	}
}

func (w *PollWorker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.pollInterval):
	}
}

func (w *PollWorker) tryLocalQueue() (models.PollTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.PollTask{}, false
	}
}

func (w *PollWorker) tryRedis(ctx context.Context) (models.PollTask, bool) {
	if w.redis == nil {
		return models.PollTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			w.logger.Warn().Err(err).Msg("Ошибка BRPOP очереди опроса")
		}
		return models.PollTask{}, false
	}
	if len(res) != 2 {
		return models.PollTask{}, false
	}
	var task models.PollTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Warn().Err(err).Msg("Не удалось разобрать задачу из redis")
		return models.PollTask{}, false
	}
	return task, true
}

func (w *PollWorker) processTask(ctx context.Context, task *models.PollTask) {
	settlement, err := w.engine.PollSettlement(ctx, task.SettlementID)

	switch {
	case errors.Is(err, database.ErrPaymentMismatch):
		// Расчёт переведён в failed, дальше только ручная сверка.
		w.complete(ctx, task, "payment mismatch")
	case errors.Is(err, database.ErrNotFound):
		w.complete(ctx, task, "settlement not found")
	case err != nil:
		w.retryOrExhaust(ctx, task, err)
	case settlement.Terminal():
		w.complete(ctx, task, "")
	default:
		w.retryOrExhaust(ctx, task, errors.New("transfer not observed yet"))
	}
}

func (w *PollWorker) complete(ctx context.Context, task *models.PollTask, note string) {
	if err := w.db.UpdatePollTaskStatus(ctx, task.ID, models.TaskStatusCompleted, note, nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Не удалось завершить задачу опроса")
	}
}

// retryOrExhaust reschedules the task with backoff or, once the retry
// budget is spent, moves it to the dead-letter list. The settlement
// itself is left untouched in either case.
func (w *PollWorker) retryOrExhaust(ctx context.Context, task *models.PollTask, cause error) {
	attempt := task.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		if err := w.db.UpdatePollTaskStatus(ctx, task.ID, models.TaskStatusExhausted, cause.Error(), nil); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Не удалось пометить задачу исчерпанной")
		}
		metrics.IncPollExhausted()
		w.pushDeadLetter(ctx, task)
		w.logger.Warn().
			Int64("settlement_id", task.SettlementID).
			Int("attempts", attempt).
			Msg("Опрос исчерпан, расчёт ждёт ручного решения")
		return
	}

	nextTime := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.db.UpdatePollTaskStatus(ctx, task.ID, models.TaskStatusRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Не удалось перепланировать задачу опроса")
	}
}

func (w *PollWorker) pushRedis(ctx context.Context, task models.PollTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *PollWorker) pushDeadLetter(ctx context.Context, task *models.PollTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("Не удалось положить задачу в dead-letter")
	}
}
