package database

import (
	"context"
	"fmt"
	"time"

	"caphe/internal/models"
)

func (db *DB) CreatePollTask(ctx context.Context, task *models.PollTask) error {
	query := `INSERT INTO poll_queue (settlement_id, status, retry_count, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		task.SettlementID, task.Status, task.RetryCount, task.LastError, now, task.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create poll task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now
	return nil
}

func (db *DB) GetPendingPollTasks(ctx context.Context, limit int) ([]models.PollTask, error) {
	query := `SELECT id, settlement_id, status, retry_count, last_error, created_at, processed_at, next_retry_at
              FROM poll_queue
              WHERE status IN ('pending', 'retry') AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY created_at ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending poll tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.PollTask
	for rows.Next() {
		var t models.PollTask
		err := rows.Scan(
			&t.ID, &t.SettlementID, &t.Status, &t.RetryCount, &t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan poll task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (db *DB) UpdatePollTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []interface{}
	now := time.Now()

	switch status {
	case models.TaskStatusRetry:
		query = `UPDATE poll_queue SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, errMsg, nextRetryAt, id}
	case models.TaskStatusCompleted, models.TaskStatusExhausted:
		query = `UPDATE poll_queue SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []interface{}{status, errMsg, nextRetryAt, &now, id}
	default:
		query = `UPDATE poll_queue SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, errMsg, nextRetryAt, id}
	}

	_, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update poll task status: %w", err)
	}
	return nil
}

// GetExhaustedPollTasks lists tasks whose retry budget ran out. Their
// settlements stay awaiting payment until someone decides manually.
func (db *DB) GetExhaustedPollTasks(ctx context.Context) ([]models.PollTask, error) {
	query := `SELECT id, settlement_id, status, retry_count, last_error, created_at, processed_at, next_retry_at
              FROM poll_queue WHERE status = 'exhausted' ORDER BY created_at DESC`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get exhausted poll tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.PollTask
	for rows.Next() {
		var t models.PollTask
		err := rows.Scan(
			&t.ID, &t.SettlementID, &t.Status, &t.RetryCount, &t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan poll task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
