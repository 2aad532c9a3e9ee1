package models

import "time"

// Poll task statuses (poll_queue table).
const (
	TaskStatusPending   = "pending"
	TaskStatusRetry     = "retry"
	TaskStatusCompleted = "completed"
	TaskStatusExhausted = "exhausted"
)

// PollTask is a queued confirmation poll for one settlement, persisted so
// pending money state survives restarts of the poll worker.
type PollTask struct {
	ID           int64      `json:"id"`
	SettlementID int64      `json:"settlement_id"`
	Status       string     `json:"status"`
	RetryCount   int        `json:"retry_count"`
	LastError    *string    `json:"last_error"`
	CreatedAt    time.Time  `json:"created_at"`
	ProcessedAt  *time.Time `json:"processed_at"`
	NextRetryAt  *time.Time `json:"next_retry_at"`
}
