package models

// Booking statuses.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

// Table occupancy.
const (
	OccupancyEmpty    = "empty"
	OccupancyHeld     = "held"
	OccupancyOccupied = "occupied"
)

// Settlement kinds.
const (
	KindDeposit      = "deposit"
	KindFinalPayment = "final_payment"
)

// Settlement outcomes.
const (
	OutcomeAwaitingPayment = "awaiting_payment"
	OutcomeConfirmed       = "confirmed"
	OutcomeFailed          = "failed"
	OutcomeCancelled       = "cancelled"
)

const (
	// DefaultPollStateTTL время жизни состояния опроса в Redis
	DefaultPollStateTTL = 24 * 60 * 60 // 24 часа в секундах

	// PollQueueSize размер очереди воркера опроса
	PollQueueSize = 1000

	// RateLimitRequests количество запросов в окне
	RateLimitRequests = 20

	// RateLimitWindow окно ограничения частоты запросов
	RateLimitWindow = 60 // 1 минута в секундах
)
