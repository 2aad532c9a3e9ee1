package domain

import (
	"context"
	"time"

	"caphe/internal/models"
)

// Store is the persistence contract for tables, bookings, settlements and
// the poll queue. The sqlite implementation lives in internal/database.
type Store interface {
	// Table registry.
	GetTable(ctx context.Context, id int64) (*models.Table, error)
	GetTableByName(ctx context.Context, name string) (*models.Table, error)
	GetActiveTables(ctx context.Context) ([]*models.Table, error)
	CreateTable(ctx context.Context, table *models.Table) error
	SyncTables(ctx context.Context, tables []models.Table) error
	HoldTable(ctx context.Context, tableID, bookingID int64) error
	OccupyTable(ctx context.Context, tableID, bookingID int64) error
	ReleaseTable(ctx context.Context, tableID, bookingID int64) error

	// Bookings.
	CreateBookingWithHold(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	UpdateBookingStatusWithVersion(ctx context.Context, id, fromVersion int64, status string) error
	UpdateBookingTotal(ctx context.Context, id, totalAmount int64) error
	GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error)
	GetActiveBookingForTable(ctx context.Context, tableID int64) (*models.Booking, error)

	// Settlements.
	CreateSettlement(ctx context.Context, settlement *models.Settlement) error
	GetSettlement(ctx context.Context, id int64) (*models.Settlement, error)
	GetPendingSettlement(ctx context.Context, bookingID int64, kind string) (*models.Settlement, error)
	GetSettlementsByBooking(ctx context.Context, bookingID int64) ([]*models.Settlement, error)
	GetSettlementsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Settlement, error)
	UpdateSettlementQR(ctx context.Context, id int64, payload, reference string) error
	ConfirmSettlementWithVersion(ctx context.Context, id, fromVersion int64) error
	UpdateSettlementOutcomeWithVersion(ctx context.Context, id, fromVersion int64, outcome, reason string) error

	// Poll queue.
	CreatePollTask(ctx context.Context, task *models.PollTask) error
	GetPendingPollTasks(ctx context.Context, limit int) ([]models.PollTask, error)
	UpdatePollTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// Transfer is one bank transfer observed by the gateway for a reference.
type Transfer struct {
	Reference string
	Amount    int64 // minor currency units
	SeenAt    time.Time
}

// PaymentGateway is the external bank QR provider. GenerateQR returns a
// displayable payload for the given amount and reference; LookupTransfer
// reports transfers observed for a reference. Both calls are bounded by
// the adapter's configured timeout.
type PaymentGateway interface {
	GenerateQR(ctx context.Context, amount int64, reference string) (string, error)
	LookupTransfer(ctx context.Context, reference string) ([]Transfer, error)
}

// OrderClient is the external order subsystem that owns line items and
// running totals for occupied tables. The engine reads the total for
// final settlement and marks the order paid on success.
type OrderClient interface {
	GetOrderTotal(ctx context.Context, bookingID int64) (int64, error)
	MarkOrderPaid(ctx context.Context, bookingID int64) error
}

// Notifier delivers a message to an actor. Fire-and-forget: delivery
// failures are logged, never propagated into money state.
type Notifier interface {
	NotifyCustomer(ctx context.Context, booking *models.Booking, message string) error
	NotifyEmployees(ctx context.Context, message string) error
}

// EventPublisher publishes a domain event with a JSON payload.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// PollEnqueuer schedules a settlement for background confirmation
// polling. The poll worker implements it: the task is persisted in the
// poll queue and pushed onto the worker's fast-path queue.
type PollEnqueuer interface {
	EnqueuePoll(ctx context.Context, settlementID int64) error
}

// StateRepository keeps transient poll state and rate-limit counters.
// Implementations: redis, in-memory, and a failover wrapper.
type StateRepository interface {
	GetPollState(ctx context.Context, settlementID int64) (*models.PollState, error)
	SetPollState(ctx context.Context, state *models.PollState) error
	ClearPollState(ctx context.Context, settlementID int64) error
	CheckRateLimit(ctx context.Context, clientKey string, limit int, window time.Duration) (bool, error)
}

// CreateBookingRequest carries everything needed to create a booking.
type CreateBookingRequest struct {
	TableID       int64             `json:"table_id"`
	PartySize     int64             `json:"party_size"`
	Date          time.Time         `json:"date"`
	Time          string            `json:"time"`
	DepositAmount int64             `json:"deposit_amount"`
	CustomerName  string            `json:"customer_name"`
	Phone         string            `json:"phone"`
	Email         string            `json:"email"`
	Notes         string            `json:"notes"`
	Items         []models.LineItem `json:"items"`
}

// CreateBookingResult is the booking plus the deposit settlement started
// for it, when one was started.
type CreateBookingResult struct {
	Booking    *models.Booking    `json:"booking"`
	Settlement *models.Settlement `json:"settlement,omitempty"`
}

// Engine is the reservation and settlement facade: the only entry point
// through which tables, bookings and settlements may be mutated.
type Engine interface {
	CreateBooking(ctx context.Context, req CreateBookingRequest) (*CreateBookingResult, error)
	ConfirmBookingManually(ctx context.Context, bookingID int64, actor string) (*models.Booking, error)
	CancelBooking(ctx context.Context, bookingID int64, actor, reason string) (*models.Booking, error)
	StartSettlement(ctx context.Context, bookingID int64, kind string, amount int64) (*models.Settlement, error)
	PollSettlement(ctx context.Context, settlementID int64) (*models.Settlement, error)
	ConfirmSettlementManually(ctx context.Context, settlementID int64, actor string) (*models.Settlement, error)
	CancelSettlement(ctx context.Context, settlementID int64, actor string) (*models.Settlement, error)
	CompleteBookingViaFinalPayment(ctx context.Context, bookingID, amount int64) (*models.Settlement, error)

	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error)
	GetSettlement(ctx context.Context, id int64) (*models.Settlement, error)
	ListTables(ctx context.Context) ([]*models.Table, error)
}
