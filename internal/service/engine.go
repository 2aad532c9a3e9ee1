package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"caphe/internal/config"
	"caphe/internal/database"
	"caphe/internal/domain"
	"caphe/internal/models"
)

// Engine is the single entry point for mutating tables, bookings and
// settlements. It wires the booking state machine and the settlement
// engine over one shared key-lock set, so per-entity ordering holds
// across both.
type Engine struct {
	store       domain.Store
	tables      *TableRegistry
	bookings    *BookingService
	settlements *SettlementService
	orders      domain.OrderClient
	logger      *zerolog.Logger
}

var _ domain.Engine = (*Engine)(nil)

func NewEngine(
	store domain.Store,
	gateway domain.PaymentGateway,
	orders domain.OrderClient,
	state domain.StateRepository,
	bus domain.EventPublisher,
	cfg config.BookingConfig,
	logger *zerolog.Logger,
) *Engine {
	locks := newKeyLock()
	tables := NewTableRegistry(store, logger)
	bookings := NewBookingService(store, tables, bus, locks, cfg, logger)
	settlements := NewSettlementService(store, gateway, orders, bookings, state, bus, locks, logger)
	return &Engine{
		store:       store,
		tables:      tables,
		bookings:    bookings,
		settlements: settlements,
		orders:      orders,
		logger:      logger,
	}
}

// CreateBooking creates the booking and, for a positive deposit, starts
// the deposit settlement. A gateway outage at this point is not fatal:
// the booking stays pending and StartSettlement can be retried.
func (e *Engine) CreateBooking(ctx context.Context, req domain.CreateBookingRequest) (*domain.CreateBookingResult, error) {
	booking, err := e.bookings.Create(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &domain.CreateBookingResult{Booking: booking}
	if booking.Status == models.StatusPending && booking.DepositAmount > 0 {
		settlement, err := e.settlements.Start(ctx, booking.ID, models.KindDeposit, booking.DepositAmount)
		if err != nil {
			e.logger.Warn().Err(err).
				Int64("booking_id", booking.ID).
				Msg("Не удалось начать расчёт депозита, бронь остаётся в ожидании")
			return result, nil
		}
		result.Settlement = settlement
	}
	return result, nil
}

func (e *Engine) ConfirmBookingManually(ctx context.Context, bookingID int64, actor string) (*models.Booking, error) {
	return e.bookings.ConfirmManually(ctx, bookingID, actor)
}

func (e *Engine) CancelBooking(ctx context.Context, bookingID int64, actor, reason string) (*models.Booking, error) {
	return e.bookings.Cancel(ctx, bookingID, actor, reason)
}

// SetPollEnqueuer routes new settlements into the poll worker's queue.
// Without an enqueuer poll tasks are written straight to the store and
// wait for the worker's periodic sweep.
func (e *Engine) SetPollEnqueuer(q domain.PollEnqueuer) {
	e.settlements.enqueue = q
}

func (e *Engine) StartSettlement(ctx context.Context, bookingID int64, kind string, amount int64) (*models.Settlement, error) {
	return e.settlements.Start(ctx, bookingID, kind, amount)
}

func (e *Engine) PollSettlement(ctx context.Context, settlementID int64) (*models.Settlement, error) {
	return e.settlements.Poll(ctx, settlementID)
}

func (e *Engine) ConfirmSettlementManually(ctx context.Context, settlementID int64, actor string) (*models.Settlement, error) {
	return e.settlements.ConfirmManually(ctx, settlementID, actor)
}

func (e *Engine) CancelSettlement(ctx context.Context, settlementID int64, actor string) (*models.Settlement, error) {
	return e.settlements.Cancel(ctx, settlementID, actor)
}

// CompleteBookingViaFinalPayment starts the final-payment settlement for
// a confirmed booking. With amount 0 the running order total is fetched
// from the order subsystem. The booking completes once the settlement
// confirms (by poll or manually), not here.
func (e *Engine) CompleteBookingViaFinalPayment(ctx context.Context, bookingID, amount int64) (*models.Settlement, error) {
	booking, err := e.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.StatusConfirmed {
		return nil, fmt.Errorf("final payment for booking %d in status %s: %w", bookingID, booking.Status, database.ErrInvalidTransition)
	}

	if amount == 0 {
		amount, err = e.orders.GetOrderTotal(ctx, bookingID)
		if err != nil {
			return nil, fmt.Errorf("get order total for booking %d: %w", bookingID, err)
		}
	}
	if err := e.store.UpdateBookingTotal(ctx, bookingID, amount); err != nil {
		return nil, err
	}

	return e.settlements.Start(ctx, bookingID, models.KindFinalPayment, amount)
}

func (e *Engine) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return e.store.GetBooking(ctx, id)
}

func (e *Engine) GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error) {
	return e.store.GetBookingsByDateRange(ctx, start, end)
}

func (e *Engine) GetSettlement(ctx context.Context, id int64) (*models.Settlement, error) {
	return e.store.GetSettlement(ctx, id)
}

func (e *Engine) ListTables(ctx context.Context) ([]*models.Table, error) {
	return e.tables.List(ctx)
}
