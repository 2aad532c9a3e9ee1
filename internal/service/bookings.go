package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"caphe/internal/config"
	"caphe/internal/database"
	"caphe/internal/domain"
	"caphe/internal/events"
	"caphe/internal/metrics"
	"caphe/internal/models"
)

// BookingService drives the booking lifecycle: pending -> confirmed ->
// completed, with cancellation from either live state. Every transition
// runs under the booking's key lock and lands in the store as a
// version-checked update, so two admins racing the same booking cannot
// both win.
type BookingService struct {
	store  domain.Store
	tables *TableRegistry
	bus    domain.EventPublisher
	locks  *keyLock
	cfg    config.BookingConfig
	loc    *time.Location
	logger *zerolog.Logger
}

func NewBookingService(store domain.Store, tables *TableRegistry, bus domain.EventPublisher, locks *keyLock, cfg config.BookingConfig, logger *zerolog.Logger) *BookingService {
	loc := time.Local
	if cfg.Timezone != "" {
		parsed, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			logger.Warn().Err(err).Str("timezone", cfg.Timezone).Msg("Неизвестный часовой пояс, берём локальный")
		} else {
			loc = parsed
		}
	}
	return &BookingService{
		store:  store,
		tables: tables,
		bus:    bus,
		locks:  locks,
		cfg:    cfg,
		loc:    loc,
		logger: logger,
	}
}

// Create validates the request, persists the booking and holds its table
// in one transaction. Zero-deposit bookings confirm immediately; everyone
// else stays pending until the deposit settlement confirms.
func (s *BookingService) Create(ctx context.Context, req domain.CreateBookingRequest) (*models.Booking, error) {
	if err := s.validateCreate(req); err != nil {
		return nil, err
	}

	booking := &models.Booking{
		TableID:       req.TableID,
		CustomerName:  req.CustomerName,
		Phone:         req.Phone,
		Email:         req.Email,
		PartySize:     req.PartySize,
		Date:          req.Date,
		Time:          req.Time,
		Items:         req.Items,
		Notes:         req.Notes,
		DepositAmount: req.DepositAmount,
		Status:        models.StatusPending,
	}

	unlock := s.locks.Lock(tableKey(req.TableID))
	err := s.store.CreateBookingWithHold(ctx, booking)
	unlock()
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("booking_id", booking.ID).
		Int64("table_id", booking.TableID).
		Str("customer", booking.CustomerName).
		Msg("Бронь создана")
	metrics.IncBookingTransition(models.StatusPending)
	s.publishBookingEvent(events.EventBookingCreated, booking, "", "")

	if booking.DepositAmount == 0 {
		confirmed, err := s.ConfirmManually(ctx, booking.ID, "system")
		if err != nil {
			return nil, fmt.Errorf("confirm zero-deposit booking %d: %w", booking.ID, err)
		}
		return confirmed, nil
	}

	return booking, nil
}

func (s *BookingService) validateCreate(req domain.CreateBookingRequest) error {
	if req.TableID <= 0 {
		return fmt.Errorf("%w: table id is required", database.ErrValidation)
	}
	if req.PartySize <= 0 {
		return fmt.Errorf("%w: party size must be positive", database.ErrValidation)
	}
	if req.CustomerName == "" || req.Phone == "" {
		return fmt.Errorf("%w: customer name and phone are required", database.ErrValidation)
	}
	if req.DepositAmount < 0 {
		return fmt.Errorf("%w: deposit amount cannot be negative", database.ErrValidation)
	}
	if _, err := time.Parse("15:04", req.Time); err != nil {
		return fmt.Errorf("%w: time must be HH:MM", database.ErrValidation)
	}

	return s.validateDate(req.Date, time.Now())
}

// validateDate compares calendar days, with "today" taken in the café's
// timezone: an early-morning same-day request east of UTC must not pass
// as a future date.
func (s *BookingService) validateDate(date, now time.Time) error {
	local := now.In(s.loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	if day.Before(today) {
		return fmt.Errorf("%w: date is in the past", database.ErrValidation)
	}
	if day.Equal(today) && !s.cfg.AllowSameDay {
		return fmt.Errorf("%w: same-day bookings are not allowed", database.ErrValidation)
	}
	if s.cfg.MaxBookingDays > 0 && day.After(today.AddDate(0, 0, s.cfg.MaxBookingDays)) {
		return fmt.Errorf("%w: date is more than %d days ahead", database.ErrValidation, s.cfg.MaxBookingDays)
	}
	return nil
}

// ConfirmManually moves a pending booking to confirmed and seats the
// guests. Confirming an already confirmed booking is a no-op.
func (s *BookingService) ConfirmManually(ctx context.Context, bookingID int64, actor string) (*models.Booking, error) {
	unlock := s.locks.Lock(bookingKey(bookingID))
	defer unlock()
	return s.confirmLocked(ctx, bookingID, actor)
}

// confirmLocked assumes the caller holds the booking key lock.
func (s *BookingService) confirmLocked(ctx context.Context, bookingID int64, actor string) (*models.Booking, error) {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	switch booking.Status {
	case models.StatusConfirmed:
		return booking, nil
	case models.StatusPending:
	default:
		return nil, fmt.Errorf("confirm booking %d in status %s: %w", bookingID, booking.Status, database.ErrInvalidTransition)
	}

	if err := s.tables.Occupy(ctx, booking.TableID, booking.ID); err != nil {
		return nil, err
	}
	if err := s.store.UpdateBookingStatusWithVersion(ctx, booking.ID, booking.Version, models.StatusConfirmed); err != nil {
		if errors.Is(err, database.ErrConcurrentModification) {
			return s.reloadAfterRace(ctx, bookingID, models.StatusConfirmed)
		}
		return nil, err
	}

	booking.Status = models.StatusConfirmed
	booking.Version++
	s.logger.Info().Int64("booking_id", booking.ID).Str("actor", actor).Msg("Бронь подтверждена")
	metrics.IncBookingTransition(models.StatusConfirmed)
	s.publishBookingEvent(events.EventBookingConfirmed, booking, "", actor)
	return booking, nil
}

// Cancel releases the table, cancels open settlements and moves the
// booking to cancelled. Cancelling twice is a no-op; cancelling a
// completed booking is rejected.
func (s *BookingService) Cancel(ctx context.Context, bookingID int64, actor, reason string) (*models.Booking, error) {
	unlock := s.locks.Lock(bookingKey(bookingID))
	defer unlock()

	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	switch booking.Status {
	case models.StatusCancelled:
		return booking, nil
	case models.StatusCompleted:
		return nil, fmt.Errorf("cancel completed booking %d: %w", bookingID, database.ErrInvalidTransition)
	}

	if err := s.cancelOpenSettlements(ctx, booking.ID, actor, reason); err != nil {
		return nil, err
	}
	if err := s.tables.Release(ctx, booking.TableID, booking.ID); err != nil {
		return nil, err
	}
	if err := s.store.UpdateBookingStatusWithVersion(ctx, booking.ID, booking.Version, models.StatusCancelled); err != nil {
		if errors.Is(err, database.ErrConcurrentModification) {
			return s.reloadAfterRace(ctx, bookingID, models.StatusCancelled)
		}
		return nil, err
	}

	booking.Status = models.StatusCancelled
	booking.Version++
	s.logger.Info().
		Int64("booking_id", booking.ID).
		Str("actor", actor).
		Str("reason", reason).
		Msg("Бронь отменена")
	metrics.IncBookingTransition(models.StatusCancelled)
	s.publishBookingEvent(events.EventBookingCancelled, booking, reason, actor)
	return booking, nil
}

func (s *BookingService) cancelOpenSettlements(ctx context.Context, bookingID int64, actor, reason string) error {
	settlements, err := s.store.GetSettlementsByBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	for _, st := range settlements {
		if !st.Pending() {
			continue
		}
		if err := s.store.UpdateSettlementOutcomeWithVersion(ctx, st.ID, st.Version, models.OutcomeCancelled, reason); err != nil {
			return fmt.Errorf("cancel settlement %d: %w", st.ID, err)
		}
		metrics.IncSettlementOutcome(st.Kind, models.OutcomeCancelled)
		s.publishSettlementEvent(events.EventSettlementCancelled, st, models.OutcomeCancelled, reason, actor)
	}
	return nil
}

// completeLocked finishes a confirmed booking after its final payment
// settled: the table goes back to empty and the booking to completed.
// Assumes the caller holds the booking key lock.
func (s *BookingService) completeLocked(ctx context.Context, bookingID int64) (*models.Booking, error) {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	switch booking.Status {
	case models.StatusCompleted:
		return booking, nil
	case models.StatusConfirmed:
	default:
		return nil, fmt.Errorf("complete booking %d in status %s: %w", bookingID, booking.Status, database.ErrInvalidTransition)
	}

	if err := s.tables.Release(ctx, booking.TableID, booking.ID); err != nil {
		return nil, err
	}
	if err := s.store.UpdateBookingStatusWithVersion(ctx, booking.ID, booking.Version, models.StatusCompleted); err != nil {
		if errors.Is(err, database.ErrConcurrentModification) {
			return s.reloadAfterRace(ctx, bookingID, models.StatusCompleted)
		}
		return nil, err
	}

	booking.Status = models.StatusCompleted
	booking.Version++
	s.logger.Info().Int64("booking_id", booking.ID).Msg("Бронь завершена")
	metrics.IncBookingTransition(models.StatusCompleted)
	s.publishBookingEvent(events.EventBookingCompleted, booking, "", "")
	return booking, nil
}

// reloadAfterRace resolves a lost compare-and-swap: if the other writer
// reached the same status, treat the operation as an idempotent success.
func (s *BookingService) reloadAfterRace(ctx context.Context, bookingID int64, wantStatus string) (*models.Booking, error) {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status == wantStatus {
		return booking, nil
	}
	return nil, fmt.Errorf("booking %d moved to %s concurrently: %w", bookingID, booking.Status, database.ErrConcurrentModification)
}

func (s *BookingService) publishBookingEvent(eventType string, b *models.Booking, reason, actor string) {
	if s.bus == nil {
		return
	}
	payload := events.BookingEventPayload{
		BookingID:    b.ID,
		TableID:      b.TableID,
		TableName:    b.TableName,
		CustomerName: b.CustomerName,
		Phone:        b.Phone,
		PartySize:    b.PartySize,
		Status:       b.Status,
		Date:         b.Date,
		Time:         b.Time,
		Reason:       reason,
		ChangedBy:    actor,
	}
	if err := s.bus.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("Не удалось опубликовать событие")
	}
}

func (s *BookingService) publishSettlementEvent(eventType string, st *models.Settlement, outcome, reason, actor string) {
	if s.bus == nil {
		return
	}
	payload := events.SettlementEventPayload{
		SettlementID:  st.ID,
		BookingID:     st.BookingID,
		Kind:          st.Kind,
		Amount:        st.Amount,
		Outcome:       outcome,
		BankReference: st.BankReference,
		FailureReason: reason,
		ChangedBy:     actor,
	}
	if err := s.bus.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("Не удалось опубликовать событие")
	}
}
