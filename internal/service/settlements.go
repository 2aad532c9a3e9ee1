package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"caphe/internal/database"
	"caphe/internal/domain"
	"caphe/internal/events"
	"caphe/internal/metrics"
	"caphe/internal/models"
)

// SettlementService owns money state: QR issuance, transfer polling and
// the confirmed/failed/cancelled outcomes. An awaiting settlement never
// expires on its own; when polling gives up it stays awaiting until an
// operator confirms or cancels it.
//
// Gateway and order-subsystem calls run with no key lock held. Local
// state is re-read under the booking lock after every external call.
type SettlementService struct {
	store    domain.Store
	gateway  domain.PaymentGateway
	orders   domain.OrderClient
	bookings *BookingService
	state    domain.StateRepository
	bus      domain.EventPublisher
	enqueue  domain.PollEnqueuer
	locks    *keyLock
	logger   *zerolog.Logger
}

func NewSettlementService(
	store domain.Store,
	gateway domain.PaymentGateway,
	orders domain.OrderClient,
	bookings *BookingService,
	state domain.StateRepository,
	bus domain.EventPublisher,
	locks *keyLock,
	logger *zerolog.Logger,
) *SettlementService {
	return &SettlementService{
		store:    store,
		gateway:  gateway,
		orders:   orders,
		bookings: bookings,
		state:    state,
		bus:      bus,
		locks:    locks,
		logger:   logger,
	}
}

// Start returns the open settlement of the given kind for the booking,
// creating one if none exists. Safe to retry: a second call while the
// first settlement awaits payment returns the same settlement, so a
// client retry never produces a second QR code for the same money.
func (s *SettlementService) Start(ctx context.Context, bookingID int64, kind string, amount int64) (*models.Settlement, error) {
	if kind != models.KindDeposit && kind != models.KindFinalPayment {
		return nil, fmt.Errorf("%w: unknown settlement kind %q", database.ErrValidation, kind)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: settlement amount must be positive", database.ErrValidation)
	}

	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	switch {
	case kind == models.KindDeposit && booking.Status != models.StatusPending:
		return nil, fmt.Errorf("deposit settlement for booking %d in status %s: %w", bookingID, booking.Status, database.ErrInvalidTransition)
	case kind == models.KindFinalPayment && booking.Status != models.StatusConfirmed:
		return nil, fmt.Errorf("final settlement for booking %d in status %s: %w", bookingID, booking.Status, database.ErrInvalidTransition)
	}

	if existing, err := s.findOpen(ctx, bookingID, kind); err != nil {
		return nil, err
	} else if existing != nil && existing.QRPayload != "" {
		return existing, nil
	}

	// QR issuance happens lock-free; the settlement row is only written
	// after the gateway answered.
	reference := uuid.New().String()
	payload, err := s.gateway.GenerateQR(ctx, amount, reference)
	if err != nil {
		metrics.IncGatewayError("generate_qr")
		return nil, fmt.Errorf("generate QR for booking %d: %w", bookingID, err)
	}

	unlock := s.locks.Lock(bookingKey(bookingID))
	defer unlock()

	// Повторная проверка: другой запрос мог успеть создать расчёт.
	existing, err := s.findOpen(ctx, bookingID, kind)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.QRPayload == "" {
			// Референс должен совпадать с тем, что зашит в QR, иначе
			// опрос никогда не увидит оплату.
			if err := s.store.UpdateSettlementQR(ctx, existing.ID, payload, reference); err != nil {
				return nil, err
			}
			existing.QRPayload = payload
			existing.BankReference = reference
		}
		return existing, nil
	}

	settlement := &models.Settlement{
		BookingID:     bookingID,
		Kind:          kind,
		Amount:        amount,
		BankReference: reference,
		QRPayload:     payload,
		Outcome:       models.OutcomeAwaitingPayment,
	}
	if err := s.store.CreateSettlement(ctx, settlement); err != nil {
		return nil, err
	}
	s.schedulePoll(ctx, settlement.ID)

	s.logger.Info().
		Int64("settlement_id", settlement.ID).
		Int64("booking_id", bookingID).
		Str("kind", kind).
		Int64("amount", amount).
		Msg("Расчёт начат")
	metrics.IncSettlementOutcome(kind, models.OutcomeAwaitingPayment)
	s.publishEvent(events.EventSettlementStarted, settlement, "", "")
	return settlement, nil
}

// schedulePoll queues the settlement for background polling. The worker's
// enqueuer persists the task and feeds its fast-path queue; without one
// the task is written directly and picked up by the periodic sweep.
// Either way the settlement is valid on failure: manual poll still works.
func (s *SettlementService) schedulePoll(ctx context.Context, settlementID int64) {
	var err error
	if s.enqueue != nil {
		err = s.enqueue.EnqueuePoll(ctx, settlementID)
	} else {
		err = s.store.CreatePollTask(ctx, &models.PollTask{SettlementID: settlementID, Status: models.TaskStatusPending})
	}
	if err != nil {
		s.logger.Warn().Err(err).Int64("settlement_id", settlementID).Msg("Не удалось поставить задачу опроса")
	}
}

func (s *SettlementService) findOpen(ctx context.Context, bookingID int64, kind string) (*models.Settlement, error) {
	existing, err := s.store.GetPendingSettlement(ctx, bookingID, kind)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return existing, nil
}

// Poll asks the gateway for transfers observed against the settlement's
// bank reference. Exact amount match confirms; a larger transfer fails
// the settlement for manual reconciliation; a smaller one is "not yet
// paid" and leaves the settlement awaiting.
func (s *SettlementService) Poll(ctx context.Context, settlementID int64) (*models.Settlement, error) {
	settlement, err := s.store.GetSettlement(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	if settlement.Terminal() {
		return settlement, nil
	}

	metrics.IncPollAttempt()
	transfers, err := s.gateway.LookupTransfer(ctx, settlement.BankReference)
	if err != nil {
		metrics.IncGatewayError("lookup_transfer")
		return nil, fmt.Errorf("lookup transfer for settlement %d: %w", settlementID, err)
	}

	var over *domain.Transfer
	for i := range transfers {
		t := transfers[i]
		if t.Amount == settlement.Amount {
			return s.confirm(ctx, settlementID, "auto")
		}
		if t.Amount > settlement.Amount {
			over = &t
		}
	}

	if over != nil {
		return s.failMismatch(ctx, settlementID, over.Amount)
	}

	s.recordPollMiss(ctx, settlement)
	return settlement, nil
}

// ConfirmManually applies the same downstream effects as an automatic
// match. Confirming an already confirmed settlement re-drives the
// downstream transitions (which are themselves no-ops once applied) and
// reports success.
func (s *SettlementService) ConfirmManually(ctx context.Context, settlementID int64, actor string) (*models.Settlement, error) {
	return s.confirm(ctx, settlementID, actor)
}

func (s *SettlementService) confirm(ctx context.Context, settlementID int64, actor string) (*models.Settlement, error) {
	peek, err := s.store.GetSettlement(ctx, settlementID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(bookingKey(peek.BookingID))
	settlement, err := s.store.GetSettlement(ctx, settlementID)
	if err != nil {
		unlock()
		return nil, err
	}

	switch settlement.Outcome {
	case models.OutcomeConfirmed:
		// Идемпотентный повтор: переходим сразу к нижестоящим шагам.
	case models.OutcomeAwaitingPayment:
		if err := s.confirmCAS(ctx, settlement); err != nil {
			unlock()
			return nil, err
		}
		s.logger.Info().
			Int64("settlement_id", settlement.ID).
			Int64("booking_id", settlement.BookingID).
			Str("kind", settlement.Kind).
			Str("actor", actor).
			Msg("Расчёт подтверждён")
		metrics.IncSettlementOutcome(settlement.Kind, models.OutcomeConfirmed)
		s.publishEvent(events.EventSettlementConfirmed, settlement, "", actor)
		if s.state != nil {
			_ = s.state.ClearPollState(ctx, settlement.ID)
		}
	default:
		unlock()
		return nil, fmt.Errorf("confirm settlement %d in outcome %s: %w", settlementID, settlement.Outcome, database.ErrInvalidTransition)
	}

	booking, err := s.store.GetBooking(ctx, settlement.BookingID)
	if err != nil {
		unlock()
		return settlement, err
	}
	// Бронь уже дошла до конца: нижестоящее давно применено, повтор
	// подтверждения ничего не перепроигрывает.
	if booking.Status == models.StatusCompleted {
		unlock()
		return settlement, nil
	}

	switch settlement.Kind {
	case models.KindDeposit:
		_, err := s.bookings.confirmLocked(ctx, settlement.BookingID, actor)
		unlock()
		if err != nil {
			return settlement, fmt.Errorf("confirm booking after deposit settlement %d: %w", settlement.ID, err)
		}
	case models.KindFinalPayment:
		// Заказ помечается оплаченным без удержания блокировки.
		unlock()
		if err := s.orders.MarkOrderPaid(ctx, settlement.BookingID); err != nil {
			return settlement, fmt.Errorf("mark order paid for booking %d: %w", settlement.BookingID, err)
		}
		relock := s.locks.Lock(bookingKey(settlement.BookingID))
		_, err := s.bookings.completeLocked(ctx, settlement.BookingID)
		relock()
		if err != nil {
			return settlement, fmt.Errorf("complete booking after final settlement %d: %w", settlement.ID, err)
		}
	default:
		unlock()
	}

	return settlement, nil
}

// confirmCAS flips the settlement to confirmed with a version check and
// mutates the in-memory copy to match. A lost race against another
// confirmer counts as success.
func (s *SettlementService) confirmCAS(ctx context.Context, settlement *models.Settlement) error {
	err := s.store.ConfirmSettlementWithVersion(ctx, settlement.ID, settlement.Version)
	if errors.Is(err, database.ErrConcurrentModification) {
		reloaded, rerr := s.store.GetSettlement(ctx, settlement.ID)
		if rerr != nil {
			return rerr
		}
		if reloaded.Outcome == models.OutcomeConfirmed {
			*settlement = *reloaded
			return nil
		}
		return fmt.Errorf("settlement %d moved to %s concurrently: %w", settlement.ID, reloaded.Outcome, database.ErrConcurrentModification)
	}
	if err != nil {
		return err
	}
	now := time.Now()
	settlement.Outcome = models.OutcomeConfirmed
	settlement.ConfirmedAt = &now
	settlement.Version++
	return nil
}

// Cancel voids an awaiting settlement. It never touches the booking: the
// caller decides whether the booking should be cancelled too.
func (s *SettlementService) Cancel(ctx context.Context, settlementID int64, actor string) (*models.Settlement, error) {
	peek, err := s.store.GetSettlement(ctx, settlementID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(bookingKey(peek.BookingID))
	defer unlock()

	settlement, err := s.store.GetSettlement(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	switch settlement.Outcome {
	case models.OutcomeCancelled:
		return settlement, nil
	case models.OutcomeAwaitingPayment:
	default:
		return nil, fmt.Errorf("cancel settlement %d in outcome %s: %w", settlementID, settlement.Outcome, database.ErrInvalidTransition)
	}

	reason := "cancelled by " + actor
	if err := s.store.UpdateSettlementOutcomeWithVersion(ctx, settlement.ID, settlement.Version, models.OutcomeCancelled, reason); err != nil {
		return nil, err
	}
	settlement.Outcome = models.OutcomeCancelled
	settlement.FailureReason = reason
	settlement.Version++

	s.logger.Info().Int64("settlement_id", settlement.ID).Str("actor", actor).Msg("Расчёт отменён")
	metrics.IncSettlementOutcome(settlement.Kind, models.OutcomeCancelled)
	s.publishEvent(events.EventSettlementCancelled, settlement, reason, actor)
	if s.state != nil {
		_ = s.state.ClearPollState(ctx, settlement.ID)
	}
	return settlement, nil
}

func (s *SettlementService) failMismatch(ctx context.Context, settlementID, observed int64) (*models.Settlement, error) {
	settlement, err := s.store.GetSettlement(ctx, settlementID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(bookingKey(settlement.BookingID))
	defer unlock()

	settlement, err = s.store.GetSettlement(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	if settlement.Terminal() {
		return settlement, nil
	}

	reason := fmt.Sprintf("transfer amount %d exceeds expected %d", observed, settlement.Amount)
	if err := s.store.UpdateSettlementOutcomeWithVersion(ctx, settlement.ID, settlement.Version, models.OutcomeFailed, reason); err != nil {
		return nil, err
	}
	settlement.Outcome = models.OutcomeFailed
	settlement.FailureReason = reason
	settlement.Version++

	s.logger.Warn().
		Int64("settlement_id", settlement.ID).
		Int64("expected", settlement.Amount).
		Int64("observed", observed).
		Msg("Сумма перевода не совпала, требуется ручная сверка")
	metrics.IncSettlementOutcome(settlement.Kind, models.OutcomeFailed)
	s.publishEvent(events.EventSettlementFailed, settlement, reason, "auto")
	if s.state != nil {
		_ = s.state.ClearPollState(ctx, settlement.ID)
	}
	return settlement, fmt.Errorf("settlement %d: %w", settlement.ID, database.ErrPaymentMismatch)
}

// recordPollMiss keeps best-effort poll bookkeeping in the state
// repository. Failures here never affect money state.
func (s *SettlementService) recordPollMiss(ctx context.Context, settlement *models.Settlement) {
	if s.state == nil {
		return
	}
	state, err := s.state.GetPollState(ctx, settlement.ID)
	if err != nil || state == nil {
		state = &models.PollState{SettlementID: settlement.ID}
	}
	state.Attempts++
	state.LastPolledAt = time.Now()
	state.LastOutcome = settlement.Outcome
	if err := s.state.SetPollState(ctx, state); err != nil {
		s.logger.Debug().Err(err).Int64("settlement_id", settlement.ID).Msg("Не удалось сохранить состояние опроса")
	}
}

func (s *SettlementService) publishEvent(eventType string, st *models.Settlement, reason, actor string) {
	if s.bus == nil {
		return
	}
	payload := events.SettlementEventPayload{
		SettlementID:  st.ID,
		BookingID:     st.BookingID,
		Kind:          st.Kind,
		Amount:        st.Amount,
		Outcome:       st.Outcome,
		BankReference: st.BankReference,
		FailureReason: reason,
		ChangedBy:     actor,
	}
	if err := s.bus.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("Не удалось опубликовать событие")
	}
}
