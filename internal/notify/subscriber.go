package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"caphe/internal/domain"
	"caphe/internal/events"
	"caphe/internal/models"
)

// SubscribeEvents wires domain events to the notifier. Delivery failures
// are logged and swallowed: notifications never feed back into booking
// or money state.
func SubscribeEvents(bus *events.EventBus, notifier domain.Notifier, logger *zerolog.Logger) {
	bus.Subscribe(events.EventBookingCreated, bookingHandler(notifier, logger, func(p events.BookingEventPayload) (string, bool) {
		return fmt.Sprintf("Новая бронь #%d: стол %s, %s %s, %d гостей (%s, %s)",
			p.BookingID, p.TableName, p.Date.Format("02.01"), p.Time, p.PartySize, p.CustomerName, p.Phone), false
	}))

	bus.Subscribe(events.EventBookingConfirmed, bookingHandler(notifier, logger, func(p events.BookingEventPayload) (string, bool) {
		return fmt.Sprintf("Бронь #%d подтверждена: стол %s, %s %s",
			p.BookingID, p.TableName, p.Date.Format("02.01"), p.Time), true
	}))

	bus.Subscribe(events.EventBookingCancelled, bookingHandler(notifier, logger, func(p events.BookingEventPayload) (string, bool) {
		msg := fmt.Sprintf("Бронь #%d отменена", p.BookingID)
		if p.Reason != "" {
			msg += ": " + p.Reason
		}
		return msg, true
	}))

	bus.Subscribe(events.EventSettlementFailed, func(event *events.Event) error {
		var p events.SettlementEventPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			logger.Warn().Err(err).Str("event", event.Type).Msg("Не удалось разобрать событие")
			return nil
		}
		msg := fmt.Sprintf("⚠️ Расчёт #%d по брони #%d требует ручной сверки: %s",
			p.SettlementID, p.BookingID, p.FailureReason)
		if err := notifier.NotifyEmployees(context.Background(), msg); err != nil {
			logger.Warn().Err(err).Int64("settlement_id", p.SettlementID).Msg("Уведомление сотрудникам не доставлено")
		}
		return nil
	})
}

// bookingHandler decodes a booking payload and sends the built message
// to employees and, when toCustomer is set, to the customer as well.
func bookingHandler(notifier domain.Notifier, logger *zerolog.Logger, build func(events.BookingEventPayload) (message string, toCustomer bool)) events.EventHandler {
	return func(event *events.Event) error {
		var p events.BookingEventPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			logger.Warn().Err(err).Str("event", event.Type).Msg("Не удалось разобрать событие")
			return nil
		}

		msg, toCustomer := build(p)
		ctx := context.Background()
		if err := notifier.NotifyEmployees(ctx, msg); err != nil {
			logger.Warn().Err(err).Int64("booking_id", p.BookingID).Msg("Уведомление сотрудникам не доставлено")
		}
		if toCustomer {
			booking := &models.Booking{ID: p.BookingID, CustomerName: p.CustomerName, Phone: p.Phone}
			if err := notifier.NotifyCustomer(ctx, booking, msg); err != nil {
				logger.Warn().Err(err).Int64("booking_id", p.BookingID).Msg("Уведомление гостю не доставлено")
			}
		}
		return nil
	}
}
