package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caphe/internal/events"
	"caphe/internal/logging"
	"caphe/internal/models"
)

type recordingNotifier struct {
	mu        sync.Mutex
	customer  []string
	employees []string
	err       error
}

func (r *recordingNotifier) NotifyCustomer(_ context.Context, _ *models.Booking, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.customer = append(r.customer, message)
	return r.err
}

func (r *recordingNotifier) NotifyEmployees(_ context.Context, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.employees = append(r.employees, message)
	return r.err
}

func TestSubscribeEventsBookingConfirmed(t *testing.T) {
	bus := events.NewEventBus()
	notifier := &recordingNotifier{}
	SubscribeEvents(bus, notifier, logging.Nop())

	require.NoError(t, bus.PublishJSON(events.EventBookingConfirmed, events.BookingEventPayload{
		BookingID:    7,
		TableName:    "T1",
		CustomerName: "Мария",
		Phone:        "+79991234567",
		Date:         time.Date(2026, 9, 12, 0, 0, 0, 0, time.UTC),
		Time:         "19:00",
	}))

	require.Len(t, notifier.employees, 1)
	require.Len(t, notifier.customer, 1)
	assert.Contains(t, notifier.employees[0], "Бронь #7 подтверждена")
	assert.Contains(t, notifier.employees[0], "12.09")
}

func TestSubscribeEventsBookingCreatedEmployeesOnly(t *testing.T) {
	bus := events.NewEventBus()
	notifier := &recordingNotifier{}
	SubscribeEvents(bus, notifier, logging.Nop())

	require.NoError(t, bus.PublishJSON(events.EventBookingCreated, events.BookingEventPayload{
		BookingID: 1, TableName: "T2", PartySize: 4,
	}))

	assert.Len(t, notifier.employees, 1)
	assert.Empty(t, notifier.customer)
}

func TestSubscribeEventsSettlementFailed(t *testing.T) {
	bus := events.NewEventBus()
	notifier := &recordingNotifier{}
	SubscribeEvents(bus, notifier, logging.Nop())

	require.NoError(t, bus.PublishJSON(events.EventSettlementFailed, events.SettlementEventPayload{
		SettlementID:  3,
		BookingID:     7,
		FailureReason: "transfer amount 60000 exceeds expected 50000",
	}))

	require.Len(t, notifier.employees, 1)
	assert.Contains(t, notifier.employees[0], "ручной сверки")
}

func TestSubscribeEventsDeliveryFailureSwallowed(t *testing.T) {
	bus := events.NewEventBus()
	notifier := &recordingNotifier{err: errors.New("telegram down")}
	SubscribeEvents(bus, notifier, logging.Nop())

	// Публикация не возвращает ошибку доставки.
	assert.NoError(t, bus.PublishJSON(events.EventBookingCancelled, events.BookingEventPayload{BookingID: 2}))
}
