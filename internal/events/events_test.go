package events

import (
	"encoding/json"
	"testing"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	bus.Subscribe(EventSettlementConfirmed, func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	payload := SettlementEventPayload{
		SettlementID: 7,
		BookingID:    3,
		Kind:         "deposit",
		Amount:       100000,
		Outcome:      "confirmed",
	}
	if err := bus.PublishJSON(EventSettlementConfirmed, payload); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
	if received.Type != EventSettlementConfirmed {
		t.Errorf("expected type %s, got %s", EventSettlementConfirmed, received.Type)
	}

	var decoded SettlementEventPayload
	if err := json.Unmarshal(received.Payload, &decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if decoded.SettlementID != 7 || decoded.Amount != 100000 {
		t.Errorf("unexpected payload: %+v", decoded)
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2 int

	bus.Subscribe(EventBookingConfirmed, func(_ *Event) error { count1++; return nil })
	bus.Subscribe(EventBookingConfirmed, func(_ *Event) error { count2++; return nil })

	bus.Publish(&Event{Type: EventBookingConfirmed})

	if count1 != 1 || count2 != 1 {
		t.Errorf("expected both handlers to be called once, got %d and %d", count1, count2)
	}
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	// Publishing with no subscribers must not panic.
	bus.Publish(&Event{Type: "nobody_listens"})

	if err := bus.PublishJSON("nobody_listens", map[string]int{"x": 1}); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}
}
