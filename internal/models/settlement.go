package models

import "time"

// Settlement is a single money-confirmation attempt (deposit or final
// payment) tied to one booking. Amounts are integer minor currency units.
// Confirmed, Failed and Cancelled are terminal and immutable.
type Settlement struct {
	ID            int64      `json:"id"`
	BookingID     int64      `json:"booking_id"`
	Kind          string     `json:"kind"`    // deposit, final_payment
	Amount        int64      `json:"amount"`  // minor currency units
	BankReference string     `json:"bank_reference"`
	QRPayload     string     `json:"qr_payload,omitempty"`
	Outcome       string     `json:"outcome"` // awaiting_payment, confirmed, failed, cancelled
	FailureReason string     `json:"failure_reason,omitempty"`
	Version       int64      `json:"version"`
	CreatedAt     time.Time  `json:"created_at"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
}

// Pending reports whether the settlement still awaits a bank transfer.
func (s *Settlement) Pending() bool {
	return s.Outcome == OutcomeAwaitingPayment
}

// Terminal reports whether the settlement reached an immutable outcome.
func (s *Settlement) Terminal() bool {
	return !s.Pending()
}
