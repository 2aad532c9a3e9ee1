package models

import "time"

// PollState is the transient per-settlement polling state kept in the
// state repository (Redis with in-memory fallback). It is advisory: the
// settlement row in the database stays authoritative for money state.
type PollState struct {
	SettlementID int64     `json:"settlement_id"`
	Attempts     int       `json:"attempts"`
	LastPolledAt time.Time `json:"last_polled_at"`
	LastOutcome  string    `json:"last_outcome,omitempty"`
}
