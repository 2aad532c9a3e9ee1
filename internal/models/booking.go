package models

import "time"

type Booking struct {
	ID            int64      `json:"id"`
	TableID       int64      `json:"table_id"`
	TableName     string     `json:"table_name"`
	CustomerName  string     `json:"customer_name"`
	Phone         string     `json:"phone"`
	Email         string     `json:"email,omitempty"`
	PartySize     int64      `json:"party_size"`
	Date          time.Time  `json:"date"`
	Time          string     `json:"time"` // HH:MM, café-local
	Items         []LineItem `json:"items,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	DepositAmount int64      `json:"deposit_amount"` // minor currency units
	TotalAmount   int64      `json:"total_amount"`   // 0 until items finalized
	Status        string     `json:"status"`         // pending, confirmed, cancelled, completed
	Version       int64      `json:"version"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// LineItem is a menu selection attached to a booking. Pricing belongs to
// the menu subsystem; the engine only stores the selection.
type LineItem struct {
	MenuItemID int64  `json:"menu_item_id"`
	Name       string `json:"name"`
	Quantity   int64  `json:"quantity"`
}

// Active reports whether the booking still holds or occupies its table.
func (b *Booking) Active() bool {
	return b.Status == StatusPending || b.Status == StatusConfirmed
}

// Terminal reports whether the booking reached a final state.
func (b *Booking) Terminal() bool {
	return b.Status == StatusCancelled || b.Status == StatusCompleted
}
