package models

import "time"

// Table is a physical table in the café. OccupancyStatus and BookingID
// change only through the table registry; at most one active booking
// references a table at a time.
type Table struct {
	ID              int64     `json:"id" yaml:"id"`
	Name            string    `json:"name" yaml:"name"`
	Capacity        int64     `json:"capacity" yaml:"capacity"`
	OccupancyStatus string    `json:"occupancy_status" yaml:"-"`
	BookingID       int64     `json:"booking_id,omitempty" yaml:"-"`
	IsActive        bool      `json:"is_active" yaml:"is_active"`
	Version         int64     `json:"version" yaml:"-"`
	CreatedAt       time.Time `json:"created_at" yaml:"-"`
	UpdatedAt       time.Time `json:"updated_at" yaml:"-"`
}
