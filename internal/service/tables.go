package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"caphe/internal/domain"
	"caphe/internal/models"
)

// TableRegistry exposes occupancy transitions over the store. Transitions
// are conditional updates, so a losing racer gets ErrTableUnavailable or
// ErrInvalidTransition rather than clobbering state. Creation-time holds
// go through the store's booking transaction instead, so a booking and
// its hold commit atomically.
type TableRegistry struct {
	store  domain.Store
	logger *zerolog.Logger
}

func NewTableRegistry(store domain.Store, logger *zerolog.Logger) *TableRegistry {
	return &TableRegistry{store: store, logger: logger}
}

// List returns all active tables with their live occupancy.
func (r *TableRegistry) List(ctx context.Context) ([]*models.Table, error) {
	return r.store.GetActiveTables(ctx)
}

// Get returns one table by id.
func (r *TableRegistry) Get(ctx context.Context, id int64) (*models.Table, error) {
	return r.store.GetTable(ctx, id)
}

// TryHold moves table to held on behalf of booking. Fails with
// ErrTableUnavailable when the table is not empty.
func (r *TableRegistry) TryHold(ctx context.Context, tableID, bookingID int64) error {
	if err := r.store.HoldTable(ctx, tableID, bookingID); err != nil {
		return err
	}
	r.logger.Info().Int64("table_id", tableID).Int64("booking_id", bookingID).Msg("Стол захолдирован")
	return nil
}

// Occupy moves a held table to occupied for the booking that holds it.
func (r *TableRegistry) Occupy(ctx context.Context, tableID, bookingID int64) error {
	if err := r.store.OccupyTable(ctx, tableID, bookingID); err != nil {
		return fmt.Errorf("occupy table %d: %w", tableID, err)
	}
	r.logger.Info().Int64("table_id", tableID).Int64("booking_id", bookingID).Msg("Стол занят гостями")
	return nil
}

// Release returns a held or occupied table to empty. Only the booking
// recorded on the table may release it.
func (r *TableRegistry) Release(ctx context.Context, tableID, bookingID int64) error {
	if err := r.store.ReleaseTable(ctx, tableID, bookingID); err != nil {
		return fmt.Errorf("release table %d: %w", tableID, err)
	}
	r.logger.Info().Int64("table_id", tableID).Int64("booking_id", bookingID).Msg("Стол освобождён")
	return nil
}
