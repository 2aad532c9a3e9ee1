package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"caphe/internal/models"
)

const settlementColumns = `id, booking_id, kind, amount, bank_reference, COALESCE(qr_payload, ''),
                 outcome, COALESCE(failure_reason, ''), version, created_at, confirmed_at`

func scanSettlement(row interface{ Scan(...any) error }) (*models.Settlement, error) {
	var s models.Settlement
	err := row.Scan(
		&s.ID, &s.BookingID, &s.Kind, &s.Amount, &s.BankReference, &s.QRPayload,
		&s.Outcome, &s.FailureReason, &s.Version, &s.CreatedAt, &s.ConfirmedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (db *DB) CreateSettlement(ctx context.Context, settlement *models.Settlement) error {
	query := `INSERT INTO settlements (booking_id, kind, amount, bank_reference, qr_payload, outcome, version, created_at)
              VALUES (?, ?, ?, ?, ?, ?, 1, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		settlement.BookingID, settlement.Kind, settlement.Amount,
		settlement.BankReference, settlement.QRPayload, settlement.Outcome, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create settlement: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	settlement.ID = id
	settlement.Version = 1
	settlement.CreatedAt = now
	return nil
}

func (db *DB) GetSettlement(ctx context.Context, id int64) (*models.Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE id = ?`
	s, err := scanSettlement(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("settlement %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	return s, nil
}

// GetPendingSettlement returns the awaiting-payment settlement of the
// given kind for a booking. At most one exists at a time.
func (db *DB) GetPendingSettlement(ctx context.Context, bookingID int64, kind string) (*models.Settlement, error) {
	query := `SELECT ` + settlementColumns + `
              FROM settlements WHERE booking_id = ? AND kind = ? AND outcome = ? ORDER BY id DESC LIMIT 1`
	s, err := scanSettlement(db.QueryRowContext(ctx, query, bookingID, kind, models.OutcomeAwaitingPayment))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pending %s settlement for booking %d: %w", kind, bookingID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending settlement: %w", err)
	}
	return s, nil
}

func (db *DB) GetSettlementsByBooking(ctx context.Context, bookingID int64) ([]*models.Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE booking_id = ? ORDER BY id`
	return db.querySettlements(ctx, query, bookingID)
}

func (db *DB) GetSettlementsByDateRange(ctx context.Context, startDate, endDate time.Time) ([]*models.Settlement, error) {
	query := `SELECT ` + settlementColumns + `
              FROM settlements WHERE date(created_at) >= ? AND date(created_at) <= ? ORDER BY id`
	return db.querySettlements(ctx, query, startDate.Format("2006-01-02"), endDate.Format("2006-01-02"))
}

func (db *DB) querySettlements(ctx context.Context, query string, args ...any) ([]*models.Settlement, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlements: %w", err)
	}
	defer rows.Close()

	var settlements []*models.Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}
		settlements = append(settlements, s)
	}
	return settlements, rows.Err()
}

// UpdateSettlementQR stores a freshly generated QR payload together with
// the bank reference it encodes; the pair must stay consistent or polls
// would never match the transfer. Only an awaiting-payment settlement may
// be updated.
func (db *DB) UpdateSettlementQR(ctx context.Context, id int64, payload, reference string) error {
	query := `UPDATE settlements SET qr_payload = ?, bank_reference = ? WHERE id = ? AND outcome = ?`
	result, err := db.ExecContext(ctx, query, payload, reference, id, models.OutcomeAwaitingPayment)
	if err != nil {
		return fmt.Errorf("failed to update settlement qr: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("settlement %d not awaiting payment: %w", id, ErrInvalidTransition)
	}
	return nil
}

// ConfirmSettlementWithVersion moves an awaiting-payment settlement to
// confirmed under an optimistic version check. Terminal outcomes are
// immutable, so the transition is guarded on both version and outcome.
func (db *DB) ConfirmSettlementWithVersion(ctx context.Context, id, fromVersion int64) error {
	query := `UPDATE settlements SET outcome = ?, confirmed_at = ?, version = version + 1
              WHERE id = ? AND version = ? AND outcome = ?`
	result, err := db.ExecContext(ctx, query, models.OutcomeConfirmed, time.Now(), id, fromVersion, models.OutcomeAwaitingPayment)
	if err != nil {
		return fmt.Errorf("failed to confirm settlement: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// UpdateSettlementOutcomeWithVersion moves an awaiting-payment settlement
// to failed or cancelled under an optimistic version check.
func (db *DB) UpdateSettlementOutcomeWithVersion(ctx context.Context, id, fromVersion int64, outcome, reason string) error {
	query := `UPDATE settlements SET outcome = ?, failure_reason = ?, version = version + 1
              WHERE id = ? AND version = ? AND outcome = ?`
	result, err := db.ExecContext(ctx, query, outcome, reason, id, fromVersion, models.OutcomeAwaitingPayment)
	if err != nil {
		return fmt.Errorf("failed to update settlement outcome: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}
