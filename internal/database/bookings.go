package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"caphe/internal/models"
)

const bookingColumns = `id, table_id, table_name, customer_name, phone, COALESCE(email, ''),
                 party_size, date, time, COALESCE(items, ''), COALESCE(notes, ''),
                 deposit_amount, total_amount, status, version, created_at, updated_at`

func scanBooking(row interface{ Scan(...any) error }) (*models.Booking, error) {
	var b models.Booking
	var itemsJSON string
	err := row.Scan(
		&b.ID, &b.TableID, &b.TableName, &b.CustomerName, &b.Phone, &b.Email,
		&b.PartySize, &b.Date, &b.Time, &itemsJSON, &b.Notes,
		&b.DepositAmount, &b.TotalAmount, &b.Status, &b.Version, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if itemsJSON != "" {
		if err := json.Unmarshal([]byte(itemsJSON), &b.Items); err != nil {
			return nil, fmt.Errorf("failed to decode booking items: %w", err)
		}
	}
	return &b, nil
}

func encodeItems(items []models.LineItem) (string, error) {
	if len(items) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("failed to encode booking items: %w", err)
	}
	return string(raw), nil
}

// CreateBookingWithHold inserts the booking and holds its table in one
// transaction. On a hold conflict nothing persists and ErrTableUnavailable
// is returned; creation is all-or-nothing.
func (db *DB) CreateBookingWithHold(ctx context.Context, booking *models.Booking) error {
	itemsJSON, err := encodeItems(booking.Items)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var tableName string
	var isActive bool
	err = tx.QueryRowContext(ctx, `SELECT name, is_active FROM tables WHERE id = ?`, booking.TableID).
		Scan(&tableName, &isActive)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("table %d: %w", booking.TableID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load table in tx: %w", err)
	}
	if !isActive {
		return fmt.Errorf("table %d is inactive: %w", booking.TableID, ErrTableUnavailable)
	}

	now := time.Now()
	result, err := tx.ExecContext(ctx, `INSERT INTO bookings (
				table_id, table_name, customer_name, phone, email, party_size,
				date, time, items, notes, deposit_amount, total_amount,
				status, version, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		booking.TableID, tableName, booking.CustomerName, booking.Phone, booking.Email,
		booking.PartySize, booking.Date.Format("2006-01-02"), booking.Time, itemsJSON,
		booking.Notes, booking.DepositAmount, booking.TotalAmount, booking.Status, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking in tx: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id in tx: %w", err)
	}

	// The conditional update loses when any active booking already holds
	// or occupies the table; the rollback then discards the insert too.
	holdResult, err := tx.ExecContext(ctx,
		`UPDATE tables SET occupancy_status = ?, booking_id = ?, version = version + 1, updated_at = ?
         WHERE id = ? AND occupancy_status = ?`,
		models.OccupancyHeld, id, now, booking.TableID, models.OccupancyEmpty,
	)
	if err != nil {
		return fmt.Errorf("failed to hold table in tx: %w", err)
	}
	rows, _ := holdResult.RowsAffected()
	if rows == 0 {
		return ErrTableUnavailable
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}

	booking.ID = id
	booking.TableName = tableName
	booking.Version = 1
	booking.CreatedAt = now
	booking.UpdatedAt = now
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	b, err := scanBooking(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

func (db *DB) UpdateBookingStatusWithVersion(ctx context.Context, id, fromVersion int64, status string) error {
	query := `UPDATE bookings SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`
	result, err := db.ExecContext(ctx, query, status, time.Now(), id, fromVersion)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (db *DB) UpdateBookingTotal(ctx context.Context, id, totalAmount int64) error {
	query := `UPDATE bookings SET total_amount = ?, updated_at = ? WHERE id = ?`
	result, err := db.ExecContext(ctx, query, totalAmount, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update booking total: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("booking %d: %w", id, ErrNotFound)
	}
	return nil
}

func (db *DB) GetBookingsByDateRange(ctx context.Context, startDate, endDate time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + `
              FROM bookings WHERE date(date) >= ? AND date(date) <= ? ORDER BY date, time, id`
	rows, err := db.QueryContext(ctx, query, startDate.Format("2006-01-02"), endDate.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to get bookings by date range: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// GetActiveBookingForTable returns the pending or confirmed booking
// referencing the table, if any.
func (db *DB) GetActiveBookingForTable(ctx context.Context, tableID int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + `
              FROM bookings WHERE table_id = ? AND status IN (?, ?) ORDER BY id DESC LIMIT 1`
	b, err := scanBooking(db.QueryRowContext(ctx, query, tableID, models.StatusPending, models.StatusConfirmed))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active booking for table %d: %w", tableID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active booking for table: %w", err)
	}
	return b, nil
}
