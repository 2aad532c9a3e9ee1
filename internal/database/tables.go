package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"caphe/internal/models"
)

const tableColumns = `id, name, capacity, occupancy_status, COALESCE(booking_id, 0), is_active, version, created_at, updated_at`

func scanTable(row interface{ Scan(...any) error }) (*models.Table, error) {
	var t models.Table
	err := row.Scan(
		&t.ID, &t.Name, &t.Capacity, &t.OccupancyStatus, &t.BookingID,
		&t.IsActive, &t.Version, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (db *DB) GetTable(ctx context.Context, id int64) (*models.Table, error) {
	query := `SELECT ` + tableColumns + ` FROM tables WHERE id = ?`
	t, err := scanTable(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("table %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get table: %w", err)
	}
	return t, nil
}

func (db *DB) GetTableByName(ctx context.Context, name string) (*models.Table, error) {
	query := `SELECT ` + tableColumns + ` FROM tables WHERE name = ?`
	t, err := scanTable(db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("table %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get table by name: %w", err)
	}
	return t, nil
}

func (db *DB) GetActiveTables(ctx context.Context) ([]*models.Table, error) {
	query := `SELECT ` + tableColumns + ` FROM tables WHERE is_active = 1 ORDER BY name, id`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get active tables: %w", err)
	}
	defer rows.Close()

	var tables []*models.Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

func (db *DB) CreateTable(ctx context.Context, table *models.Table) error {
	query := `INSERT INTO tables (name, capacity, occupancy_status, is_active, version, created_at, updated_at)
              VALUES (?, ?, ?, ?, 1, ?, ?)`
	now := time.Now()
	status := table.OccupancyStatus
	if status == "" {
		status = models.OccupancyEmpty
	}
	result, err := db.ExecContext(ctx, query, table.Name, table.Capacity, status, table.IsActive, now, now)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	table.ID = id
	table.OccupancyStatus = status
	table.Version = 1
	table.CreatedAt = now
	table.UpdatedAt = now
	return nil
}

// SyncTables upserts the configured table list at startup. Occupancy of
// existing rows is never touched here.
func (db *DB) SyncTables(ctx context.Context, tables []models.Table) error {
	query := `INSERT INTO tables (name, capacity, occupancy_status, is_active, version, created_at, updated_at)
              VALUES (?, ?, 'empty', ?, 1, ?, ?)
              ON CONFLICT(name) DO UPDATE SET
                  capacity = excluded.capacity,
                  is_active = excluded.is_active,
                  updated_at = excluded.updated_at`
	now := time.Now()
	for _, t := range tables {
		if _, err := db.ExecContext(ctx, query, t.Name, t.Capacity, t.IsActive, now, now); err != nil {
			return fmt.Errorf("failed to sync table %q: %w", t.Name, err)
		}
	}
	return nil
}

// HoldTable transitions a table from empty to held for the given booking.
// The conditional update is the sole defense against double-booking: two
// concurrent holds on one table resolve to exactly one affected row.
func (db *DB) HoldTable(ctx context.Context, tableID, bookingID int64) error {
	query := `UPDATE tables SET occupancy_status = ?, booking_id = ?, version = version + 1, updated_at = ?
              WHERE id = ? AND occupancy_status = ? AND is_active = 1`
	result, err := db.ExecContext(ctx, query, models.OccupancyHeld, bookingID, time.Now(), tableID, models.OccupancyEmpty)
	if err != nil {
		return fmt.Errorf("failed to hold table: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := db.GetTable(ctx, tableID); err != nil {
			return err
		}
		return ErrTableUnavailable
	}
	return nil
}

// OccupyTable transitions held to occupied once the deposit is settled.
// Fails if the table is not held by that booking.
func (db *DB) OccupyTable(ctx context.Context, tableID, bookingID int64) error {
	query := `UPDATE tables SET occupancy_status = ?, version = version + 1, updated_at = ?
              WHERE id = ? AND occupancy_status = ? AND booking_id = ?`
	result, err := db.ExecContext(ctx, query, models.OccupancyOccupied, time.Now(), tableID, models.OccupancyHeld, bookingID)
	if err != nil {
		return fmt.Errorf("failed to occupy table: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("occupy table %d for booking %d: %w", tableID, bookingID, ErrInvalidTransition)
	}
	return nil
}

// ReleaseTable returns a held or occupied table to empty. Fails if the
// table is not currently associated with that booking.
func (db *DB) ReleaseTable(ctx context.Context, tableID, bookingID int64) error {
	query := `UPDATE tables SET occupancy_status = ?, booking_id = NULL, version = version + 1, updated_at = ?
              WHERE id = ? AND booking_id = ? AND occupancy_status IN (?, ?)`
	result, err := db.ExecContext(ctx, query, models.OccupancyEmpty, time.Now(), tableID, bookingID,
		models.OccupancyHeld, models.OccupancyOccupied)
	if err != nil {
		return fmt.Errorf("failed to release table: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("release table %d for booking %d: %w", tableID, bookingID, ErrInvalidTransition)
	}
	return nil
}
