package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caphe/internal/models"
)

func TestSyncTablesUpsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedTables(t, db)

	table := mustTable(t, db, "T1")
	require.NoError(t, db.HoldTable(ctx, table.ID, 42))

	// Повторная синхронизация меняет вместимость, но не занятость.
	require.NoError(t, db.SyncTables(ctx, []models.Table{
		{Name: "T1", Capacity: 6, IsActive: true},
	}))

	updated, err := db.GetTable(ctx, table.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), updated.Capacity)
	assert.Equal(t, models.OccupancyHeld, updated.OccupancyStatus)
	assert.Equal(t, int64(42), updated.BookingID)
}

func TestGetTableNotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetTable(context.Background(), 12345)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = db.GetTableByName(context.Background(), "no-such-table")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetActiveTables(t *testing.T) {
	db := newTestDB(t)
	seedTables(t, db)

	tables, err := db.GetActiveTables(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 2)
	for _, table := range tables {
		assert.True(t, table.IsActive)
		assert.Equal(t, models.OccupancyEmpty, table.OccupancyStatus)
	}
}

func TestHoldTable(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedTables(t, db)
	table := mustTable(t, db, "T1")

	require.NoError(t, db.HoldTable(ctx, table.ID, 1))

	held, err := db.GetTable(ctx, table.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OccupancyHeld, held.OccupancyStatus)
	assert.Equal(t, int64(1), held.BookingID)
	assert.Greater(t, held.Version, table.Version)

	// Занятый стол не отдаётся второй броне.
	err = db.HoldTable(ctx, table.ID, 2)
	assert.ErrorIs(t, err, ErrTableUnavailable)

	// Неактивный стол недоступен.
	veranda := mustTable(t, db, "Veranda")
	err = db.HoldTable(ctx, veranda.ID, 3)
	assert.ErrorIs(t, err, ErrTableUnavailable)

	err = db.HoldTable(ctx, 9999, 4)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOccupyTable(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedTables(t, db)
	table := mustTable(t, db, "T1")

	// Нельзя занять пустой стол.
	err := db.OccupyTable(ctx, table.ID, 1)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, db.HoldTable(ctx, table.ID, 1))

	// Чужая бронь не может занять стол.
	err = db.OccupyTable(ctx, table.ID, 2)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, db.OccupyTable(ctx, table.ID, 1))
	occupied, err := db.GetTable(ctx, table.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OccupancyOccupied, occupied.OccupancyStatus)
}

func TestReleaseTable(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedTables(t, db)
	table := mustTable(t, db, "T1")

	// Освобождение пустого стола запрещено.
	err := db.ReleaseTable(ctx, table.ID, 1)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, db.HoldTable(ctx, table.ID, 1))
	require.NoError(t, db.ReleaseTable(ctx, table.ID, 1))

	released, err := db.GetTable(ctx, table.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OccupancyEmpty, released.OccupancyStatus)
	assert.Zero(t, released.BookingID)

	// Из occupied тоже освобождается.
	require.NoError(t, db.HoldTable(ctx, table.ID, 2))
	require.NoError(t, db.OccupyTable(ctx, table.ID, 2))
	require.NoError(t, db.ReleaseTable(ctx, table.ID, 2))

	released, err = db.GetTable(ctx, table.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OccupancyEmpty, released.OccupancyStatus)
}
