package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"caphe/internal/database"
	"caphe/internal/logging"
	"caphe/internal/models"
)

func TestPeriodReport(t *testing.T) {
	logger := logging.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "export.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, db.SyncTables(ctx, []models.Table{{Name: "T1", Capacity: 4, IsActive: true}}))
	table, err := db.GetTableByName(ctx, "T1")
	require.NoError(t, err)

	booking := &models.Booking{
		TableID:       table.ID,
		CustomerName:  "Анна",
		Phone:         "+79990001122",
		PartySize:     3,
		Date:          time.Now().AddDate(0, 0, 1),
		Time:          "18:30",
		DepositAmount: 50000,
		Status:        models.StatusPending,
	}
	require.NoError(t, db.CreateBookingWithHold(ctx, booking))

	settlement := &models.Settlement{
		BookingID:     booking.ID,
		Kind:          models.KindDeposit,
		Amount:        50000,
		BankReference: "ref-1",
		Outcome:       models.OutcomeAwaitingPayment,
	}
	require.NoError(t, db.CreateSettlement(ctx, settlement))

	dir := t.TempDir()
	exporter := NewExporter(db, dir, logger)

	start := time.Now()
	path, err := exporter.PeriodReport(ctx, start, start.AddDate(0, 0, 7))
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Contains(t, f.GetSheetList(), "Брони")
	assert.Contains(t, f.GetSheetList(), "Расчёты")

	name, err := f.GetCellValue("Брони", "C3")
	require.NoError(t, err)
	assert.Equal(t, "Анна", name)

	ref, err := f.GetCellValue("Расчёты", "E2")
	require.NoError(t, err)
	assert.Equal(t, "ref-1", ref)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "", formatAmount(0))
	assert.Equal(t, "500.00", formatAmount(50000))
	assert.Equal(t, "499.99", formatAmount(49999))
}
