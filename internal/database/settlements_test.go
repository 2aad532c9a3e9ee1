package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caphe/internal/models"
)

func newSettlement(t *testing.T, db *DB, kind, reference string) *models.Settlement {
	t.Helper()
	ctx := context.Background()
	seedTables(t, db)
	booking := newBooking(mustTable(t, db, "T1").ID)
	require.NoError(t, db.CreateBookingWithHold(ctx, booking))

	s := &models.Settlement{
		BookingID:     booking.ID,
		Kind:          kind,
		Amount:        50000,
		BankReference: reference,
		QRPayload:     "QR-PAYLOAD",
		Outcome:       models.OutcomeAwaitingPayment,
	}
	require.NoError(t, db.CreateSettlement(ctx, s))
	return s
}

func TestCreateAndGetSettlement(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := newSettlement(t, db, models.KindDeposit, "ref-1")
	assert.NotZero(t, s.ID)
	assert.Equal(t, int64(1), s.Version)

	loaded, err := db.GetSettlement(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.BankReference, loaded.BankReference)
	assert.Equal(t, models.OutcomeAwaitingPayment, loaded.Outcome)
	assert.Nil(t, loaded.ConfirmedAt)

	_, err = db.GetSettlement(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetPendingSettlement(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := newSettlement(t, db, models.KindDeposit, "ref-1")

	pending, err := db.GetPendingSettlement(ctx, s.BookingID, models.KindDeposit)
	require.NoError(t, err)
	assert.Equal(t, s.ID, pending.ID)

	// Другого вида нет.
	_, err = db.GetPendingSettlement(ctx, s.BookingID, models.KindFinalPayment)
	assert.ErrorIs(t, err, ErrNotFound)

	// Подтверждённый расчёт перестаёт быть открытым.
	require.NoError(t, db.ConfirmSettlementWithVersion(ctx, s.ID, s.Version))
	_, err = db.GetPendingSettlement(ctx, s.BookingID, models.KindDeposit)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConfirmSettlementWithVersion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := newSettlement(t, db, models.KindDeposit, "ref-1")

	require.NoError(t, db.ConfirmSettlementWithVersion(ctx, s.ID, s.Version))

	loaded, err := db.GetSettlement(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeConfirmed, loaded.Outcome)
	require.NotNil(t, loaded.ConfirmedAt)
	assert.WithinDuration(t, time.Now(), *loaded.ConfirmedAt, time.Minute)

	// Терминальный исход неизменяем.
	err = db.ConfirmSettlementWithVersion(ctx, s.ID, loaded.Version)
	assert.ErrorIs(t, err, ErrConcurrentModification)
	err = db.UpdateSettlementOutcomeWithVersion(ctx, s.ID, loaded.Version, models.OutcomeCancelled, "late cancel")
	assert.ErrorIs(t, err, ErrConcurrentModification)
}

func TestConfirmSettlementStaleVersion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := newSettlement(t, db, models.KindDeposit, "ref-1")

	err := db.ConfirmSettlementWithVersion(ctx, s.ID, s.Version+5)
	assert.ErrorIs(t, err, ErrConcurrentModification)
}

func TestUpdateSettlementOutcome(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := newSettlement(t, db, models.KindDeposit, "ref-1")

	require.NoError(t, db.UpdateSettlementOutcomeWithVersion(ctx, s.ID, s.Version, models.OutcomeFailed, "transfer amount 60000 exceeds expected 50000"))

	loaded, err := db.GetSettlement(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFailed, loaded.Outcome)
	assert.Contains(t, loaded.FailureReason, "exceeds expected")
}

func TestUpdateSettlementQR(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := newSettlement(t, db, models.KindDeposit, "ref-1")

	// Payload и референс меняются только вместе.
	require.NoError(t, db.UpdateSettlementQR(ctx, s.ID, "NEW-QR", "ref-2"))
	loaded, err := db.GetSettlement(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "NEW-QR", loaded.QRPayload)
	assert.Equal(t, "ref-2", loaded.BankReference)

	// После подтверждения QR заморожен.
	require.NoError(t, db.ConfirmSettlementWithVersion(ctx, s.ID, loaded.Version))
	err = db.UpdateSettlementQR(ctx, s.ID, "TOO-LATE", "ref-3")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestGetSettlementsByBooking(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := newSettlement(t, db, models.KindDeposit, "ref-1")

	final := &models.Settlement{
		BookingID:     s.BookingID,
		Kind:          models.KindFinalPayment,
		Amount:        90000,
		BankReference: "ref-2",
		Outcome:       models.OutcomeAwaitingPayment,
	}
	require.NoError(t, db.CreateSettlement(ctx, final))

	all, err := db.GetSettlementsByBooking(ctx, s.BookingID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDuplicateBankReferenceRejected(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := newSettlement(t, db, models.KindDeposit, "ref-1")

	dup := &models.Settlement{
		BookingID:     s.BookingID,
		Kind:          models.KindFinalPayment,
		Amount:        1000,
		BankReference: "ref-1",
		Outcome:       models.OutcomeAwaitingPayment,
	}
	assert.Error(t, db.CreateSettlement(ctx, dup))
}
