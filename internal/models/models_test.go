package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBookingStateHelpers(t *testing.T) {
	b := &Booking{Status: StatusPending}
	assert.True(t, b.Active())
	assert.False(t, b.Terminal())

	b.Status = StatusConfirmed
	assert.True(t, b.Active())

	b.Status = StatusCancelled
	assert.False(t, b.Active())
	assert.True(t, b.Terminal())

	b.Status = StatusCompleted
	assert.True(t, b.Terminal())
}

func TestSettlementStateHelpers(t *testing.T) {
	s := &Settlement{Outcome: OutcomeAwaitingPayment}
	assert.True(t, s.Pending())
	assert.False(t, s.Terminal())

	for _, outcome := range []string{OutcomeConfirmed, OutcomeFailed, OutcomeCancelled} {
		s.Outcome = outcome
		assert.False(t, s.Pending(), outcome)
		assert.True(t, s.Terminal(), outcome)
	}
}
