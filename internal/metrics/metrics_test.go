package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("create_booking", "201")
		IncBookingTransition("confirmed")
		IncSettlementOutcome("deposit", "confirmed")
		IncGatewayError("lookup_transfer")
		IncPollAttempt()
		IncPollExhausted()
	})
}
