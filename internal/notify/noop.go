package notify

import (
	"context"

	"caphe/internal/models"

	"github.com/rs/zerolog"
)

// NopNotifier logs instead of delivering. Used when notifications are
// disabled in config and in tests.
type NopNotifier struct {
	logger *zerolog.Logger
}

func NewNopNotifier(logger *zerolog.Logger) *NopNotifier {
	return &NopNotifier{logger: logger}
}

func (n *NopNotifier) NotifyCustomer(ctx context.Context, booking *models.Booking, message string) error {
	n.logger.Debug().Int64("booking_id", booking.ID).Str("message", message).Msg("Customer notification suppressed")
	return nil
}

func (n *NopNotifier) NotifyEmployees(ctx context.Context, message string) error {
	n.logger.Debug().Str("message", message).Msg("Employee notification suppressed")
	return nil
}
