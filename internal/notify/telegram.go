package notify

import (
	"context"
	"fmt"

	"caphe/internal/config"
	"caphe/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramNotifier delivers messages to the staff Telegram channel.
// Customer-facing delivery channels (SMS, Zalo) are separate systems;
// staff relays customer messages from the same channel for now.
// TODO: route NotifyCustomer through the SMS provider once its account
// is provisioned.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zerolog.Logger
}

func NewTelegramNotifier(cfg config.NotificationsConfig, logger *zerolog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug

	logger.Info().Str("bot", bot.Self.UserName).Msg("Telegram notifier connected")
	return &TelegramNotifier{bot: bot, chatID: cfg.EmployeeChatID, logger: logger}, nil
}

func (n *TelegramNotifier) NotifyCustomer(ctx context.Context, booking *models.Booking, message string) error {
	text := fmt.Sprintf("[customer] %s (%s)\n%s", booking.CustomerName, booking.Phone, message)
	return n.send(text)
}

func (n *TelegramNotifier) NotifyEmployees(ctx context.Context, message string) error {
	return n.send(message)
}

func (n *TelegramNotifier) send(text string) error {
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error().Err(err).Msg("Failed to send telegram notification")
		return fmt.Errorf("failed to send telegram notification: %w", err)
	}
	return nil
}
