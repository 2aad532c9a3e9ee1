package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"caphe/internal/config"
	"caphe/internal/database"

	"github.com/rs/zerolog"
)

// Client talks to the order subsystem that owns line items and running
// totals for occupied tables. The engine only reads the total for a
// final settlement and marks the order paid afterwards.
type Client struct {
	cfg    config.OrdersConfig
	client *http.Client
	logger *zerolog.Logger
}

func NewClient(cfg config.OrdersConfig, logger *zerolog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type orderTotalResponse struct {
	BookingID   int64 `json:"booking_id"`
	TotalAmount int64 `json:"total_amount"`
}

func (c *Client) GetOrderTotal(ctx context.Context, bookingID int64) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/orders/by-booking/%d", bookingID))
	if err != nil {
		return 0, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("order total request: %v: %w", err, database.ErrGatewayUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, fmt.Errorf("order for booking %d: %w", bookingID, database.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("order service returned %d: %w", resp.StatusCode, database.ErrGatewayUnavailable)
	}

	var body orderTotalResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode order total: %w", database.ErrGatewayUnavailable)
	}
	return body.TotalAmount, nil
}

func (c *Client) MarkOrderPaid(ctx context.Context, bookingID int64) error {
	req, err := c.newRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/orders/by-booking/%d/paid", bookingID))
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("mark order paid request: %v: %w", err, database.ErrGatewayUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("order service returned %d: %w", resp.StatusCode, database.ErrGatewayUnavailable)
	}

	c.logger.Info().Int64("booking_id", bookingID).Msg("Order marked paid")
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	u := strings.TrimSuffix(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build order request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	return req, nil
}
