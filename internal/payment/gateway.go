package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"caphe/internal/config"
	"caphe/internal/database"
	"caphe/internal/domain"

	"github.com/rs/zerolog"
)

// Gateway talks to the bank QR provider over HTTP. Every call is bounded
// by the configured timeout; transport errors and 5xx responses map to
// ErrGatewayUnavailable so callers know the poll is safe to retry.
type Gateway struct {
	cfg    config.PaymentConfig
	client *http.Client
	logger *zerolog.Logger
}

func NewGateway(cfg config.PaymentConfig, logger *zerolog.Logger) *Gateway {
	return &Gateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type qrRequest struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	BankCode      string `json:"bank_code"`
	Amount        int64  `json:"amount"`
	Reference     string `json:"reference"`
}

type qrResponse struct {
	Payload string `json:"payload"`
}

// GenerateQR asks the provider for a displayable QR payload that encodes
// the café account, the amount, and the bank reference.
func (g *Gateway) GenerateQR(ctx context.Context, amount int64, reference string) (string, error) {
	body, err := json.Marshal(qrRequest{
		AccountNumber: g.cfg.AccountNumber,
		AccountName:   g.cfg.AccountName,
		BankCode:      g.cfg.BankCode,
		Amount:        amount,
		Reference:     reference,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode qr request: %w", err)
	}

	req, err := g.newRequest(ctx, http.MethodPost, "/v1/qr", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp qrResponse
	if err := g.do(req, &resp); err != nil {
		return "", err
	}
	if resp.Payload == "" {
		return "", fmt.Errorf("gateway returned empty qr payload: %w", database.ErrGatewayUnavailable)
	}
	return resp.Payload, nil
}

type transferResponse struct {
	Transfers []struct {
		Reference string    `json:"reference"`
		Amount    int64     `json:"amount"`
		SeenAt    time.Time `json:"seen_at"`
	} `json:"transfers"`
}

// LookupTransfer reports the transfers the provider has observed for a
// bank reference. An empty slice means nothing matched yet.
func (g *Gateway) LookupTransfer(ctx context.Context, reference string) ([]domain.Transfer, error) {
	path := "/v1/transfers?" + url.Values{"reference": {reference}}.Encode()
	req, err := g.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp transferResponse
	if err := g.do(req, &resp); err != nil {
		return nil, err
	}

	transfers := make([]domain.Transfer, 0, len(resp.Transfers))
	for _, t := range resp.Transfers {
		transfers = append(transfers, domain.Transfer{
			Reference: t.Reference,
			Amount:    t.Amount,
			SeenAt:    t.SeenAt,
		})
	}
	return transfers, nil
}

func (g *Gateway) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := strings.TrimSuffix(g.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}
	return req, nil
}

func (g *Gateway) do(req *http.Request, out any) error {
	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Payment gateway request failed")
		return fmt.Errorf("gateway request %s: %v: %w", req.URL.Path, err, database.ErrGatewayUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("gateway returned %d for %s: %w", resp.StatusCode, req.URL.Path, database.ErrGatewayUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway returned %d for %s: %s: %w",
			resp.StatusCode, req.URL.Path, strings.TrimSpace(string(raw)), database.ErrGatewayUnavailable)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", database.ErrGatewayUnavailable)
	}
	return nil
}
