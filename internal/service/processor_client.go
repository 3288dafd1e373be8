package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/courseloom/monetization/internal/domain"
	"github.com/courseloom/monetization/internal/logging"
	"github.com/courseloom/monetization/internal/service/transfer"
)

// ProcessorClient confirms money movement with the external payment
// processor before any ledger effect is applied. Calls are bounded to five
// seconds; any failure is transient and leaves the ledger untouched.
type ProcessorClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewProcessorClient(baseURL string) *ProcessorClient {
	return &ProcessorClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type confirmationPayload struct {
	Reference   string `json:"reference"`
	WalletID    string `json:"wallet_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

type confirmationResponse struct {
	Confirmed bool   `json:"confirmed"`
	Reason    string `json:"reason,omitempty"`
}

func (c *ProcessorClient) ConfirmDeposit(ctx context.Context, req transfer.ProcessorRequest) error {
	return c.confirm(ctx, "/confirmations/deposit", req)
}

func (c *ProcessorClient) ConfirmPayout(ctx context.Context, req transfer.ProcessorRequest) error {
	return c.confirm(ctx, "/confirmations/payout", req)
}

func (c *ProcessorClient) confirm(ctx context.Context, path string, req transfer.ProcessorRequest) error {
	log := logging.FromContext(ctx)

	payload := confirmationPayload{
		Reference:   req.Reference,
		WalletID:    req.WalletID.String(),
		AmountCents: req.AmountCents,
		Currency:    string(req.Currency),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("confirm: marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("confirm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("confirm: send: %v: %w", err, domain.ErrProcessorUnavailable)
	}
	defer resp.Body.Close()

	log.Info("processor confirmation response",
		"path", path,
		"reference", req.Reference,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("confirm: status %d: %s: %w", resp.StatusCode, string(respBody), domain.ErrProcessorUnavailable)
	}

	var result confirmationResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("confirm: decode: %w", domain.ErrProcessorUnavailable)
	}
	if !result.Confirmed {
		return fmt.Errorf("confirm: rejected: %s: %w", result.Reason, domain.ErrProcessorUnavailable)
	}
	return nil
}
