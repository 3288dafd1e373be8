package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// TrustClient fetches a seller's 0-1000 reputation score from the trust
// provider. The fee policy clamps whatever comes back, so a slightly stale
// or out-of-range score cannot produce an invalid commission.
type TrustClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewTrustClient(baseURL string) *TrustClient {
	return &TrustClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (c *TrustClient) Score(ctx context.Context, sellerID uuid.UUID) (int, error) {
	url := fmt.Sprintf("%s/trust-scores/%s", c.baseURL, sellerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("Score: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("Score: send: %w", err)
	}
	defer resp.Body.Close()

	// An unknown seller scores zero: new sellers pay the maximum commission.
	if resp.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("Score: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Score int `json:"score"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("Score: decode: %w", err)
	}
	return body.Score, nil
}
