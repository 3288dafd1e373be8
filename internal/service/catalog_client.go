package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/courseloom/monetization/internal/domain"
	"github.com/courseloom/monetization/internal/service/transfer"
)

// CatalogClient checks product existence and list price before any access
// grant. Pricing display itself lives in the catalog service.
type CatalogClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewCatalogClient(baseURL string) *CatalogClient {
	return &CatalogClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (c *CatalogClient) GetProduct(ctx context.Context, productID uuid.UUID) (*transfer.Product, error) {
	url := fmt.Sprintf("%s/products/%s", c.baseURL, productID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("GetProduct: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GetProduct: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("GetProduct: %w", domain.ErrProductNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GetProduct: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		ID         string `json:"id"`
		PriceCents int64  `json:"price_cents"`
		Currency   string `json:"currency"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("GetProduct: decode: %w", err)
	}

	return &transfer.Product{
		ID:         productID,
		PriceCents: body.PriceCents,
		Currency:   domain.Currency(body.Currency),
	}, nil
}
