package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	financeErrors "github.com/sfranczak/FinanceCore/internal/finance/errors"
	"github.com/sfranczak/FinanceCore/internal/investment/models"
)

// ErrTickerNotFound means the provider answered but knows no such symbol.
// Anything else (network, 5xx, bad payload) surfaces as an
// ExternalProviderError and is treated as transient.
var ErrTickerNotFound = errors.New("ticker not found")

const providerName = "financialmodelingprep"

type FinancialModelingPrepClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewFMPClient(apiKey string) *FinancialModelingPrepClient {
	return &FinancialModelingPrepClient{
		apiKey:     apiKey,
		baseURL:    "https://financialmodelingprep.com/api/v3",
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// NewFMPClientWithBaseURL exists for tests pointing at a stub server.
func NewFMPClientWithBaseURL(apiKey, baseURL string) *FinancialModelingPrepClient {
	client := NewFMPClient(apiKey)
	client.baseURL = baseURL
	return client
}

// FetchQuote looks up the latest price and display name for one ticker.
func (c *FinancialModelingPrepClient) FetchQuote(ctx context.Context, ticker string) (*models.Quote, error) {
	fullURL := fmt.Sprintf("%s/quote/%s?apikey=%s", c.baseURL, url.PathEscape(ticker), c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, financeErrors.NewExternalProviderError(providerName, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, financeErrors.NewExternalProviderError(providerName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrTickerNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, financeErrors.NewExternalProviderError(providerName, fmt.Errorf("unexpected status: %s", resp.Status))
	}

	var results []struct {
		Symbol string  `json:"symbol"`
		Name   string  `json:"name"`
		Price  float64 `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, financeErrors.NewExternalProviderError(providerName, err)
	}
	if len(results) == 0 {
		return nil, ErrTickerNotFound
	}

	return &models.Quote{
		Ticker:      results[0].Symbol,
		Price:       decimal.NewFromFloat(results[0].Price),
		DisplayName: results[0].Name,
	}, nil
}
