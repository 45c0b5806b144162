package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openfund/accounting/internal/domain"
)

// MarketDataClient fetches historical price observations for an asset from an
// external collector, used to backfill listings on demand.
type MarketDataClient interface {
	HistoricalPrices(ctx context.Context, asset domain.AssetRef, from, to time.Time) ([]Listing, error)
}

// HTTPMarketDataClient fetches historical prices over a market-data HTTP API
// with retry on rate limiting. Crypto assets are mapped to the provider's
// identifiers through externalIDs.
type HTTPMarketDataClient struct {
	baseURL     string
	source      string
	httpClient  *http.Client
	maxRetries  int
	baseDelay   time.Duration
	externalIDs map[int64]string
}

// NewHTTPMarketDataClient creates a market-data client. externalIDs maps
// crypto asset ids to provider coin ids.
func NewHTTPMarketDataClient(baseURL, source string, maxRetries int, baseDelay time.Duration, externalIDs map[int64]string) *HTTPMarketDataClient {
	return &HTTPMarketDataClient{
		baseURL:     baseURL,
		source:      source,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxRetries:  maxRetries,
		baseDelay:   baseDelay,
		externalIDs: externalIDs,
	}
}

// HistoricalPrices fetches USD and BTC prices between from and to. Assets
// without an external id mapping yield no listings.
func (c *HTTPMarketDataClient) HistoricalPrices(ctx context.Context, asset domain.AssetRef, from, to time.Time) ([]Listing, error) {
	cryptoID, ok := asset.CryptoID()
	if !ok {
		return nil, nil
	}
	coinID, ok := c.externalIDs[cryptoID]
	if !ok {
		return nil, nil
	}

	url := fmt.Sprintf("%s/coins/%s/market_chart/range?vs_currency=usd&from=%d&to=%d",
		c.baseURL, coinID, from.Unix(), to.Unix())
	body, err := c.getWithRetry(ctx, url)
	if err != nil {
		return nil, err
	}

	// Parse: {"prices":[[1700000000000, 42000.5], ...]}
	var raw struct {
		Prices [][]float64 `json:"prices"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing market data response: %w", err)
	}

	listings := make([]Listing, 0, len(raw.Prices))
	for _, p := range raw.Prices {
		if len(p) != 2 {
			continue
		}
		listings = append(listings, Listing{
			Asset:    asset,
			Source:   c.source,
			ListedAt: time.UnixMilli(int64(p[0])).UTC(),
			USDPrice: decimal.NewFromFloat(p[1]),
		})
	}
	return listings, nil
}

// getWithRetry performs a GET request with exponential backoff on 429.
func (c *HTTPMarketDataClient) getWithRetry(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := range c.maxRetries + 1 {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("executing request: %w", err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			return body, nil
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("HTTP 429 at %s (attempt %d/%d)", url, attempt+1, c.maxRetries+1)
			if attempt < c.maxRetries {
				delay := c.baseDelay * time.Duration(1<<uint(attempt))
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(delay):
				}
				continue
			}
			return nil, lastErr
		}

		return nil, fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, url, string(body))
	}
	return nil, lastErr
}
