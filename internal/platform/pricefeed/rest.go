package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
)

// RESTClient polls an HTTP price provider. It satisfies the oracle source
// contract directly, so it can be registered with the aggregator without an
// adapter.
type RESTClient struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

// NewRESTClient creates a REST price client.
//
// baseURL is the provider API root, e.g. "https://api.example.com/v1".
// The client issues GET {baseURL}/price?symbol={symbol} requests.
func NewRESTClient(name, baseURL string) *RESTClient {
	return &RESTClient{
		name:    name,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name returns the source name attached to readings from this client.
func (c *RESTClient) Name() string { return c.name }

// Read fetches the latest price for a symbol.
func (c *RESTClient) Read(ctx context.Context, symbol string) (domain.SourceReading, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.doGet(ctx, "/price?"+params.Encode())
	if err != nil {
		return domain.SourceReading{}, fmt.Errorf("pricefeed/rest: read %s/%s: %w", c.name, symbol, err)
	}

	var tick TickMessage
	if err := json.Unmarshal(body, &tick); err != nil {
		return domain.SourceReading{}, fmt.Errorf("pricefeed/rest: decode %s/%s: %w", c.name, symbol, err)
	}
	if tick.Symbol == "" {
		tick.Symbol = symbol
	}
	if tick.Price == 0 {
		return domain.SourceReading{}, fmt.Errorf("pricefeed/rest: %s/%s: %w", c.name, symbol, domain.ErrNotFound)
	}

	return tick.ToReading(c.name, time.Now()), nil
}

// doGet sends an unauthenticated GET request to the provider.
func (c *RESTClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}
