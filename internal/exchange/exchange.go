// Package exchange fetches currency exchange rates for price conversion.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultEndpoint serves USD cross rates as a JSON map keyed by pair name.
const DefaultEndpoint = "https://tw.rter.info/capi.php"

// FallbackJPYToTWD is used when the rate service is unreachable or returns
// unusable data.
const FallbackJPYToTWD = 0.21

// Client fetches exchange rates.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientConfig holds configuration for the exchange rate client.
type ClientConfig struct {
	Endpoint string
	Timeout  time.Duration
	Logger   *slog.Logger
}

// NewClient creates a new exchange rate client.
func NewClient(cfg ClientConfig) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// quote is one currency pair entry in the rate service response.
type quote struct {
	Exrate float64 `json:"Exrate"`
	UTC    string  `json:"UTC"`
}

// JPYToTWD returns the current JPY to TWD conversion rate. Failures never
// propagate; the fallback rate is returned instead so a rate service outage
// cannot stall a crawl.
func (c *Client) JPYToTWD(ctx context.Context) float64 {
	rate, err := c.fetchJPYToTWD(ctx)
	if err != nil {
		c.logger.Warn("exchange rate fetch failed, using fallback",
			"error", err,
			"fallback", FallbackJPYToTWD)
		return FallbackJPYToTWD
	}
	return rate
}

func (c *Client) fetchJPYToTWD(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build rate request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("rate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("rate service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("failed to read rate response: %w", err)
	}

	var quotes map[string]quote
	if err := json.Unmarshal(body, &quotes); err != nil {
		return 0, fmt.Errorf("failed to parse rate response: %w", err)
	}

	// The service quotes everything against USD, so JPY->TWD is derived
	// from the two USD crosses.
	usdJPY, ok := quotes["USDJPY"]
	if !ok || usdJPY.Exrate <= 0 {
		return 0, fmt.Errorf("missing or invalid USDJPY quote")
	}
	usdTWD, ok := quotes["USDTWD"]
	if !ok || usdTWD.Exrate <= 0 {
		return 0, fmt.Errorf("missing or invalid USDTWD quote")
	}

	return usdTWD.Exrate / usdJPY.Exrate, nil
}

// ConvertJPYToTWD converts a JPY amount to a whole TWD amount using rate.
func ConvertJPYToTWD(jpy int64, rate float64) int64 {
	return int64(float64(jpy) * rate)
}
