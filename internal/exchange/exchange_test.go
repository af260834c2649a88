package exchange

import (
	"context"
	"math"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
)

func newMockedClient(t *testing.T) *Client {
	t.Helper()
	client := NewClient(ClientConfig{Endpoint: DefaultEndpoint})
	httpmock.ActivateNonDefault(client.httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return client
}

func TestJPYToTWD_DerivedFromUSDCrosses(t *testing.T) {
	client := newMockedClient(t)

	httpmock.RegisterResponder(http.MethodGet, DefaultEndpoint,
		httpmock.NewStringResponder(200, `{
			"USDJPY": {"Exrate": 150.0, "UTC": "2026-08-23 00:00:00"},
			"USDTWD": {"Exrate": 31.5, "UTC": "2026-08-23 00:00:00"}
		}`))

	rate := client.JPYToTWD(context.Background())
	if math.Abs(rate-0.21) > 1e-9 {
		t.Errorf("rate = %v, want 0.21", rate)
	}
}

func TestJPYToTWD_FallbackOnServerError(t *testing.T) {
	client := newMockedClient(t)

	httpmock.RegisterResponder(http.MethodGet, DefaultEndpoint,
		httpmock.NewStringResponder(503, "unavailable"))

	if rate := client.JPYToTWD(context.Background()); rate != FallbackJPYToTWD {
		t.Errorf("rate = %v, want fallback %v", rate, FallbackJPYToTWD)
	}
}

func TestJPYToTWD_FallbackOnBadPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>blocked</html>"},
		{"missing pair", `{"USDJPY": {"Exrate": 150.0}}`},
		{"zero rate", `{"USDJPY": {"Exrate": 0}, "USDTWD": {"Exrate": 31.5}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newMockedClient(t)
			httpmock.RegisterResponder(http.MethodGet, DefaultEndpoint,
				httpmock.NewStringResponder(200, tt.body))

			if rate := client.JPYToTWD(context.Background()); rate != FallbackJPYToTWD {
				t.Errorf("rate = %v, want fallback %v", rate, FallbackJPYToTWD)
			}
		})
	}
}

func TestConvertJPYToTWD(t *testing.T) {
	tests := []struct {
		jpy  int64
		rate float64
		want int64
	}{
		{1000, 0.21, 210},
		{4500, 0.21, 945},
		{999, 0.21, 209},
		{0, 0.21, 0},
	}

	for _, tt := range tests {
		if got := ConvertJPYToTWD(tt.jpy, tt.rate); got != tt.want {
			t.Errorf("ConvertJPYToTWD(%d, %v) = %d, want %d", tt.jpy, tt.rate, got, tt.want)
		}
	}
}
