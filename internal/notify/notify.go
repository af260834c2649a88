// Package notify delivers price alerts through the Telegram bot API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/deltaguita/market-tracker/internal/models"
)

const defaultAPIBase = "https://api.telegram.org"

// Notifier sends product alerts to a Telegram chat.
type Notifier struct {
	apiBase    string
	botToken   string
	chatID     string
	httpClient *http.Client
	logger     *slog.Logger
}

// Config holds configuration for the Telegram notifier.
type Config struct {
	// APIBase overrides the Telegram API host, used in tests.
	APIBase  string
	BotToken string
	ChatID   string
	Timeout  time.Duration
	Logger   *slog.Logger
}

// New creates a Telegram notifier.
func New(cfg Config) (*Notifier, error) {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return nil, fmt.Errorf("telegram bot token and chat id are required")
	}

	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Notifier{
		apiBase:  apiBase,
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}, nil
}

// NotifyNewProduct announces a newly tracked listing. withinBudget switches
// the headline when the price already sits under the configured ceiling.
func (n *Notifier) NotifyNewProduct(ctx context.Context, source models.Source, obs models.Observation, withinBudget bool) error {
	title := "新商品上架"
	if withinBudget {
		title = "有預算內目標商品上架"
	}

	message := fmt.Sprintf("<b>%s</b>\n\n<b>%s</b>\n%s\n<a href=\"%s\">查看商品</a>",
		title,
		html.EscapeString(obs.Title),
		formatPrices(source, obs),
		obs.ProductURL)

	return n.send(ctx, message, obs.ImageURL)
}

// NotifyPriceDrop announces a price drop. The old price is shown struck
// through in the source's primary currency.
func (n *Notifier) NotifyPriceDrop(ctx context.Context, source models.Source, drop models.PriceDrop) error {
	message := fmt.Sprintf("<b>價格降低</b>\n\n<b>%s</b>\n%s\n<a href=\"%s\">查看商品</a>",
		html.EscapeString(drop.Observation.Title),
		formatDropPrices(source, drop),
		drop.Observation.ProductURL)

	return n.send(ctx, message, drop.Observation.ImageURL)
}

// Budget carries the per-URL price ceiling in the currency the source quotes:
// USD for amazon_us, TWD for mercari_jp.
type Budget struct {
	MaxUSD *float64
	MaxTWD *int64
}

// Within reports whether the observation's price sits at or under the ceiling.
func (b Budget) Within(source models.Source, obs models.Observation) bool {
	if source == models.SourceAmazonUS {
		return b.MaxUSD != nil && obs.PriceUSD != nil &&
			*obs.PriceUSD > 0 && *obs.PriceUSD <= *b.MaxUSD
	}
	return b.MaxTWD != nil && obs.PriceTWD != nil &&
		*obs.PriceTWD > 0 && *obs.PriceTWD <= *b.MaxTWD
}

// NotifyBatch delivers one message per new product and per price drop,
// returning how many of them were sent.
func (n *Notifier) NotifyBatch(ctx context.Context, source models.Source, result models.CompareResult, budget Budget) (sent, total int) {
	total = len(result.New) + len(result.PriceDropped)

	for _, obs := range result.New {
		withinBudget := budget.Within(source, obs)
		if err := n.NotifyNewProduct(ctx, source, obs, withinBudget); err != nil {
			n.logger.Error("failed to send new product alert",
				"product_id", obs.ID, "error", err)
			continue
		}
		sent++
	}

	for _, drop := range result.PriceDropped {
		if err := n.NotifyPriceDrop(ctx, source, drop); err != nil {
			n.logger.Error("failed to send price drop alert",
				"product_id", drop.Observation.ID, "error", err)
			continue
		}
		sent++
	}

	return sent, total
}

// formatPrices renders the observation's prices in the currencies its source
// uses: USD for amazon_us, JPY plus TWD for mercari_jp.
func formatPrices(source models.Source, obs models.Observation) string {
	var lines []string
	if source == models.SourceAmazonUS {
		if obs.PriceUSD != nil && *obs.PriceUSD > 0 {
			lines = append(lines, fmt.Sprintf("USD $%.2f", *obs.PriceUSD))
		}
	} else {
		if obs.PriceJPY != nil && *obs.PriceJPY > 0 {
			lines = append(lines, fmt.Sprintf("日幣：¥%s", formatThousands(*obs.PriceJPY)))
		}
		if obs.PriceTWD != nil && *obs.PriceTWD > 0 {
			lines = append(lines, fmt.Sprintf("台幣：NT$%s", formatThousands(*obs.PriceTWD)))
		}
	}
	if len(lines) == 0 {
		return "價格未標示"
	}
	return strings.Join(lines, "\n")
}

func formatDropPrices(source models.Source, drop models.PriceDrop) string {
	obs := drop.Observation
	var lines []string

	if source == models.SourceAmazonUS {
		if obs.PriceUSD != nil && *obs.PriceUSD > 0 && drop.OldPrice > 0 {
			line := fmt.Sprintf("USD: <s>$%.2f</s> -> $%.2f", drop.OldPrice, *obs.PriceUSD)
			if pct, ok := models.DropPercent(drop.OldPrice, *obs.PriceUSD); ok {
				line += fmt.Sprintf("  降價: $%.2f (%.1f%%)", drop.OldPrice-*obs.PriceUSD, pct)
			}
			lines = append(lines, line)
		}
	} else {
		if obs.PriceJPY != nil && *obs.PriceJPY > 0 && drop.OldPrice > 0 {
			oldJPY := int64(drop.OldPrice)
			line := fmt.Sprintf("日幣：<s>¥%s</s> -> ¥%s",
				formatThousands(oldJPY), formatThousands(*obs.PriceJPY))
			if pct, ok := models.DropPercent(drop.OldPrice, float64(*obs.PriceJPY)); ok {
				line += fmt.Sprintf("  降價: ¥%s (%.1f%%)", formatThousands(oldJPY-*obs.PriceJPY), pct)
			}
			lines = append(lines, line)
		}
		if obs.PriceTWD != nil && *obs.PriceTWD > 0 {
			lines = append(lines, fmt.Sprintf("台幣：NT$%s", formatThousands(*obs.PriceTWD)))
		}
	}

	if len(lines) == 0 {
		return "價格未標示"
	}
	return strings.Join(lines, "\n")
}

// formatThousands renders n with comma separators.
func formatThousands(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// send posts the message through sendPhoto when a photo is available, falling
// back to sendMessage.
func (n *Notifier) send(ctx context.Context, text, photoURL string) error {
	var (
		method  string
		payload map[string]string
	)
	if photoURL != "" {
		method = "sendPhoto"
		payload = map[string]string{
			"chat_id":    n.chatID,
			"photo":      photoURL,
			"caption":    text,
			"parse_mode": "HTML",
		}
	} else {
		method = "sendMessage"
		payload = map[string]string{
			"chat_id":    n.chatID,
			"text":       text,
			"parse_mode": "HTML",
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", n.apiBase, n.botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("telegram returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
