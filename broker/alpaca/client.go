// Package alpaca is a REST client for the Alpaca trading and market data
// APIs. It implements broker.Broker, market.Provider, market.LastTrader
// and market.Calendar.
package alpaca

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/rustyeddy/stocktrader/internal/retry"
)

const (
	PaperURL = "https://paper-api.alpaca.markets"
	LiveURL  = "https://api.alpaca.markets"
	DataURL  = "https://data.alpaca.markets"
)

type Config struct {
	KeyID      string
	SecretKey  string
	TradingURL string // default PaperURL
	DataURL    string // default DataURL
	Feed       string // "iex" or "sip"
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.TradingURL == "" {
		cfg.TradingURL = PaperURL
	}
	if cfg.DataURL == "" {
		cfg.DataURL = DataURL
	}
	if cfg.Feed == "" {
		cfg.Feed = "iex"
	}
	cfg.TradingURL = strings.TrimRight(cfg.TradingURL, "/")
	cfg.DataURL = strings.TrimRight(cfg.DataURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("alpaca: status %d: %s", e.Status, e.Message)
}

// do sends the request and returns the parsed body. Client errors other
// than 429 are marked permanent so retries stop early.
func (c *Client) do(ctx context.Context, method, base, path string, params url.Values, body io.Reader) (gjson.Result, error) {
	u := base + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.cfg.KeyID)
	req.Header.Set("APCA-API-SECRET-KEY", c.cfg.SecretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(data, "message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		apiErr := &APIError{Status: resp.StatusCode, Message: msg}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return gjson.Result{}, retry.Permanent(apiErr)
		}
		return gjson.Result{}, apiErr
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("%s %s: invalid json", method, path)
	}
	return gjson.ParseBytes(data), nil
}

// num reads a JSON number or numeric string.
func num(r gjson.Result) float64 {
	if r.Type == gjson.String {
		d, err := decimal.NewFromString(r.Str)
		if err != nil {
			return 0
		}
		return d.InexactFloat64()
	}
	return r.Float()
}

func parseTime(r gjson.Result) time.Time {
	if !r.Exists() || r.Str == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, r.Str)
	if err != nil {
		return time.Time{}
	}
	return t
}
