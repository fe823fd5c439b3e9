package alpaca

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/rustyeddy/stocktrader/broker"
	"github.com/rustyeddy/stocktrader/market"
)

var (
	_ broker.Broker   = (*Client)(nil)
	_ market.Calendar = (*Client)(nil)
)

type orderBody struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty,omitempty"`
	Notional      string `json:"notional,omitempty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	ClientOrderID string `json:"client_order_id"`
}

// SubmitOrder places a day market order. Notional is sent with two
// decimals, as Alpaca requires.
func (c *Client) SubmitOrder(ctx context.Context, req broker.OrderRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	body := orderBody{
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		Type:          "market",
		TimeInForce:   "day",
		ClientOrderID: req.ClientOrderID,
	}
	if body.ClientOrderID == "" {
		body.ClientOrderID = uuid.NewString()
	}
	if req.Notional > 0 {
		body.Notional = decimal.NewFromFloat(req.Notional).Truncate(2).StringFixed(2)
	} else {
		body.Qty = decimal.NewFromFloat(req.Qty).String()
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode order: %w", err)
	}
	res, err := c.do(ctx, http.MethodPost, c.cfg.TradingURL, "/v2/orders", nil, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("submit order %s: %w", req.Symbol, err)
	}
	id := res.Get("id").String()
	if id == "" {
		return "", fmt.Errorf("submit order %s: response has no id", req.Symbol)
	}
	return id, nil
}

func (c *Client) GetOrder(ctx context.Context, id string) (broker.Order, error) {
	res, err := c.do(ctx, http.MethodGet, c.cfg.TradingURL, "/v2/orders/"+url.PathEscape(id), nil, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return broker.Order{}, fmt.Errorf("get order %s: %w", id, broker.ErrOrderNotFound)
		}
		return broker.Order{}, fmt.Errorf("get order %s: %w", id, err)
	}
	return parseOrder(res), nil
}

func parseOrder(r gjson.Result) broker.Order {
	return broker.Order{
		ID:             r.Get("id").String(),
		ClientOrderID:  r.Get("client_order_id").String(),
		Symbol:         r.Get("symbol").String(),
		Side:           broker.Side(r.Get("side").String()),
		Qty:            num(r.Get("qty")),
		Notional:       num(r.Get("notional")),
		FilledQty:      num(r.Get("filled_qty")),
		FilledAvgPrice: num(r.Get("filled_avg_price")),
		Status:         broker.OrderStatus(r.Get("status").String()),
		SubmittedAt:    parseTime(r.Get("submitted_at")),
		FilledAt:       parseTime(r.Get("filled_at")),
	}
}

func (c *Client) GetAccount(ctx context.Context) (broker.Account, error) {
	res, err := c.do(ctx, http.MethodGet, c.cfg.TradingURL, "/v2/account", nil, nil)
	if err != nil {
		return broker.Account{}, fmt.Errorf("get account: %w", err)
	}
	return broker.Account{
		ID:          res.Get("id").String(),
		Cash:        num(res.Get("cash")),
		Equity:      num(res.Get("equity")),
		BuyingPower: num(res.Get("buying_power")),
	}, nil
}

// GetPositions returns open positions. Short positions have negative qty.
func (c *Client) GetPositions(ctx context.Context) ([]broker.Position, error) {
	res, err := c.do(ctx, http.MethodGet, c.cfg.TradingURL, "/v2/positions", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	var out []broker.Position
	for _, p := range res.Array() {
		qty := num(p.Get("qty"))
		if p.Get("side").String() == "short" && qty > 0 {
			qty = -qty
		}
		out = append(out, broker.Position{
			Symbol:        p.Get("symbol").String(),
			Qty:           qty,
			AvgEntryPrice: num(p.Get("avg_entry_price")),
			CurrentPrice:  num(p.Get("current_price")),
		})
	}
	return out, nil
}

func (c *Client) GetClock(ctx context.Context) (broker.Clock, error) {
	res, err := c.do(ctx, http.MethodGet, c.cfg.TradingURL, "/v2/clock", nil, nil)
	if err != nil {
		return broker.Clock{}, fmt.Errorf("get clock: %w", err)
	}
	return broker.Clock{
		Timestamp: parseTime(res.Get("timestamp")),
		IsOpen:    res.Get("is_open").Bool(),
		NextOpen:  parseTime(res.Get("next_open")),
		NextClose: parseTime(res.Get("next_close")),
	}, nil
}

// TradingDays reads the exchange calendar, early closes included.
func (c *Client) TradingDays(ctx context.Context, start, end time.Time) ([]market.Session, error) {
	params := url.Values{}
	params.Set("start", market.Date(start).Format(time.DateOnly))
	params.Set("end", market.Date(end).Format(time.DateOnly))

	res, err := c.do(ctx, http.MethodGet, c.cfg.TradingURL, "/v2/calendar", params, nil)
	if err != nil {
		return nil, fmt.Errorf("get calendar: %w", err)
	}
	var out []market.Session
	for _, d := range res.Array() {
		day, err := time.ParseInLocation(time.DateOnly, d.Get("date").String(), market.NewYork)
		if err != nil {
			return nil, fmt.Errorf("calendar date %q: %w", d.Get("date").String(), err)
		}
		open, err := clockTime(day, d.Get("open").String())
		if err != nil {
			return nil, err
		}
		closing, err := clockTime(day, d.Get("close").String())
		if err != nil {
			return nil, err
		}
		out = append(out, market.Session{Day: day, Open: open, Close: closing})
	}
	return out, nil
}

func clockTime(day time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("calendar time %q: %w", hhmm, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, market.NewYork), nil
}
