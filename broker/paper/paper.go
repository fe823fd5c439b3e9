// Package paper is an in-memory broker that fills market orders at the
// last price it was given. It backs paper sessions and tests.
package paper

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rustyeddy/stocktrader/broker"
	"github.com/rustyeddy/stocktrader/market"
)

const qtyEpsilon = 1e-9

type Broker struct {
	mu        sync.Mutex
	id        string
	cash      float64
	prices    map[string]float64
	positions map[string]*broker.Position
	orders    map[string]*order
	now       func() time.Time

	// Spread widens fills: buys at price*(1+Spread), sells at price*(1-Spread).
	Spread float64
	// FillAfter is how many GetOrder polls report an order as accepted
	// before it shows as filled.
	FillAfter int
	// Reject, when set, can refuse an order before it is booked.
	Reject func(broker.OrderRequest) error
}

type order struct {
	broker.Order
	polls int
}

var _ broker.Broker = (*Broker)(nil)

func New(cash float64, now func() time.Time) *Broker {
	if now == nil {
		now = time.Now
	}
	return &Broker{
		id:        "PAPER-" + uuid.NewString()[:8],
		cash:      cash,
		prices:    map[string]float64{},
		positions: map[string]*broker.Position{},
		orders:    map[string]*order{},
		now:       now,
	}
}

func (b *Broker) SetPrice(symbol string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[symbol] = price
	if p, ok := b.positions[symbol]; ok {
		p.CurrentPrice = price
	}
}

func (b *Broker) SetPrices(prices map[string]float64) {
	for s, p := range prices {
		b.SetPrice(s, p)
	}
}

// Seed books an existing position without touching cash.
func (b *Broker) Seed(p broker.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := p
	b.positions[p.Symbol] = &cp
}

func (b *Broker) SubmitOrder(_ context.Context, req broker.OrderRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if b.Reject != nil {
		if err := b.Reject(req); err != nil {
			return "", err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	price, ok := b.prices[req.Symbol]
	if !ok || price <= 0 {
		return "", fmt.Errorf("submit order: no price for %q", req.Symbol)
	}

	fill := price * (1 + b.Spread)
	sign := 1.0
	if req.Side == broker.Sell {
		fill = price * (1 - b.Spread)
		sign = -1
	}

	qty := req.Qty
	if req.Notional > 0 {
		qty = req.Notional / fill
	}

	b.applyLocked(req.Symbol, sign*qty, fill, price)

	now := b.now()
	o := &order{Order: broker.Order{
		ID:             uuid.NewString(),
		ClientOrderID:  req.ClientOrderID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Qty:            req.Qty,
		Notional:       req.Notional,
		FilledQty:      qty,
		FilledAvgPrice: fill,
		Status:         broker.StatusFilled,
		SubmittedAt:    now,
		FilledAt:       now,
	}}
	b.orders[o.ID] = o
	return o.ID, nil
}

func (b *Broker) applyLocked(symbol string, qty, fill, mark float64) {
	b.cash -= qty * fill

	p, ok := b.positions[symbol]
	if !ok {
		b.positions[symbol] = &broker.Position{Symbol: symbol, Qty: qty, AvgEntryPrice: fill, CurrentPrice: mark}
		return
	}

	next := p.Qty + qty
	switch {
	case math.Abs(next) < qtyEpsilon:
		delete(b.positions, symbol)
		return
	case p.Qty*qty > 0:
		p.AvgEntryPrice = (p.AvgEntryPrice*p.Qty + fill*qty) / next
	case p.Qty*next < 0:
		// flipped through zero
		p.AvgEntryPrice = fill
	}
	p.Qty = next
	p.CurrentPrice = mark
}

func (b *Broker) GetOrder(_ context.Context, id string) (broker.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[id]
	if !ok {
		return broker.Order{}, fmt.Errorf("get order %q: %w", id, broker.ErrOrderNotFound)
	}
	o.polls++
	if o.polls <= b.FillAfter {
		out := o.Order
		out.Status = broker.StatusAccepted
		out.FilledQty = 0
		out.FilledAvgPrice = 0
		return out, nil
	}
	return o.Order, nil
}

func (b *Broker) GetAccount(context.Context) (broker.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	equity := b.cash
	for _, p := range b.positions {
		equity += p.Qty * p.CurrentPrice
	}
	return broker.Account{ID: b.id, Cash: b.cash, Equity: equity, BuyingPower: b.cash}, nil
}

func (b *Broker) GetPositions(context.Context) ([]broker.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]broker.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// GetClock reports the regular weekday session around now.
func (b *Broker) GetClock(context.Context) (broker.Clock, error) {
	now := b.now()
	today := market.RegularSession(now)
	weekday := isWeekday(today.Day)

	c := broker.Clock{
		Timestamp: now,
		IsOpen:    weekday && today.Contains(now) && now.Before(today.Close),
	}

	next := today
	if !weekday || !now.Before(today.Close) {
		next = nextSession(today.Day)
	}
	c.NextClose = next.Close
	c.NextOpen = next.Open
	if c.IsOpen {
		c.NextOpen = nextSession(today.Day).Open
	}
	return c, nil
}

func nextSession(day time.Time) market.Session {
	d := day.AddDate(0, 0, 1)
	for !isWeekday(d) {
		d = d.AddDate(0, 0, 1)
	}
	return market.RegularSession(d)
}

func isWeekday(d time.Time) bool {
	wd := d.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
