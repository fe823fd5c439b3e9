package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/stocktrader/broker"
	"github.com/rustyeddy/stocktrader/internal/logger"
	"github.com/rustyeddy/stocktrader/internal/retry"
)

// BidAskSpread is the fraction a simulated close gives up to the spread.
const BidAskSpread = 0.001

// Order is what the ledger asks an Executor to trade. Opens are sized
// by Notional, closes by Qty.
type Order struct {
	Symbol   string
	Type     ActionType
	Qty      float64
	Notional float64
	Price    float64 // reference price
}

// ErrNotFilled marks an order the venue closed out without any fill.
var ErrNotFilled = errors.New("order ended without a fill")

// Fill is the outcome of one Order. Qty is unsigned. Filled is false when
// the venue did not confirm in time; Qty and Price are then estimates.
// A partial fill reports only the filled quantity. Err means nothing
// was traded.
type Fill struct {
	Order
	Qty    float64
	Price  float64
	Filled bool
	Err    error
}

// Executor turns orders into fills. The result is index-aligned with orders.
type Executor interface {
	Execute(ctx context.Context, orders []Order) []Fill
}

// SimExecutor fills instantly at the reference price, except that
// closes pay the bid/ask spread.
type SimExecutor struct {
	Spread float64
}

func (e SimExecutor) Execute(_ context.Context, orders []Order) []Fill {
	fills := make([]Fill, len(orders))
	for i, o := range orders {
		price := o.Price
		switch o.Type {
		case SellToClose:
			price *= 1 - e.Spread
		case BuyToClose:
			price *= 1 + e.Spread
		}
		qty := o.Qty
		if o.Notional > 0 {
			qty = o.Notional / price
		}
		fills[i] = Fill{Order: o, Qty: qty, Price: price, Filled: true}
	}
	return fills
}

// BrokerExecutor submits market orders to a broker, then polls each one
// until it fills or FillTimeout passes.
type BrokerExecutor struct {
	Broker       broker.Broker
	Retry        retry.Policy
	FillTimeout  time.Duration
	PollInterval time.Duration
	Clock        Clock
	Logger       *slog.Logger
}

func (e *BrokerExecutor) Execute(ctx context.Context, orders []Order) []Fill {
	log := logger.Or(e.Logger)
	clock := e.Clock
	if clock == nil {
		clock = WallClock()
	}

	fills := make([]Fill, len(orders))
	ids := make([]string, len(orders))
	for i, o := range orders {
		fills[i].Order = o
		req, err := orderRequest(o)
		if err != nil {
			fills[i].Err = err
			log.Warn("skip order", "symbol", o.Symbol, "type", o.Type, "err", err)
			continue
		}
		id, err := retry.Value(ctx, e.Retry, func(ctx context.Context) (string, error) {
			return e.Broker.SubmitOrder(ctx, req)
		})
		if err != nil {
			fills[i].Err = fmt.Errorf("submit %s %s: %w", o.Type, o.Symbol, err)
			log.Error("submit order", "symbol", o.Symbol, "type", o.Type, "err", err)
			continue
		}
		ids[i] = id
		// estimate until the broker confirms
		fills[i].Qty = req.Qty
		if req.Notional > 0 {
			fills[i].Qty = req.Notional / o.Price
		}
		fills[i].Price = o.Price
	}

	for i, id := range ids {
		if id == "" {
			continue
		}
		ord, ok := e.waitForFill(ctx, clock, log, id)
		if !ok && ord.Status.Final() {
			if ord.FilledQty <= 0 {
				fills[i].Qty, fills[i].Price = 0, 0
				fills[i].Err = fmt.Errorf("order %s %s %s: %w", orders[i].Type, orders[i].Symbol, ord.Status, ErrNotFilled)
				log.Warn("order ended unfilled", "symbol", orders[i].Symbol, "order_id", id, "status", ord.Status)
				continue
			}
			log.Warn("order partially filled", "symbol", orders[i].Symbol, "order_id", id, "status", ord.Status, "filled_qty", ord.FilledQty)
			ok = true
		}
		if !ok {
			log.Warn("order not filled", "symbol", orders[i].Symbol, "order_id", id, "status", ord.Status)
			continue
		}
		fills[i].Filled = true
		fills[i].Qty = ord.FilledQty
		if ord.FilledAvgPrice > 0 {
			fills[i].Price = ord.FilledAvgPrice
		}
	}
	return fills
}

func (e *BrokerExecutor) waitForFill(ctx context.Context, clock Clock, log *slog.Logger, id string) (broker.Order, bool) {
	deadline := clock.Now().Add(e.FillTimeout)
	for {
		ord, err := retry.Value(ctx, e.Retry, func(ctx context.Context) (broker.Order, error) {
			return e.Broker.GetOrder(ctx, id)
		})
		if err != nil {
			log.Error("get order", "order_id", id, "err", err)
			return broker.Order{}, false
		}
		if ord.Filled() {
			return ord, true
		}
		if ord.Status.Final() || !clock.Now().Before(deadline) {
			return ord, false
		}
		if err := clock.Sleep(ctx, e.PollInterval); err != nil {
			return ord, false
		}
	}
}

// orderRequest sizes buy opens by notional rounded down to cents and
// short opens by whole shares.
func orderRequest(o Order) (broker.OrderRequest, error) {
	req := broker.OrderRequest{Symbol: o.Symbol, ClientOrderID: uuid.NewString()}

	switch o.Type {
	case BuyToOpen:
		req.Side = broker.Buy
		req.Notional = decimal.NewFromFloat(o.Notional).Truncate(2).InexactFloat64()
		if req.Notional <= 0 {
			return req, fmt.Errorf("notional %.4f rounds to zero", o.Notional)
		}
	case SellToOpen:
		req.Side = broker.Sell
		if o.Price <= 0 {
			return req, fmt.Errorf("no reference price")
		}
		req.Qty = math.Floor(o.Notional / o.Price)
		if req.Qty <= 0 {
			return req, fmt.Errorf("notional %.2f buys less than one share", o.Notional)
		}
	case BuyToClose:
		req.Side = broker.Buy
		req.Qty = o.Qty
	case SellToClose:
		req.Side = broker.Sell
		req.Qty = o.Qty
	default:
		return req, fmt.Errorf("bad action type %v", o.Type)
	}
	return req, req.Validate()
}
