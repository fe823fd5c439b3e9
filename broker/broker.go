package broker

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrOrderNotFound = errors.New("order not found")

// Broker is the live execution venue.
type Broker interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (string, error)
	GetOrder(ctx context.Context, id string) (Order, error)
	GetAccount(ctx context.Context) (Account, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetClock(ctx context.Context) (Clock, error)
}

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// OrderRequest is a market order sized by either Qty or Notional.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Qty           float64
	Notional      float64
	ClientOrderID string
}

func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("order: symbol is required")
	}
	if r.Side != Buy && r.Side != Sell {
		return fmt.Errorf("order: bad side %q", r.Side)
	}
	if (r.Qty > 0) == (r.Notional > 0) {
		return fmt.Errorf("order %s: exactly one of qty or notional must be positive", r.Symbol)
	}
	return nil
}

type OrderStatus string

const (
	StatusNew             OrderStatus = "new"
	StatusAccepted        OrderStatus = "accepted"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCanceled        OrderStatus = "canceled"
	StatusRejected        OrderStatus = "rejected"
	StatusExpired         OrderStatus = "expired"
)

// Final reports whether the order can no longer change.
func (s OrderStatus) Final() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

type Order struct {
	ID             string
	ClientOrderID  string
	Symbol         string
	Side           Side
	Qty            float64
	Notional       float64
	FilledQty      float64
	FilledAvgPrice float64
	Status         OrderStatus
	SubmittedAt    time.Time
	FilledAt       time.Time
}

func (o Order) Filled() bool { return o.Status == StatusFilled }

type Account struct {
	ID          string
	Cash        float64
	Equity      float64
	BuyingPower float64
}

// Position is a broker-side holding. Qty is negative for shorts.
type Position struct {
	Symbol        string
	Qty           float64
	AvgEntryPrice float64
	CurrentPrice  float64
}

type Clock struct {
	Timestamp time.Time
	IsOpen    bool
	NextOpen  time.Time
	NextClose time.Time
}
