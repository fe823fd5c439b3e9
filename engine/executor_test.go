package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/stocktrader/broker"
	"github.com/rustyeddy/stocktrader/broker/paper"
	"github.com/rustyeddy/stocktrader/internal/logger"
	"github.com/rustyeddy/stocktrader/internal/retry"
)

func TestSimExecutor(t *testing.T) {
	t.Parallel()

	fills := SimExecutor{Spread: 0.01}.Execute(context.Background(), []Order{
		{Symbol: "AAA", Type: BuyToOpen, Notional: 1000, Price: 100},
		{Symbol: "BBB", Type: SellToClose, Qty: 5, Price: 100},
		{Symbol: "CCC", Type: BuyToClose, Qty: 5, Price: 100},
	})
	require.Len(t, fills, 3)
	assert.InDelta(t, 10, fills[0].Qty, 1e-9)
	assert.Equal(t, 100.0, fills[0].Price)
	assert.InDelta(t, 99, fills[1].Price, 1e-9)
	assert.InDelta(t, 101, fills[2].Price, 1e-9)
	assert.Equal(t, 5.0, fills[2].Qty)
	for _, f := range fills {
		assert.True(t, f.Filled)
	}
}

func TestOrderRequest(t *testing.T) {
	t.Parallel()

	req, err := orderRequest(Order{Symbol: "AAA", Type: BuyToOpen, Notional: 123.456, Price: 10})
	require.NoError(t, err)
	assert.Equal(t, broker.Buy, req.Side)
	assert.Equal(t, 123.45, req.Notional)
	assert.Zero(t, req.Qty)
	assert.NotEmpty(t, req.ClientOrderID)

	req, err = orderRequest(Order{Symbol: "AAA", Type: SellToOpen, Notional: 1000, Price: 33})
	require.NoError(t, err)
	assert.Equal(t, broker.Sell, req.Side)
	assert.Equal(t, 30.0, req.Qty)

	req, err = orderRequest(Order{Symbol: "AAA", Type: BuyToClose, Qty: 2.5})
	require.NoError(t, err)
	assert.Equal(t, broker.Buy, req.Side)
	assert.Equal(t, 2.5, req.Qty)

	_, err = orderRequest(Order{Symbol: "AAA", Type: SellToOpen, Notional: 10, Price: 33})
	assert.Error(t, err)
	_, err = orderRequest(Order{Symbol: "AAA", Type: BuyToOpen, Notional: 0.004, Price: 33})
	assert.Error(t, err)
}

func brokerExecutor(b broker.Broker, clock Clock) *BrokerExecutor {
	return &BrokerExecutor{
		Broker:       b,
		Retry:        retry.Policy{Attempts: 1},
		FillTimeout:  10 * time.Second,
		PollInterval: 2 * time.Second,
		Clock:        clock,
		Logger:       logger.Discard(),
	}
}

func TestBrokerExecutorFills(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: t0}
	pb := paper.New(10000, clock.Now)
	pb.SetPrice("AAA", 50)
	pb.FillAfter = 2

	fills := brokerExecutor(pb, clock).Execute(context.Background(), []Order{
		{Symbol: "AAA", Type: BuyToOpen, Notional: 500, Price: 49},
	})
	require.Len(t, fills, 1)
	f := fills[0]
	require.NoError(t, f.Err)
	assert.True(t, f.Filled)
	assert.InDelta(t, 10, f.Qty, 1e-9)
	assert.Equal(t, 50.0, f.Price)
	assert.Equal(t, t0.Add(4*time.Second), clock.Now(), "polled twice before the fill")
}

func TestBrokerExecutorTimeoutKeepsEstimate(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: t0}
	pb := paper.New(10000, clock.Now)
	pb.SetPrice("AAA", 50)
	pb.FillAfter = 1000

	fills := brokerExecutor(pb, clock).Execute(context.Background(), []Order{
		{Symbol: "AAA", Type: BuyToOpen, Notional: 500, Price: 50},
	})
	f := fills[0]
	require.NoError(t, f.Err)
	assert.False(t, f.Filled)
	assert.InDelta(t, 10, f.Qty, 1e-9)
	assert.Equal(t, 50.0, f.Price)
	assert.False(t, clock.Now().Before(t0.Add(10*time.Second)))
}

func TestBrokerExecutorRejected(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: t0}
	pb := paper.New(10000, clock.Now)
	pb.SetPrice("AAA", 50)
	pb.Reject = func(broker.OrderRequest) error { return errors.New("insufficient buying power") }

	fills := brokerExecutor(pb, clock).Execute(context.Background(), []Order{
		{Symbol: "AAA", Type: BuyToOpen, Notional: 500, Price: 50},
		{Symbol: "AAA", Type: SellToOpen, Notional: 1, Price: 50},
	})
	require.Len(t, fills, 2)
	assert.ErrorContains(t, fills[0].Err, "insufficient buying power")
	assert.Error(t, fills[1].Err)
}

func TestLedgerWithBrokerExecutor(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: t0}
	pb := paper.New(1000, clock.Now)
	pb.SetPrice("AAA", 10)

	l := testLedger(1000, func(c *LedgerConfig) {
		c.Mode = ModeLive
		c.Executor = brokerExecutor(pb, clock)
	})
	res := l.Apply(context.Background(), t0, []Action{act("AAA", BuyToOpen, 0.5, "p")})
	require.Len(t, res.Opened, 1)

	p, ok := l.Position("AAA")
	require.True(t, ok)
	assert.InDelta(t, 50, p.Qty, 1e-9)

	pb.SetPrice("AAA", 11)
	res = l.Apply(context.Background(), t1, []Action{act("AAA", SellToClose, 1, "p").withPrice(11)})
	require.Len(t, res.Transactions, 1)
	assert.InDelta(t, 50, res.Transactions[0].GL, 1e-9)

	acct, err := pb.GetAccount(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, acct.Cash, l.Cash(), 1e-9)
}

// endedBroker accepts every order, then reports it ended with status.
type endedBroker struct {
	*paper.Broker
	status    broker.OrderStatus
	filledQty float64
	price     float64
}

func (b *endedBroker) GetOrder(_ context.Context, id string) (broker.Order, error) {
	return broker.Order{ID: id, Status: b.status, FilledQty: b.filledQty, FilledAvgPrice: b.price}, nil
}

func TestBrokerExecutorEndedUnfilled(t *testing.T) {
	t.Parallel()

	for _, status := range []broker.OrderStatus{broker.StatusCanceled, broker.StatusRejected, broker.StatusExpired} {
		t.Run(string(status), func(t *testing.T) {
			clock := &fakeClock{now: t0}
			pb := paper.New(10000, clock.Now)
			pb.SetPrice("AAA", 100)
			b := &endedBroker{Broker: pb, status: status}

			fills := brokerExecutor(b, clock).Execute(context.Background(), []Order{
				{Symbol: "AAA", Type: SellToClose, Qty: 10, Price: 101},
			})
			require.Len(t, fills, 1)
			assert.ErrorIs(t, fills[0].Err, ErrNotFilled)
			assert.False(t, fills[0].Filled)
			assert.Zero(t, fills[0].Qty)
			assert.Equal(t, t0, clock.Now(), "no polling once the order is final")
		})
	}
}

func TestLedgerIgnoresCanceledClose(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: t0}
	pb := paper.New(1000, clock.Now)
	pb.SetPrice("AAA", 101)
	b := &endedBroker{Broker: pb, status: broker.StatusCanceled}

	l := testLedger(0, func(c *LedgerConfig) {
		c.Mode = ModeLive
		c.Executor = brokerExecutor(b, clock)
	})
	open(l, t0, "AAA", BuyToOpen, 10, 100)
	cash := l.Cash()

	txns := l.Close(context.Background(), t1, []Action{act("AAA", SellToClose, 1, "p").withPrice(101)})
	assert.Empty(t, txns)
	p, ok := l.Position("AAA")
	require.True(t, ok)
	assert.InDelta(t, 10, p.Qty, 1e-9)
	assert.Equal(t, cash, l.Cash())
}

func TestLedgerBooksPartialFillOfCanceledClose(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: t0}
	pb := paper.New(1000, clock.Now)
	pb.SetPrice("AAA", 102)
	b := &endedBroker{Broker: pb, status: broker.StatusCanceled, filledQty: 4, price: 102}

	l := testLedger(0, func(c *LedgerConfig) {
		c.Mode = ModeLive
		c.Executor = brokerExecutor(b, clock)
	})
	open(l, t0, "AAA", BuyToOpen, 10, 100)

	txns := l.Close(context.Background(), t1, []Action{act("AAA", SellToClose, 1, "p").withPrice(102)})
	require.Len(t, txns, 1)
	assert.InDelta(t, 4, txns[0].Qty, 1e-9)
	assert.InDelta(t, 8, txns[0].GL, 1e-9)
	p, ok := l.Position("AAA")
	require.True(t, ok)
	assert.InDelta(t, 6, p.Qty, 1e-9)
}
