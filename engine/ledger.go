package engine

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/rustyeddy/stocktrader/internal/id"
	"github.com/rustyeddy/stocktrader/internal/logger"
	"github.com/rustyeddy/stocktrader/journal"
)

const (
	// PositionEpsilon is the smallest qty still treated as a position.
	PositionEpsilon = 1e-7
	// ShortReserveRatio is the margin held back on top of short notional.
	ShortReserveRatio = 1.0
	// MinOpenFraction of equity is the smallest open worth placing.
	MinOpenFraction = 0.01
)

type LedgerConfig struct {
	Mode              Mode
	ShortReserveRatio float64
	MinOpenFraction   float64
	// CashReserve is cash never allocated to opens.
	CashReserve float64
	Executor    Executor
	Logger      *slog.Logger
	// BeforeOpen runs between the close and open passes of Apply, e.g.
	// to refresh cash from the broker.
	BeforeOpen func(ctx context.Context) error
}

// DefaultLedgerConfig is the backtest configuration.
func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		Mode:              ModeBacktest,
		ShortReserveRatio: ShortReserveRatio,
		MinOpenFraction:   MinOpenFraction,
		Executor:          SimExecutor{Spread: BidAskSpread},
	}
}

// Ledger owns positions and cash. It is not safe for concurrent use;
// only the scheduling goroutine touches it.
type Ledger struct {
	cfg       LedgerConfig
	cash      float64
	positions map[string]*Position
	marks     map[string]float64
	wins      int
	losses    int
	log       *slog.Logger
}

func NewLedger(cash float64, cfg LedgerConfig) *Ledger {
	if cfg.Executor == nil {
		cfg.Executor = SimExecutor{Spread: BidAskSpread}
	}
	return &Ledger{
		cfg:       cfg,
		cash:      cash,
		positions: map[string]*Position{},
		marks:     map[string]float64{},
		log:       logger.Or(cfg.Logger),
	}
}

func (l *Ledger) Cash() float64 { return l.cash }

// Equity is cash plus every position at its last known price.
func (l *Ledger) Equity() float64 {
	eq := l.cash
	for sym, p := range l.positions {
		price, ok := l.marks[sym]
		if !ok {
			price = p.EntryPrice
		}
		eq += p.Qty * price
	}
	return eq
}

// Allocatable is the cash available to opens after the cash reserve and
// the margin held against shorts.
func (l *Ledger) Allocatable() float64 {
	reserved := 0.0
	for _, p := range l.positions {
		if p.Qty < 0 {
			reserved += p.EntryPrice * -p.Qty * (1 + l.cfg.ShortReserveRatio)
		}
	}
	return l.cash - l.cfg.CashReserve - reserved
}

func (l *Ledger) Position(symbol string) (Position, bool) {
	p, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Positions returns a copy sorted by symbol.
func (l *Ledger) Positions() []Position {
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// WinsLosses counts closes with positive and negative gl.
func (l *Ledger) WinsLosses() (int, int) { return l.wins, l.losses }

// Mark records the latest prices.
func (l *Ledger) Mark(prices map[string]float64) {
	for s, p := range prices {
		if p > 0 {
			l.marks[s] = p
		}
	}
}

// Sync replaces cash and positions with the broker's view. Entry time
// and reference price survive for positions still on the same side.
func (l *Ledger) Sync(now time.Time, cash float64, positions []Position) {
	next := make(map[string]*Position, len(positions))
	for _, p := range positions {
		if math.Abs(p.Qty) < PositionEpsilon {
			continue
		}
		cp := p
		if old, ok := l.positions[p.Symbol]; ok && old.Qty*p.Qty > 0 {
			cp.EntryTime = old.EntryTime
			if cp.RefPrice == 0 {
				cp.RefPrice = old.RefPrice
			}
		}
		if cp.EntryTime.IsZero() {
			cp.EntryTime = now
		}
		if cp.RefPrice == 0 {
			cp.RefPrice = cp.EntryPrice
		}
		next[p.Symbol] = &cp
	}
	l.cash = cash
	l.positions = next
}

// Result is what one Apply pass did.
type Result struct {
	Transactions []journal.Transaction
	Opened       []Action
	Conflicts    []Action
}

// Apply resolves actions and runs closes strictly before opens so freed
// cash can fund the opens.
func (l *Ledger) Apply(ctx context.Context, now time.Time, actions []Action) Result {
	r := Resolve(actions)
	for _, a := range r.Conflicts {
		l.log.Warn("conflicting open actions, skipping", "symbol", a.Symbol, "type", a.Type, "processor", a.Processor)
	}

	res := Result{Conflicts: r.Conflicts}
	res.Transactions = l.Close(ctx, now, r.Closes)
	if len(r.Opens) > 0 && l.cfg.BeforeOpen != nil {
		if err := l.cfg.BeforeOpen(ctx); err != nil {
			l.log.Error("refresh before open", "err", err)
		}
	}
	res.Opened = l.Open(ctx, now, r.Opens)
	return res
}

// Close applies close actions. Closing a flat symbol or the wrong side
// is a logged no-op.
func (l *Ledger) Close(ctx context.Context, now time.Time, actions []Action) []journal.Transaction {
	var (
		orders []Order
		acts   []Action
	)
	for _, a := range actions {
		if !a.Type.IsClose() {
			l.log.Warn("not a close action", "action", a.String())
			continue
		}
		pos, ok := l.positions[a.Symbol]
		if !ok {
			l.log.Info("close without position", "symbol", a.Symbol, "processor", a.Processor)
			continue
		}
		if (a.Type == SellToClose) != pos.IsLong() {
			l.log.Info("close on wrong side", "symbol", a.Symbol, "type", a.Type, "qty", pos.Qty)
			continue
		}
		orders = append(orders, Order{
			Symbol: a.Symbol,
			Type:   a.Type,
			Qty:    math.Abs(pos.Qty) * a.Percent,
			Price:  a.Price,
		})
		acts = append(acts, a)
	}
	if len(orders) == 0 {
		return nil
	}

	var out []journal.Transaction
	for i, f := range l.cfg.Executor.Execute(ctx, orders) {
		if f.Err != nil {
			l.log.Error("close failed", "symbol", f.Symbol, "err", f.Err)
			continue
		}
		if t, ok := l.applyClose(now, acts[i], f); ok {
			out = append(out, t)
		}
	}
	return out
}

func (l *Ledger) applyClose(now time.Time, a Action, f Fill) (journal.Transaction, bool) {
	pos, ok := l.positions[a.Symbol]
	if !ok || f.Qty <= 0 || f.Price <= 0 {
		return journal.Transaction{}, false
	}

	sign := 1.0
	if !pos.IsLong() {
		sign = -1
	}
	qty := math.Min(f.Qty, math.Abs(pos.Qty))

	l.cash += f.Price * qty * sign
	l.marks[a.Symbol] = a.Price

	glPct := (f.Price/pos.EntryPrice - 1) * sign
	t := journal.Transaction{
		ID:         id.At(now),
		Symbol:     a.Symbol,
		IsLong:     pos.IsLong(),
		Processor:  a.Processor,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  f.Price,
		EntryTime:  pos.EntryTime,
		ExitTime:   now,
		Qty:        qty,
		GL:         glPct * qty * pos.EntryPrice,
		GLPct:      glPct,
	}
	if l.cfg.Mode == ModeLive && pos.RefPrice > 0 {
		theory := (a.Price/pos.RefPrice - 1) * sign
		slipPct := glPct - theory
		slip := slipPct * qty * pos.EntryPrice
		t.SlippagePct = &slipPct
		t.Slippage = &slip
	}

	if rest := pos.Qty - sign*qty; math.Abs(rest) < PositionEpsilon {
		delete(l.positions, a.Symbol)
	} else {
		pos.Qty = rest
	}

	switch {
	case t.GL > 0:
		l.wins++
	case t.GL < 0:
		l.losses++
	}
	l.log.Info("closed", "symbol", t.Symbol, "qty", qty, "price", f.Price, "gl", t.GL, "processor", a.Processor, "filled", f.Filled)
	return t, true
}

// Open applies open actions and returns those that traded. Each action
// gets min(allocatable/len(actions), allocatable*percent).
func (l *Ledger) Open(ctx context.Context, now time.Time, actions []Action) []Action {
	var opens []Action
	for _, a := range actions {
		if a.Type.IsOpen() {
			opens = append(opens, a)
		}
	}
	if len(opens) == 0 {
		return nil
	}

	allocatable := l.Allocatable()
	minNotional := l.Equity() * l.cfg.MinOpenFraction
	split := allocatable / float64(len(opens))

	var (
		orders []Order
		acts   []Action
	)
	for _, a := range opens {
		if a.Price <= 0 {
			l.log.Warn("open without price", "symbol", a.Symbol)
			continue
		}
		if pos, ok := l.positions[a.Symbol]; ok && pos.IsLong() != (a.Type == BuyToOpen) {
			l.log.Info("open against held side", "symbol", a.Symbol, "type", a.Type, "qty", pos.Qty)
			continue
		}
		notional := math.Min(split, allocatable*a.Percent)
		if notional <= 0 || notional < minNotional {
			l.log.Info("open below minimum", "symbol", a.Symbol, "notional", notional, "min", minNotional)
			continue
		}
		orders = append(orders, Order{Symbol: a.Symbol, Type: a.Type, Notional: notional, Price: a.Price})
		acts = append(acts, a)
	}
	if len(orders) == 0 {
		return nil
	}

	var opened []Action
	for i, f := range l.cfg.Executor.Execute(ctx, orders) {
		if f.Err != nil {
			l.log.Error("open failed", "symbol", f.Symbol, "err", f.Err)
			continue
		}
		if f.Qty <= 0 || f.Price <= 0 {
			continue
		}
		l.applyOpen(now, acts[i], f)
		opened = append(opened, acts[i])
	}
	return opened
}

func (l *Ledger) applyOpen(now time.Time, a Action, f Fill) {
	qty := f.Qty
	if a.Type == SellToOpen {
		qty = -qty
	}

	l.cash -= f.Price * qty
	l.marks[a.Symbol] = a.Price

	pos, ok := l.positions[a.Symbol]
	if !ok {
		l.positions[a.Symbol] = &Position{
			Symbol:     a.Symbol,
			Qty:        qty,
			EntryPrice: f.Price,
			EntryTime:  now,
			RefPrice:   a.Price,
		}
	} else {
		total := pos.Qty + qty
		pos.EntryPrice = (pos.EntryPrice*pos.Qty + f.Price*qty) / total
		pos.RefPrice = (pos.RefPrice*pos.Qty + a.Price*qty) / total
		pos.Qty = total
	}
	l.log.Info("opened", "symbol", a.Symbol, "type", a.Type, "qty", f.Qty, "price", f.Price, "processor", a.Processor, "filled", f.Filled)
}
