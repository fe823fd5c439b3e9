package engine

import (
	"fmt"
	"strings"
	"time"
)

// Mode says whether the engine replays history or trades a live account.
type Mode int

const (
	ModeBacktest Mode = iota
	ModeLive
)

func (m Mode) String() string {
	if m == ModeLive {
		return "live"
	}
	return "backtest"
}

type ActionType int

const (
	BuyToOpen ActionType = iota
	SellToOpen
	BuyToClose
	SellToClose
)

var actionTypeNames = [...]string{"BUY_TO_OPEN", "SELL_TO_OPEN", "BUY_TO_CLOSE", "SELL_TO_CLOSE"}

func (t ActionType) String() string {
	if t < 0 || int(t) >= len(actionTypeNames) {
		return fmt.Sprintf("ActionType(%d)", int(t))
	}
	return actionTypeNames[t]
}

func (t ActionType) IsOpen() bool  { return t == BuyToOpen || t == SellToOpen }
func (t ActionType) IsClose() bool { return t == BuyToClose || t == SellToClose }

// TradingFrequency is how often a processor is invoked.
type TradingFrequency int

const (
	FiveMin TradingFrequency = iota
	CloseToClose
	CloseToOpen
)

func (f TradingFrequency) String() string {
	switch f {
	case FiveMin:
		return "FIVE_MIN"
	case CloseToClose:
		return "CLOSE_TO_CLOSE"
	case CloseToOpen:
		return "CLOSE_TO_OPEN"
	}
	return fmt.Sprintf("TradingFrequency(%d)", int(f))
}

// FrequencySet is the set of frequencies active at a checkpoint.
type FrequencySet uint8

func NewFrequencySet(fs ...TradingFrequency) FrequencySet {
	var s FrequencySet
	for _, f := range fs {
		s = s.With(f)
	}
	return s
}

func (s FrequencySet) With(f TradingFrequency) FrequencySet { return s | 1<<uint(f) }
func (s FrequencySet) Has(f TradingFrequency) bool          { return s&(1<<uint(f)) != 0 }

func (s FrequencySet) String() string {
	var parts []string
	for _, f := range []TradingFrequency{FiveMin, CloseToClose, CloseToOpen} {
		if s.Has(f) {
			parts = append(parts, f.String())
		}
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// ProcessorAction is what a processor proposes for one symbol. Percent
// is the fraction of the position (closes) or of allocatable cash
// (opens) to trade.
type ProcessorAction struct {
	Symbol  string
	Type    ActionType
	Percent float64
}

// Action is a ProcessorAction tagged with its reference price and the
// processor that emitted it.
type Action struct {
	ProcessorAction
	Price     float64
	Processor string
}

func (a Action) String() string {
	return fmt.Sprintf("%s %s %.2f@%.4f (%s)", a.Type, a.Symbol, a.Percent, a.Price, a.Processor)
}

// Position is a holding. Qty is negative for shorts.
type Position struct {
	Symbol     string
	Qty        float64
	EntryPrice float64
	EntryTime  time.Time
	// RefPrice is the theoretical entry price from the opening action;
	// live slippage is measured against it.
	RefPrice float64
}

func (p Position) IsLong() bool { return p.Qty > 0 }
