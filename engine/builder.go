package engine

import (
	"log/slog"
	"time"

	"github.com/rustyeddy/stocktrader/internal/logger"
	"github.com/rustyeddy/stocktrader/market"
)

// Builder slices bar history into per-checkpoint Contexts. Interday
// slices and their volatility stats are memoized until the next Reset.
type Builder struct {
	mode     Mode
	session  market.Session
	interday map[string]market.Series
	intraday map[string]market.Series
	memo     map[string]interdayMemo
	log      *slog.Logger
}

type interdayMemo struct {
	bars market.Series
	vol  Volatility
}

func NewBuilder(mode Mode, log *slog.Logger) *Builder {
	return &Builder{
		mode:     mode,
		interday: map[string]market.Series{},
		intraday: map[string]market.Series{},
		memo:     map[string]interdayMemo{},
		log:      logger.Or(log),
	}
}

// Reset starts a new session. The maps are held, not copied.
func (b *Builder) Reset(session market.Session, interday, intraday map[string]market.Series) {
	b.session = session
	b.interday = interday
	b.intraday = intraday
	if b.interday == nil {
		b.interday = map[string]market.Series{}
	}
	if b.intraday == nil {
		b.intraday = map[string]market.Series{}
	}
	b.memo = map[string]interdayMemo{}
}

// SetIntraday replaces the intraday series for one symbol.
func (b *Builder) SetIntraday(symbol string, s market.Series) {
	b.intraday[symbol] = s
}

func (b *Builder) Intraday(symbol string) market.Series {
	return b.intraday[symbol]
}

// Build returns the Context for symbol at t. ok is false when the
// symbol has no interday history or no intraday bars before t.
func (b *Builder) Build(symbol string, t time.Time) (c *Context, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("build context", "symbol", symbol, "time", t, "panic", r)
			c, ok = nil, false
		}
	}()

	m, found := b.memo[symbol]
	if !found {
		bars := b.interday[symbol].Before(b.session.Day)
		m = interdayMemo{bars: bars, vol: ComputeVolatility(bars)}
		b.memo[symbol] = m
	}
	if len(m.bars) == 0 {
		return nil, false
	}

	intraday := b.intraday[symbol].Before(t)
	if len(intraday) == 0 {
		return nil, false
	}
	return newContext(symbol, t, b.mode, m.bars, intraday, m.vol), true
}

// BuildAll builds contexts for every symbol that has data at t.
func (b *Builder) BuildAll(symbols []string, t time.Time) map[string]*Context {
	out := make(map[string]*Context, len(symbols))
	for _, s := range symbols {
		if c, ok := b.Build(s, t); ok {
			out[s] = c
		}
	}
	return out
}
