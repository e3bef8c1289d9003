// Package portfolio owns cash, the per-symbol holdings and the latest market
// snapshot of every subscribed security, and answers buying power queries.
package portfolio

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/coachpo/quantcore/errs"
	"github.com/coachpo/quantcore/internal/fill"
	"github.com/coachpo/quantcore/internal/holding"
	"github.com/coachpo/quantcore/internal/orders"
)

// Portfolio is safe for concurrent use. Holdings are only mutated through
// ApplyFill and UpdateMarket; readers receive copies.
type Portfolio struct {
	mu         sync.RWMutex
	cash       decimal.Decimal
	securities map[string]*entry
	version    uint64
	analytics  Analytics
}

// New creates a portfolio funded with startingCash.
func New(startingCash decimal.Decimal) *Portfolio {
	return &Portfolio{
		cash:       startingCash,
		securities: make(map[string]*entry),
		analytics:  newAnalytics(startingCash),
	}
}

// AddSecurity subscribes a security. Adding a symbol twice replaces its
// configuration but keeps the holding.
func (p *Portfolio) AddSecurity(sec Security) error {
	sec.Symbol = orders.NormalizeSymbol(sec.Symbol)
	if sec.Symbol == "" {
		return errs.New("portfolio", errs.CodeInvalid, errs.WithMessage("security symbol required"))
	}
	if sec.Model == nil {
		sec.Model = fill.NewBaseModel()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.securities[sec.Symbol]; ok {
		existing.security = sec
	} else {
		p.securities[sec.Symbol] = newEntry(sec)
	}
	p.version++
	return nil
}

// Security returns the subscription for symbol.
func (p *Portfolio) Security(symbol string) (Security, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.securities[orders.NormalizeSymbol(symbol)]
	if !ok {
		return Security{}, false
	}
	return e.security, true
}

// Symbols lists subscribed symbols in lexical order.
func (p *Portfolio) Symbols() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.securities))
	for sym := range p.securities {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// UpdateMarket stores the latest market snapshot and marks the holding to market.
func (p *Portfolio) UpdateMarket(snap fill.Snapshot) error {
	symbol := orders.NormalizeSymbol(snap.Symbol)
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.securities[symbol]
	if !ok {
		return errs.New("portfolio", errs.CodeNotFound,
			errs.WithCanonicalCode(errs.CanonicalUnknownSymbol),
			errs.WithField("symbol", symbol))
	}
	snap.Symbol = symbol
	e.market = snap
	e.hasData = true
	e.holding.UpdatePrice(snap.Price)
	p.version++
	p.analytics.observeEquity(p.totalValueLocked())
	return nil
}

// Market returns the latest snapshot for symbol.
func (p *Portfolio) Market(symbol string) (fill.Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.securities[orders.NormalizeSymbol(symbol)]
	if !ok || !e.hasData {
		return fill.Snapshot{}, false
	}
	return e.market, true
}

// CurrentPrice returns the last reference price, zero when none has arrived.
func (p *Portfolio) CurrentPrice(symbol string) decimal.Decimal {
	snap, _ := p.Market(symbol)
	return snap.Price
}

// CurrentBarRange returns the low and high of the last bar, if the last data point was a bar.
func (p *Portfolio) CurrentBarRange(symbol string) (decimal.Decimal, decimal.Decimal, bool) {
	snap, ok := p.Market(symbol)
	if !ok || !snap.HasBar {
		return decimal.Zero, decimal.Zero, false
	}
	return snap.Low, snap.High, true
}

// Leverage returns the configured leverage of symbol, zero if unknown.
func (p *Portfolio) Leverage(symbol string) decimal.Decimal {
	sec, ok := p.Security(symbol)
	if !ok {
		return decimal.Zero
	}
	return sec.Leverage
}

// ApplyFill books an execution against cash and the symbol's holding and
// returns the net profit realized by it.
func (p *Portfolio) ApplyFill(symbol string, quantity int64, price, fee decimal.Decimal) (decimal.Decimal, error) {
	symbol = orders.NormalizeSymbol(symbol)
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.securities[symbol]
	if !ok {
		return decimal.Zero, errs.New("portfolio", errs.CodeNotFound,
			errs.WithCanonicalCode(errs.CanonicalUnknownSymbol),
			errs.WithField("symbol", symbol))
	}
	notional := price.Mul(decimal.NewFromInt(quantity))
	p.cash = p.cash.Sub(notional).Sub(fee)
	net := e.holding.ApplyFill(quantity, price, fee)
	p.version++
	p.analytics.recordFill(quantity, fee)
	p.analytics.observeEquity(p.totalValueLocked())
	return net, nil
}

// Holding returns a snapshot of symbol's holding. Unknown symbols yield an empty snapshot.
func (p *Portfolio) Holding(symbol string) holding.Snapshot {
	symbol = orders.NormalizeSymbol(symbol)
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.securities[symbol]
	if !ok {
		return holding.Snapshot{Symbol: symbol}
	}
	return e.holding.Snapshot()
}

// Holdings returns snapshots of every holding ordered by symbol.
func (p *Portfolio) Holdings() []holding.Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]holding.Snapshot, 0, len(p.securities))
	for _, e := range p.securities {
		out = append(out, e.holding.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Cash returns the settled cash balance.
func (p *Portfolio) Cash() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// Analytics returns a copy of the run statistics.
func (p *Portfolio) Analytics() Analytics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.analytics
}

// Version increments on every mutation; equal versions imply identical state.
func (p *Portfolio) Version() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.version
}
