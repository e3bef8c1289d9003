package portfolio

import (
	"github.com/shopspring/decimal"

	"github.com/coachpo/quantcore/internal/holding"
	"github.com/coachpo/quantcore/internal/orders"
)

// Totals aggregates the holdings.
type Totals struct {
	Cash             decimal.Decimal `json:"cash"`
	HoldingsValue    decimal.Decimal `json:"holdings_value"`
	UnrealizedProfit decimal.Decimal `json:"unrealized_profit"`
	RealizedProfit   decimal.Decimal `json:"realized_profit"`
	Fees             decimal.Decimal `json:"fees"`
	SaleVolume       decimal.Decimal `json:"sale_volume"`
	PortfolioValue   decimal.Decimal `json:"portfolio_value"`
	MarginUsed       decimal.Decimal `json:"margin_used"`
	MarginRemaining  decimal.Decimal `json:"margin_remaining"`
	Version          uint64          `json:"version"`
}

// Totals returns a consistent aggregate view of the portfolio.
func (p *Portfolio) Totals() Totals {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t := Totals{
		Cash:             p.cash,
		HoldingsValue:    decimal.Zero,
		UnrealizedProfit: decimal.Zero,
		RealizedProfit:   decimal.Zero,
		Fees:             decimal.Zero,
		SaleVolume:       decimal.Zero,
		Version:          p.version,
	}
	for _, e := range p.securities {
		s := e.holding.Snapshot()
		t.HoldingsValue = t.HoldingsValue.Add(s.AbsoluteHoldingsValue())
		t.UnrealizedProfit = t.UnrealizedProfit.Add(s.UnrealizedProfit)
		t.RealizedProfit = t.RealizedProfit.Add(s.RealizedProfit)
		t.Fees = t.Fees.Add(s.TotalFees)
		t.SaleVolume = t.SaleVolume.Add(s.TotalSaleVolume)
	}
	t.PortfolioValue = p.totalValueLocked()
	t.MarginUsed = p.marginUsedLocked()
	t.MarginRemaining = t.PortfolioValue.Sub(t.MarginUsed)
	return t
}

// TotalHoldingsValue is the sum of absolute holdings values.
func (p *Portfolio) TotalHoldingsValue() decimal.Decimal { return p.Totals().HoldingsValue }

// TotalPortfolioValue is cash plus the signed market value of every holding.
func (p *Portfolio) TotalPortfolioValue() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalValueLocked()
}

// BuyingPower returns the capital available to an order on symbol in the
// given direction, expressed in margin (post-leverage) terms. Orders that
// reduce or reverse the current position may also use the margin released by
// closing it.
func (p *Portfolio) BuyingPower(symbol string, direction orders.Direction) decimal.Decimal {
	amount, _ := p.BuyingPowerAt(symbol, direction)
	return amount
}

// BuyingPowerAt is BuyingPower together with the portfolio version it was computed at.
func (p *Portfolio) BuyingPowerAt(symbol string, direction orders.Direction) (decimal.Decimal, uint64) {
	symbol = orders.NormalizeSymbol(symbol)
	p.mu.RLock()
	defer p.mu.RUnlock()
	free := p.totalValueLocked().Sub(p.marginUsedLocked())
	if free.IsNegative() {
		free = decimal.Zero
	}
	e, ok := p.securities[symbol]
	if !ok || direction == orders.DirectionHold {
		return free, p.version
	}
	q := e.holding.Quantity()
	opposing := (q > 0 && direction == orders.DirectionSell) || (q < 0 && direction == orders.DirectionBuy)
	if opposing && e.security.Leverage.IsPositive() {
		released := e.holding.HoldingsValue().Abs().Div(e.security.Leverage)
		free = free.Add(released.Mul(decimal.NewFromInt(2)))
	}
	return free, p.version
}

func (p *Portfolio) totalValueLocked() decimal.Decimal {
	total := p.cash
	for _, e := range p.securities {
		total = total.Add(e.holding.HoldingsValue())
	}
	return total
}

func (p *Portfolio) marginUsedLocked() decimal.Decimal {
	used := decimal.Zero
	for _, e := range p.securities {
		if !e.security.Leverage.IsPositive() {
			continue
		}
		used = used.Add(e.holding.HoldingsValue().Abs().Div(e.security.Leverage))
	}
	return used
}

// Invested returns snapshots of every non-flat holding.
func (p *Portfolio) Invested() []holding.Snapshot {
	all := p.Holdings()
	out := all[:0]
	for _, h := range all {
		if h.Invested() {
			out = append(out, h)
		}
	}
	return out
}
