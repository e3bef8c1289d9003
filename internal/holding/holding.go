// Package holding tracks the net position and running profit of a single symbol.
package holding

import (
	"github.com/shopspring/decimal"
)

// FeeFunc estimates the fee charged to trade quantity shares at price.
type FeeFunc func(quantity int64, price decimal.Decimal) decimal.Decimal

// Holding is the live position record for one symbol. It is not safe for
// concurrent use; the portfolio serialises access and hands out Snapshots.
type Holding struct {
	symbol          string
	averagePrice    decimal.Decimal
	quantity        int64
	lastPrice       decimal.Decimal
	realizedProfit  decimal.Decimal
	totalFees       decimal.Decimal
	totalSaleVolume decimal.Decimal
	lastTradeProfit decimal.Decimal
	closeFee        FeeFunc
}

// New returns an empty holding. closeFee may be nil.
func New(symbol string, closeFee FeeFunc) *Holding {
	return &Holding{symbol: symbol, closeFee: closeFee}
}

// Symbol returns the held ticker.
func (h *Holding) Symbol() string { return h.symbol }

// Quantity returns the signed net position.
func (h *Holding) Quantity() int64 { return h.quantity }

// AveragePrice returns the volume weighted acquisition price of the open position.
func (h *Holding) AveragePrice() decimal.Decimal { return h.averagePrice }

// LastPrice returns the most recent mark.
func (h *Holding) LastPrice() decimal.Decimal { return h.lastPrice }

// UpdatePrice marks the holding to market.
func (h *Holding) UpdatePrice(price decimal.Decimal) {
	if price.LessThanOrEqual(decimal.Zero) {
		return
	}
	h.lastPrice = price
}

// ApplyFill books an execution of signed quantity at price, charging fee.
// It returns the profit realized by the fill, net of fee; opening fills
// realize only the negative fee.
func (h *Holding) ApplyFill(quantity int64, price, fee decimal.Decimal) decimal.Decimal {
	if quantity == 0 {
		return decimal.Zero
	}
	h.totalFees = h.totalFees.Add(fee)
	h.totalSaleVolume = h.totalSaleVolume.Add(price.Mul(decimal.NewFromInt(abs(quantity))))
	h.lastPrice = price

	realized := decimal.Zero
	switch {
	case h.quantity == 0 || sameSign(h.quantity, quantity):
		held := decimal.NewFromInt(abs(h.quantity))
		added := decimal.NewFromInt(abs(quantity))
		cost := h.averagePrice.Mul(held).Add(price.Mul(added))
		h.averagePrice = cost.Div(held.Add(added))
		h.quantity += quantity
	default:
		closed := min(abs(quantity), abs(h.quantity))
		realized = price.Sub(h.averagePrice).Mul(decimal.NewFromInt(closed))
		if h.quantity < 0 {
			realized = realized.Neg()
		}
		h.realizedProfit = h.realizedProfit.Add(realized)
		remaining := h.quantity + quantity
		switch {
		case remaining == 0:
			h.averagePrice = decimal.Zero
		case !sameSign(remaining, h.quantity):
			// position flipped; the excess opens at the fill price
			h.averagePrice = price
		}
		h.quantity = remaining
	}

	net := realized.Sub(fee)
	h.lastTradeProfit = net
	return net
}

// UnrealizedProfit is the profit of closing the whole position at the last price.
func (h *Holding) UnrealizedProfit() decimal.Decimal {
	if h.quantity == 0 {
		return decimal.Zero
	}
	gross := h.lastPrice.Sub(h.averagePrice).Mul(decimal.NewFromInt(h.quantity))
	if h.closeFee != nil {
		gross = gross.Sub(h.closeFee(abs(h.quantity), h.lastPrice))
	}
	return gross
}

// HoldingsValue is lastPrice times the signed quantity.
func (h *Holding) HoldingsValue() decimal.Decimal {
	return h.lastPrice.Mul(decimal.NewFromInt(h.quantity))
}

// Snapshot returns an immutable copy for readers outside the fill pipeline.
func (h *Holding) Snapshot() Snapshot {
	return Snapshot{
		Symbol:           h.symbol,
		AveragePrice:     h.averagePrice,
		Quantity:         h.quantity,
		LastPrice:        h.lastPrice,
		RealizedProfit:   h.realizedProfit,
		UnrealizedProfit: h.UnrealizedProfit(),
		TotalFees:        h.totalFees,
		TotalSaleVolume:  h.totalSaleVolume,
		LastTradeProfit:  h.lastTradeProfit,
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
