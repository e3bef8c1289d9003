package fill

import (
	"github.com/shopspring/decimal"

	"github.com/coachpo/quantcore/internal/orders"
)

// SlippageModel estimates the price impact of executing an order.
type SlippageModel interface {
	Adjust(snap Snapshot, order orders.Order) decimal.Decimal
}

// BasisPointSlippage estimates impact as a fixed BPS share of the reference price.
type BasisPointSlippage struct {
	BPS decimal.Decimal
}

// Adjust implements SlippageModel.
func (b BasisPointSlippage) Adjust(snap Snapshot, order orders.Order) decimal.Decimal {
	if b.BPS.LessThanOrEqual(decimal.Zero) || order.Type != orders.TypeMarket {
		return decimal.Zero
	}
	return snap.Price.Mul(b.BPS.Div(decimal.NewFromInt(10_000)))
}

// FeeModel evaluates trading fees for executed fills.
type FeeModel interface {
	Fee(quantity int64, price decimal.Decimal) decimal.Decimal
}

// ProportionalFee charges a share of the traded notional.
type ProportionalFee struct {
	Rate decimal.Decimal
}

// Fee implements FeeModel.
func (p ProportionalFee) Fee(quantity int64, price decimal.Decimal) decimal.Decimal {
	if quantity == 0 || price.LessThanOrEqual(decimal.Zero) || p.Rate.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return decimal.NewFromInt(absQty(quantity)).Mul(price).Mul(p.Rate)
}

// PerShareFee charges a fixed amount per share with a per-order minimum.
type PerShareFee struct {
	PerShare decimal.Decimal
	Minimum  decimal.Decimal
}

// DefaultEquityFee is the common retail equity schedule of half a cent per share, one dollar minimum.
var DefaultEquityFee = PerShareFee{
	PerShare: decimal.RequireFromString("0.005"),
	Minimum:  decimal.NewFromInt(1),
}

// Fee implements FeeModel.
func (p PerShareFee) Fee(quantity int64, _ decimal.Decimal) decimal.Decimal {
	if quantity == 0 {
		return decimal.Zero
	}
	fee := decimal.NewFromInt(absQty(quantity)).Mul(p.PerShare)
	if fee.LessThan(p.Minimum) {
		return p.Minimum
	}
	return fee
}

func absQty(q int64) int64 {
	if q < 0 {
		return -q
	}
	return q
}
