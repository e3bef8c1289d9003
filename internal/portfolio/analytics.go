package portfolio

import (
	"github.com/shopspring/decimal"
)

// Analytics captures cumulative performance statistics for a run.
type Analytics struct {
	FilledOrders int             `json:"filled_orders"`
	TotalVolume  decimal.Decimal `json:"total_volume"`
	Fees         decimal.Decimal `json:"fees"`
	PeakEquity   decimal.Decimal `json:"peak_equity"`
	MaxDrawdown  decimal.Decimal `json:"max_drawdown"`
}

func newAnalytics(start decimal.Decimal) Analytics {
	return Analytics{
		TotalVolume: decimal.Zero,
		Fees:        decimal.Zero,
		PeakEquity:  start,
		MaxDrawdown: decimal.Zero,
	}
}

func (a *Analytics) recordFill(quantity int64, fee decimal.Decimal) {
	if quantity < 0 {
		quantity = -quantity
	}
	a.FilledOrders++
	a.TotalVolume = a.TotalVolume.Add(decimal.NewFromInt(quantity))
	a.Fees = a.Fees.Add(fee)
}

func (a *Analytics) observeEquity(equity decimal.Decimal) {
	if equity.GreaterThan(a.PeakEquity) {
		a.PeakEquity = equity
	}
	drawdown := a.PeakEquity.Sub(equity)
	if drawdown.GreaterThan(a.MaxDrawdown) {
		a.MaxDrawdown = drawdown
	}
}
