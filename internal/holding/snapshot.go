package holding

import "github.com/shopspring/decimal"

// Snapshot is a point-in-time copy of a Holding.
type Snapshot struct {
	Symbol           string          `json:"symbol"`
	AveragePrice     decimal.Decimal `json:"average_price"`
	Quantity         int64           `json:"quantity"`
	LastPrice        decimal.Decimal `json:"last_price"`
	RealizedProfit   decimal.Decimal `json:"realized_profit"`
	UnrealizedProfit decimal.Decimal `json:"unrealized_profit"`
	TotalFees        decimal.Decimal `json:"total_fees"`
	TotalSaleVolume  decimal.Decimal `json:"total_sale_volume"`
	LastTradeProfit  decimal.Decimal `json:"last_trade_profit"`
}

func (s Snapshot) HoldingsValue() decimal.Decimal {
	return s.LastPrice.Mul(decimal.NewFromInt(s.Quantity))
}

func (s Snapshot) HoldingsCost() decimal.Decimal {
	return s.AveragePrice.Mul(decimal.NewFromInt(s.Quantity))
}

func (s Snapshot) AbsoluteHoldingsValue() decimal.Decimal { return s.HoldingsValue().Abs() }

func (s Snapshot) NetProfit() decimal.Decimal { return s.RealizedProfit.Sub(s.TotalFees) }

func (s Snapshot) Invested() bool { return s.Quantity != 0 }

func (s Snapshot) IsLong() bool { return s.Quantity > 0 }

func (s Snapshot) IsShort() bool { return s.Quantity < 0 }
